// Package tasks provides request-scoped, memoized units of work. A task
// runs at most once per (Context, input) pair, no matter how many
// middlewares or handlers ask for it, and every run shares the
// Context's cancellation.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type None = struct{}

/////////////////////////////////////////////////////////////////////
/////// TASKS
/////////////////////////////////////////////////////////////////////

var taskCount atomic.Uint64

type Task[I comparable, O any] struct {
	id uint64
	fn func(*Context, I) (O, error)
}

func NewTask[I comparable, O any](fn func(*Context, I) (O, error)) *Task[I, O] {
	return &Task[I, O]{id: taskCount.Add(1), fn: fn}
}

/////////////////////////////////////////////////////////////////////
/////// CONTEXT
/////////////////////////////////////////////////////////////////////

type resultKey struct {
	taskID uint64
	input  any
}

type result struct {
	once sync.Once
	data any
	err  error
}

// Context memoizes task results. It is safe for concurrent use.
type Context struct {
	mu      sync.Mutex
	results map[resultKey]*result

	context context.Context
	cancel  context.CancelFunc
}

func NewContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		results: make(map[resultKey]*result),
		context: ctx,
		cancel:  cancel,
	}
}

func (c *Context) Native() context.Context { return c.context }

// Cancel cancels the native context. Tasks that have not finished
// report the cancellation error.
func (c *Context) Cancel() { c.cancel() }

func (c *Context) getResult(key resultKey) *result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.results[key]; ok {
		return r
	}
	r := new(result)
	c.results[key] = r
	return r
}

/////////////////////////////////////////////////////////////////////
/////// DO & GO
/////////////////////////////////////////////////////////////////////

// Do runs task with input, or returns the memoized result of an
// earlier run in the same Context.
func Do[I comparable, O any](c *Context, task *Task[I, O], input I) (O, error) {
	r := c.getResult(resultKey{taskID: task.id, input: input})

	r.once.Do(func() {
		if err := c.context.Err(); err != nil {
			r.err = err
			return
		}

		type output struct {
			data O
			err  error
		}
		ch := make(chan output, 1)
		go func() {
			data, err := task.fn(c, input)
			ch <- output{data: data, err: err}
		}()

		select {
		case <-c.context.Done():
			r.err = c.context.Err()
		case out := <-ch:
			r.data, r.err = out.data, out.err
		}
	})

	if r.err != nil {
		var zero O
		return zero, r.err
	}
	data, _ := r.data.(O)
	return data, nil
}

// Runnable is a task bound to an input, ready to be passed to Go.
type Runnable interface {
	run(c *Context) error
}

type BoundTask[I comparable, O any] struct {
	task  *Task[I, O]
	input I
	dest  *O
}

func Bind[I comparable, O any](task *Task[I, O], input I) *BoundTask[I, O] {
	return &BoundTask[I, O]{task: task, input: input}
}

// AssignTo sets the destination that receives the task's output when
// it succeeds.
func (b *BoundTask[I, O]) AssignTo(dest *O) *BoundTask[I, O] {
	b.dest = dest
	return b
}

func (b *BoundTask[I, O]) run(c *Context) error {
	out, err := Do(c, b.task, b.input)
	if err != nil {
		return err
	}
	if b.dest != nil {
		*b.dest = out
	}
	return nil
}

// Go runs every runnable in parallel and returns the first error.
func Go(c *Context, runnables ...Runnable) error {
	switch len(runnables) {
	case 0:
		return nil
	case 1:
		return runnables[0].run(c)
	}

	g, _ := errgroup.WithContext(c.context)
	for _, r := range runnables {
		g.Go(func() error { return r.run(c) })
	}
	return g.Wait()
}
