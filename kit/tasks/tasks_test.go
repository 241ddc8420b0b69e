package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type session struct {
	UserID int
	Role   string
}

func TestDo(t *testing.T) {
	t.Run("runs once per input", func(t *testing.T) {
		var calls atomic.Int32
		lookup := NewTask(func(_ *Context, id int) (session, error) {
			calls.Add(1)
			return session{UserID: id, Role: "admin"}, nil
		})
		c := NewContext(context.Background())

		for range 3 {
			s, err := Do(c, lookup, 7)
			if err != nil || s.UserID != 7 {
				t.Fatalf("Do = %+v, %v", s, err)
			}
		}
		if _, err := Do(c, lookup, 8); err != nil {
			t.Fatal(err)
		}
		if n := calls.Load(); n != 2 {
			t.Errorf("calls = %d, want 2", n)
		}
	})

	t.Run("contexts do not share results", func(t *testing.T) {
		var calls atomic.Int32
		task := NewTask(func(_ *Context, _ None) (int, error) {
			return int(calls.Add(1)), nil
		})
		a, _ := Do(NewContext(context.Background()), task, None{})
		b, _ := Do(NewContext(context.Background()), task, None{})
		if a == b {
			t.Errorf("separate contexts returned the same run (%d)", a)
		}
	})

	t.Run("concurrent callers share one run", func(t *testing.T) {
		var calls atomic.Int32
		slow := NewTask(func(_ *Context, _ None) (string, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)
			return "ok", nil
		})
		c := NewContext(context.Background())

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if v, err := Do(c, slow, None{}); err != nil || v != "ok" {
					t.Errorf("Do = %q, %v", v, err)
				}
			}()
		}
		wg.Wait()
		if n := calls.Load(); n != 1 {
			t.Errorf("calls = %d, want 1", n)
		}
	})

	t.Run("errors are memoized", func(t *testing.T) {
		errNoUser := errors.New("no such user")
		var calls atomic.Int32
		task := NewTask(func(_ *Context, _ int) (session, error) {
			calls.Add(1)
			return session{}, errNoUser
		})
		c := NewContext(context.Background())
		for range 2 {
			if _, err := Do(c, task, 1); !errors.Is(err, errNoUser) {
				t.Errorf("err = %v", err)
			}
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("tasks can depend on tasks", func(t *testing.T) {
		var authCalls atomic.Int32
		auth := NewTask(func(_ *Context, token string) (int, error) {
			authCalls.Add(1)
			if token != "good" {
				return 0, errors.New("bad token")
			}
			return 42, nil
		})
		role := NewTask(func(c *Context, token string) (string, error) {
			id, err := Do(c, auth, token)
			if err != nil {
				return "", err
			}
			if id == 42 {
				return "admin", nil
			}
			return "user", nil
		})
		c := NewContext(context.Background())

		var id int
		var r string
		if err := Go(c, Bind(auth, "good").AssignTo(&id), Bind(role, "good").AssignTo(&r)); err != nil {
			t.Fatal(err)
		}
		if id != 42 || r != "admin" {
			t.Errorf("id=%d role=%q", id, r)
		}
		if authCalls.Load() != 1 {
			t.Errorf("auth ran %d times", authCalls.Load())
		}
		if _, err := Do(c, role, "bad"); err == nil {
			t.Error("dependency error should propagate")
		}
	})
}

func TestCancellation(t *testing.T) {
	t.Run("parent cancel stops waiting", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		task := NewTask(func(_ *Context, _ None) (None, error) {
			<-release
			return None{}, nil
		})
		parent, cancel := context.WithCancel(context.Background())
		c := NewContext(parent)
		time.AfterFunc(20*time.Millisecond, cancel)

		if _, err := Do(c, task, None{}); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("cancelled context does not start tasks", func(t *testing.T) {
		var ran atomic.Bool
		task := NewTask(func(_ *Context, _ None) (None, error) {
			ran.Store(true)
			return None{}, nil
		})
		c := NewContext(context.Background())
		c.Cancel()
		if _, err := Do(c, task, None{}); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if ran.Load() {
			t.Error("task ran after cancel")
		}
		if c.Native().Err() == nil {
			t.Error("native context should be cancelled")
		}
	})
}

func TestGo(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if err := Go(NewContext(context.Background())); err != nil {
			t.Error(err)
		}
	})

	t.Run("runs in parallel", func(t *testing.T) {
		double := NewTask(func(_ *Context, n int) (int, error) {
			time.Sleep(50 * time.Millisecond)
			return n * 2, nil
		})
		triple := NewTask(func(_ *Context, n int) (int, error) {
			time.Sleep(50 * time.Millisecond)
			return n * 3, nil
		})
		c := NewContext(context.Background())

		var a, b int
		start := time.Now()
		if err := Go(c, Bind(double, 5).AssignTo(&a), Bind(triple, 5).AssignTo(&b)); err != nil {
			t.Fatal(err)
		}
		if a != 10 || b != 15 {
			t.Errorf("a=%d b=%d", a, b)
		}
		if d := time.Since(start); d > 90*time.Millisecond {
			t.Errorf("took %v, tasks did not overlap", d)
		}
	})

	t.Run("first error wins and destinations stay put", func(t *testing.T) {
		errBoom := errors.New("boom")
		fail := NewTask(func(_ *Context, _ None) (int, error) { return 0, errBoom })
		ok := NewTask(func(_ *Context, _ None) (int, error) { return 1, nil })
		c := NewContext(context.Background())

		failDest := -1
		var okDest int
		err := Go(c, Bind(fail, None{}).AssignTo(&failDest), Bind(ok, None{}).AssignTo(&okDest))
		if !errors.Is(err, errBoom) {
			t.Errorf("err = %v", err)
		}
		if failDest != -1 {
			t.Errorf("failed task wrote %d", failDest)
		}
	})

	t.Run("without destination", func(t *testing.T) {
		var ran atomic.Bool
		task := NewTask(func(_ *Context, _ None) (None, error) {
			ran.Store(true)
			return None{}, nil
		})
		if err := Go(NewContext(context.Background()), Bind(task, None{})); err != nil {
			t.Fatal(err)
		}
		if !ran.Load() {
			t.Error("task did not run")
		}
	})
}
