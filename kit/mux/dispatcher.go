package mux

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/panther-now/panther/kit/response"
	"golang.org/x/sync/semaphore"
)

const DefaultTimeout = 30 * time.Second

var errNilResponse = errors.New("handler returned neither a response nor an error")

type DispatcherOptions struct {
	// Maximum time to produce a response. Defaults to DefaultTimeout.
	// Negative disables the limit.
	Timeout time.Duration

	// Maximum number of requests handled at once. Requests over the
	// limit wait until their timeout, then get a 503. Zero means no
	// limit.
	MaxInFlight int64

	// Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Sends internal error messages to clients and logs at debug level.
	Debug bool

	Observers []Observer

	// Defaults to a logger labeled "mux".
	Logger *slog.Logger
}

// Dispatcher turns requests into responses: it resolves the route,
// builds the Ctx, runs the compiled chain under a timeout and converts
// every failure into an error response.
type Dispatcher struct {
	router *Router
	opts   DispatcherOptions
	log    *slog.Logger
	sem    *semaphore.Weighted
}

// NewDispatcher seals router and returns a Dispatcher serving it.
func NewDispatcher(router *Router, opts DispatcherOptions) *Dispatcher {
	router.Seal()

	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	d := &Dispatcher{router: router, opts: opts, log: opts.Logger}
	if d.log == nil {
		d.log = muxLog
	}
	if opts.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(opts.MaxInFlight)
	}
	return d
}

func (d *Dispatcher) Router() *Router { return d.router }

// ServeHTTP writes the response Handle produces. Bodies of responses
// to HEAD requests are dropped.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := d.Handle(r)
	if err := res.Write(w, r.Method == http.MethodHead); err != nil {
		d.log.Debug("Error writing response", "error", err, "path", r.URL.Path)
	}
}

// Handle never returns nil.
func (d *Dispatcher) Handle(r *http.Request) (res *response.Response) {
	out := &Outcome{
		Method:     r.Method,
		Path:       r.URL.Path,
		RequestID:  middleware.GetReqID(r.Context()),
		RemoteAddr: r.RemoteAddr,
		Start:      time.Now(),
	}
	out.record(StateReceived)

	defer func() {
		if rec := recover(); rec != nil {
			hf := &HandlerFailure{Panic: rec, Stack: debug.Stack()}
			out.Err = hf
			res = d.errorResponse(r, hf)
		}
		out.record(StateResponding)
		out.Status = res.Status
		out.Duration = time.Since(out.Start)
		out.record(StateDone)
		d.notifyObservers(out)
	}()

	ctx, cancel := d.withTimeout(r.Context())
	defer cancel()
	r = r.WithContext(ctx)

	out.record(StateResolving)
	match, err := d.router.Resolve(r.Method, r.URL.EscapedPath())
	if err != nil {
		out.Err = err
		var notFound *NotFoundError
		var notAllowed *MethodNotAllowedError
		switch {
		case errors.As(err, &notFound):
			out.record(StateNotFound)
			if d.router.notFoundCompiled != nil {
				return d.dispatch(ctx, r, nil, d.router.notFoundCompiled, out)
			}
		case errors.As(err, &notAllowed):
			out.record(StateMethodNotAllowed)
		default:
			out.record(StateRejected)
		}
		d.log.Info("Request not routed", "method", r.Method, "path", r.URL.Path, "reason", err.Error())
		return d.errorResponse(r, err)
	}

	out.Pattern = match.Route.Pattern()
	out.record(StateResolved)
	return d.dispatch(ctx, r, match, match.Route.Chain(), out)
}

func (d *Dispatcher) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if d.opts.Timeout < 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d.opts.Timeout)
}

func (d *Dispatcher) dispatch(
	ctx context.Context, r *http.Request, match *MatchResult, chain Handler, out *Outcome,
) *response.Response {
	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			out.record(StateRejected)
			out.Err = d.contextError(ctx, &OverloadedError{})
			d.log.Warn("Request rejected", "path", r.URL.Path, "reason", out.Err.Error())
			return d.errorResponse(r, out.Err)
		}
	}

	out.record(StateDispatching)

	c := newCtx(r, match, d)
	if d.sem != nil {
		// Handlers that outlive their timeout keep holding a slot.
		c.OnCleanup(func() { d.sem.Release(1) })
	}
	res, err := c.runGuarded(chain, d.opts.Timeout)
	if err == nil {
		select {
		case <-ctx.Done():
			// The handler returned, but too late for its response to count.
			err = d.contextError(ctx, &TimeoutError{Timeout: d.opts.Timeout})
		default:
		}
	}
	if err != nil {
		out.record(StateHandlerFailure)
		out.Err = err
		d.logFailure(c, err)
		return c.withResponseHeaders(d.errorResponse(r, err))
	}

	out.record(StateHandlerSuccess)
	return c.withResponseHeaders(res)
}

// runGuarded runs h on a new goroutine and waits for it to finish or
// for the request context to end, whichever comes first. A panic in h
// becomes a *HandlerFailure. A handler that gives up with the context's
// own error is reported like a context that ended first.
func (c *Ctx) runGuarded(h Handler, timeout time.Duration) (*response.Response, error) {
	type result struct {
		res *response.Response
		err error
	}
	done := make(chan result, 1)
	ctx := c.Context()

	c.enter()
	go func() {
		defer c.exit()
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: &HandlerFailure{Panic: rec, Stack: debug.Stack()}}
			}
		}()
		res, err := h.Handle(c)
		if err == nil && res == nil {
			err = &HandlerFailure{Err: errNilResponse}
		}
		done <- result{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil && errors.Is(out.err, ctx.Err()) {
			return nil, c.dispatcher.contextError(ctx, &TimeoutError{Timeout: timeout})
		}
		return out.res, out.err
	case <-ctx.Done():
		return nil, c.dispatcher.contextError(ctx, &TimeoutError{Timeout: timeout})
	}
}

// contextError classifies a finished context: onDeadline when it ran
// out of time, *ClientGoneError when the client went away.
func (d *Dispatcher) contextError(ctx context.Context, onDeadline error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return onDeadline
	}
	return &ClientGoneError{Err: ctx.Err()}
}

func (d *Dispatcher) logFailure(c *Ctx, err error) {
	he := AsHTTPError(err)
	log := c.Logger()
	if c.route != nil {
		log = log.With("pattern", c.route.Pattern())
	}
	switch {
	case he.StatusCode() >= 500:
		var hf *HandlerFailure
		if errors.As(err, &hf) && hf.Stack != nil {
			log.Error("Handler failure", "error", err, "stack", string(hf.Stack))
			return
		}
		log.Error("Handler failure", "error", err)
	case he.StatusCode() == StatusClientClosedRequest:
		log.Debug("Client went away", "error", err)
	default:
		log.Info("Handler returned client error", "status", he.StatusCode(), "error", err)
	}
}

// notifyObservers runs after the response is final, so a panicking
// observer is logged and otherwise ignored.
func (d *Dispatcher) notifyObservers(out *Outcome) {
	for _, o := range d.opts.Observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.log.Error("Observer panicked", "panic", rec, "path", out.Path, "stack", string(debug.Stack()))
				}
			}()
			o.Observe(out)
		}()
	}
}

// errorResponse converts any error into a response with a JSON body
// of the form {"kind": ..., "detail": ...}.
func (d *Dispatcher) errorResponse(r *http.Request, err error) *response.Response {
	var redirect *RedirectError
	if errors.As(err, &redirect) {
		location := redirect.Location
		if r.URL.RawQuery != "" {
			location += "?" + r.URL.RawQuery
		}
		return response.Redirect(redirect.Status, location)
	}

	he := AsHTTPError(err)
	res := response.Error(he.StatusCode(), he.Kind(), errorDetail(he, d.opts.Debug))
	if h, ok := he.(headerer); ok {
		for k, vals := range h.Headers() {
			for _, v := range vals {
				res.Header.Add(k, v)
			}
		}
	}
	return res
}
