package mux

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/panther-now/panther/kit/contextutil"
	"github.com/panther-now/panther/kit/matcher"
	"github.com/panther-now/panther/kit/response"
	"github.com/panther-now/panther/kit/tasks"
)

var ctxStore = contextutil.NewStore[*Ctx]("__panther_kit_mux_ctx")

// Ctx is the execution context of one request. It is created by the
// Dispatcher, owned by that request, and never shared with another.
type Ctx struct {
	req   atomic.Pointer[http.Request]
	route *Route

	params     matcher.Params
	dispatcher *Dispatcher
	state      *reqState
}

// reqState is the part of a Ctx shared by every goroutine working on
// the request.
type reqState struct {
	mu       sync.Mutex
	values   map[string]any
	cleanups []func()
	active   int
	finished bool

	query      url.Values
	body       *bodyState
	tasksCtx   *tasks.Context
	respHeader http.Header
}

func newCtx(r *http.Request, match *MatchResult, d *Dispatcher) *Ctx {
	c := &Ctx{
		params:     matcher.Params{},
		dispatcher: d,
		state:      &reqState{body: new(bodyState)},
	}
	if match != nil {
		c.route = match.Route
		if match.Params != nil {
			c.params = match.Params
		}
	}
	c.req.Store(ctxStore.GetRequestWithContext(r, c))
	return c
}

// CtxFromRequest returns the Ctx a request is being handled under, for
// net/http code running inside a chain. It returns nil outside one.
func CtxFromRequest(r *http.Request) *Ctx {
	return ctxStore.GetValueFromContext(r.Context())
}

// GetParams returns the path parameters of the request, or an empty
// map outside a dispatched chain.
func GetParams(r *http.Request) matcher.Params {
	if c := CtxFromRequest(r); c != nil {
		return c.params
	}
	return matcher.Params{}
}

/////////////////////////////////////////////////////////////////////
/////// REQUEST
/////////////////////////////////////////////////////////////////////

// Context is cancelled when the request times out, when the client
// goes away, or when the response has been produced.
func (c *Ctx) Context() context.Context { return c.Request().Context() }

func (c *Ctx) Request() *http.Request { return c.req.Load() }

// SetRequest replaces the request seen further down the chain. The Ctx
// stays reachable from the new request's context.
func (c *Ctx) SetRequest(r *http.Request) {
	if CtxFromRequest(r) != c {
		r = ctxStore.GetRequestWithContext(r, c)
	}
	c.req.Store(r)
}

func (c *Ctx) Method() string { return c.Request().Method }
func (c *Ctx) Path() string   { return c.Request().URL.Path }

// Route is nil inside the not-found handler.
func (c *Ctx) Route() *Route { return c.route }

func (c *Ctx) RequestID() string { return middleware.GetReqID(c.Request().Context()) }

func (c *Ctx) Debug() bool { return c.dispatcher.opts.Debug }

func (c *Ctx) Logger() *slog.Logger {
	r := c.Request()
	log := c.dispatcher.log.With("method", r.Method, "path", r.URL.Path)
	if id := c.RequestID(); id != "" {
		log = log.With("request_id", id)
	}
	return log
}

/////////////////////////////////////////////////////////////////////
/////// PARAMS, QUERY, HEADERS
/////////////////////////////////////////////////////////////////////

func (c *Ctx) Params() matcher.Params { return c.params }

// Param returns the typed value of a path parameter: int for int
// parameters, string otherwise.
func (c *Ctx) Param(name string) (any, bool) { return c.params.Get(name) }

func (c *Ctx) ParamString(name string) string           { return c.params.String(name) }
func (c *Ctx) ParamInt(name string) (int, bool)         { return c.params.Int(name) }
func (c *Ctx) Header(name string) string                { return c.Request().Header.Get(name) }
func (c *Ctx) Headers() http.Header                     { return c.Request().Header }
func (c *Ctx) QueryValue(name string) string            { return c.Query().Get(name) }
func (c *Ctx) Cookie(name string) (*http.Cookie, error) { return c.Request().Cookie(name) }

// Query parses the query string once per request.
func (c *Ctx) Query() url.Values {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.query == nil {
		c.state.query = c.Request().URL.Query()
	}
	return c.state.query
}

/////////////////////////////////////////////////////////////////////
/////// VALUES
/////////////////////////////////////////////////////////////////////

// Set stores a request-scoped value, for middlewares to hand data to
// the handlers they wrap.
func (c *Ctx) Set(key string, val any) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.values == nil {
		c.state.values = make(map[string]any)
	}
	c.state.values[key] = val
}

func (c *Ctx) Get(key string) (any, bool) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	val, ok := c.state.values[key]
	return val, ok
}

// Tasks returns the request's memoizing task context. It is cancelled
// with the request.
func (c *Ctx) Tasks() *tasks.Context {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.tasksCtx == nil {
		c.state.tasksCtx = tasks.NewContext(c.Request().Context())
	}
	return c.state.tasksCtx
}

// SetResponseHeader sets a header on whatever response the request
// ends up with, error responses included. Headers the response sets
// itself take precedence.
func (c *Ctx) SetResponseHeader(key, value string) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.respHeader == nil {
		c.state.respHeader = make(http.Header)
	}
	c.state.respHeader.Set(key, value)
}

func (c *Ctx) AddResponseHeader(key, value string) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.respHeader == nil {
		c.state.respHeader = make(http.Header)
	}
	c.state.respHeader.Add(key, value)
}

// withResponseHeaders returns res, or a copy of it carrying the headers
// set through SetResponseHeader. res itself is never modified. Cookies
// from both sides are kept.
func (c *Ctx) withResponseHeaders(res *response.Response) *response.Response {
	c.state.mu.Lock()
	extra := c.state.respHeader.Clone()
	c.state.mu.Unlock()
	if len(extra) == 0 {
		return res
	}

	out := *res
	out.Header = res.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	for k, vals := range extra {
		if k == "Set-Cookie" {
			out.Header[k] = append(out.Header[k], vals...)
			continue
		}
		if _, ok := out.Header[k]; !ok {
			out.Header[k] = vals
		}
	}
	return &out
}

/////////////////////////////////////////////////////////////////////
/////// GOROUTINES & CLEANUP
/////////////////////////////////////////////////////////////////////

// OnCleanup registers fn to run once every goroutine working on the
// request has returned, including a handler that outlived a timeout.
// Cleanups run last-in first-out.
func (c *Ctx) OnCleanup(fn func()) {
	c.state.mu.Lock()
	if !c.state.finished {
		c.state.cleanups = append(c.state.cleanups, fn)
		c.state.mu.Unlock()
		return
	}
	c.state.mu.Unlock()
	c.runCleanup(fn)
}

// Go runs fn in a new goroutine tied to the request: its context is the
// request's, and cleanups wait for it to return.
func (c *Ctx) Go(fn func(ctx context.Context)) {
	ctx := c.Context()
	c.enter()
	go func() {
		defer c.exit()
		defer func() {
			if rec := recover(); rec != nil {
				c.Logger().Error("Recovered from panic in request goroutine", "error", rec, "stack", string(debug.Stack()))
			}
		}()
		fn(ctx)
	}()
}

func (c *Ctx) enter() {
	c.state.mu.Lock()
	c.state.active++
	c.state.mu.Unlock()
}

func (c *Ctx) exit() {
	c.state.mu.Lock()
	c.state.active--
	if c.state.active > 0 || c.state.finished {
		c.state.mu.Unlock()
		return
	}
	c.state.finished = true
	cleanups := c.state.cleanups
	c.state.cleanups = nil
	tasksCtx := c.state.tasksCtx
	c.state.mu.Unlock()

	if tasksCtx != nil {
		tasksCtx.Cancel()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		c.runCleanup(cleanups[i])
	}
}

func (c *Ctx) runCleanup(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.Logger().Error("Recovered from panic in cleanup", "error", rec)
		}
	}()
	fn()
}
