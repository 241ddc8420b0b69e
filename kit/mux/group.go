package mux

import (
	"net/http"

	"github.com/panther-now/panther/kit/matcher"
)

// Group registers routes under a shared path prefix and middleware
// stack. Groups nest; an inner group's middlewares run inside the
// outer group's.
type Group struct {
	router *Router
	parent *Group
	prefix string
	mws    []middlewareWithOptions
}

func (g *Group) Prefix() string { return g.prefix }

func (g *Group) Group(prefix string, mws ...Middleware) *Group {
	return &Group{
		router: g.router,
		parent: g,
		prefix: matcher.Join(g.prefix, prefix),
		mws:    toMiddlewaresWithOptions(mws),
	}
}

// Use adds a middleware to the group. It applies to routes registered
// before and after the call, until the router is sealed.
func (g *Group) Use(mw Middleware, opts ...*MiddlewareOptions) {
	if g.router.IsSealed() {
		panic(&RouterSealedError{Method: "*", Pattern: g.prefix + " (middleware)"})
	}
	g.mws = append(g.mws, middlewareWithOptions{mw: mw, opts: getFirstOpt(opts)})
}

func getFirstOpt(opts []*MiddlewareOptions) *MiddlewareOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return nil
}

// Register adds a route under the group's prefix.
func (g *Group) Register(method, pattern string, h Handler, mws ...Middleware) (*Route, error) {
	full := pattern
	if g.prefix != "" {
		full = matcher.Join(g.prefix, pattern)
	}
	return g.router.register(method, full, h, g, mws)
}

// Handle is like Register but panics on error, which suits
// registration code that runs once at startup.
func (g *Group) Handle(method, pattern string, h Handler, mws ...Middleware) *Route {
	route, err := g.Register(method, pattern, h, mws...)
	if err != nil {
		panic(err)
	}
	return route
}

func (g *Group) GET(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodGet, pattern, h, mws...)
}

func (g *Group) POST(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodPost, pattern, h, mws...)
}

func (g *Group) PUT(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodPut, pattern, h, mws...)
}

func (g *Group) PATCH(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodPatch, pattern, h, mws...)
}

func (g *Group) DELETE(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodDelete, pattern, h, mws...)
}

func (g *Group) OPTIONS(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodOptions, pattern, h, mws...)
}

func (g *Group) HEAD(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return g.Handle(http.MethodHead, pattern, h, mws...)
}
