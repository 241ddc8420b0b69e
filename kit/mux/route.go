package mux

import (
	"github.com/panther-now/panther/kit/matcher"
)

// Route is a registered (method, pattern, handler, middlewares) tuple.
// It is immutable once registered.
type Route struct {
	method  string
	pattern *matcher.Pattern
	handler Handler
	mws     []middlewareWithOptions
	group   *Group

	compiled Handler
}

func (route *Route) Method() string                  { return route.method }
func (route *Route) Pattern() string                 { return route.pattern.String() }
func (route *Route) ParsedPattern() *matcher.Pattern { return route.pattern }
func (route *Route) Handler() Handler                { return route.handler }

// Chain returns the handler wrapped in every middleware that applies
// to the route. It is nil until the router is sealed.
func (route *Route) Chain() Handler { return route.compiled }

func (route *Route) compile() {
	layers := [][]middlewareWithOptions{route.mws}
	for g := route.group; g != nil; g = g.parent {
		layers = append(layers, g.mws)
	}
	route.compiled = applyMiddlewares(route.handler, layers...)
}

func toMiddlewaresWithOptions(mws []Middleware) []middlewareWithOptions {
	out := make([]middlewareWithOptions, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, middlewareWithOptions{mw: mw})
		}
	}
	return out
}
