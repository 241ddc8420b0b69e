package mux

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/panther-now/panther/kit/colorlog"
	"github.com/panther-now/panther/kit/matcher"
)

var muxLog = colorlog.New("mux")

// TrailingSlashPolicy decides what happens when a path matches a
// route only with its trailing slash added or removed.
type TrailingSlashPolicy uint8

const (
	// Answer with a redirect to the registered form: 301 for GET and
	// HEAD, 308 otherwise. This is the default.
	TrailingSlashRedirect TrailingSlashPolicy = iota
	// Treat "/info" and "/info/" as different paths.
	TrailingSlashStrict
	// Treat "/info" and "/info/" as the same path. Registering both
	// forms for one method is a conflict.
	TrailingSlashIgnore
)

func (p TrailingSlashPolicy) String() string {
	switch p {
	case TrailingSlashStrict:
		return "strict"
	case TrailingSlashIgnore:
		return "ignore"
	default:
		return "redirect"
	}
}

// ParseTrailingSlashPolicy accepts "redirect", "strict" or "ignore".
func ParseTrailingSlashPolicy(s string) (TrailingSlashPolicy, error) {
	switch s {
	case "", "redirect":
		return TrailingSlashRedirect, nil
	case "strict":
		return TrailingSlashStrict, nil
	case "ignore":
		return TrailingSlashIgnore, nil
	}
	return 0, fmt.Errorf("unknown trailing slash policy %q", s)
}

// CoercionPolicy decides how a path is answered when it has the shape
// of a route but a parameter fails its type, e.g. "/items/abc" against
// "/items/{id:int}".
type CoercionPolicy uint8

const (
	CoercionNotFound   CoercionPolicy = iota // 404, as if nothing matched. The default.
	CoercionBadRequest                       // 400 naming the parameter
)

func (p CoercionPolicy) String() string {
	if p == CoercionBadRequest {
		return "bad_request"
	}
	return "not_found"
}

func ParseCoercionPolicy(s string) (CoercionPolicy, error) {
	switch s {
	case "", "not_found", "404":
		return CoercionNotFound, nil
	case "bad_request", "400":
		return CoercionBadRequest, nil
	}
	return 0, fmt.Errorf("unknown coercion failure policy %q", s)
}

type Options struct {
	TrailingSlash   TrailingSlashPolicy
	CoercionFailure CoercionPolicy
}

/*
Router maps (method, path) pairs to routes. Routes are registered during
a single-threaded startup phase; Seal ends that phase, after which the
router is read-only and safe for concurrent use. Order of registration
of routes does not matter. Order of middleware registration DOES matter.
*/
type Router struct {
	opts        Options
	matcherOpts *matcher.Options
	root        *Group

	methodToMatcherMap map[string]*methodMatcher
	allRoutes          []*Route

	notFoundHandler  Handler
	notFoundCompiled Handler

	sealed atomic.Bool
}

type methodMatcher struct {
	matcher *matcher.Matcher
	routes  map[*matcher.Pattern]*Route
}

func NewRouter(opts *Options) *Router {
	if opts == nil {
		opts = new(Options)
	}
	rt := &Router{
		opts:               *opts,
		matcherOpts:        &matcher.Options{IgnoreTrailingSlash: opts.TrailingSlash == TrailingSlashIgnore},
		methodToMatcherMap: make(map[string]*methodMatcher),
	}
	rt.root = &Group{router: rt}
	return rt
}

func (rt *Router) Options() Options { return rt.opts }

// AllRoutes returns every registered route in registration order.
func (rt *Router) AllRoutes() []*Route { return rt.allRoutes }

func (rt *Router) IsSealed() bool { return rt.sealed.Load() }

// Use registers a global middleware. Global middlewares wrap every
// route, and the not-found handler if one is set.
func (rt *Router) Use(mw Middleware, opts ...*MiddlewareOptions) { rt.root.Use(mw, opts...) }

// SetNotFoundHandler replaces the default 404 response. The handler
// runs inside the global middlewares; its Ctx has no route.
func (rt *Router) SetNotFoundHandler(h Handler) {
	if rt.IsSealed() {
		panic(&RouterSealedError{Method: "*", Pattern: "(not found handler)"})
	}
	rt.notFoundHandler = h
}

func (rt *Router) Group(prefix string, mws ...Middleware) *Group { return rt.root.Group(prefix, mws...) }

func (rt *Router) Register(method, pattern string, h Handler, mws ...Middleware) (*Route, error) {
	return rt.root.Register(method, pattern, h, mws...)
}

func (rt *Router) Handle(method, pattern string, h Handler, mws ...Middleware) *Route {
	return rt.root.Handle(method, pattern, h, mws...)
}

func (rt *Router) GET(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.GET(pattern, h, mws...)
}

func (rt *Router) POST(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.POST(pattern, h, mws...)
}

func (rt *Router) PUT(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.PUT(pattern, h, mws...)
}

func (rt *Router) PATCH(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.PATCH(pattern, h, mws...)
}

func (rt *Router) DELETE(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.DELETE(pattern, h, mws...)
}

func (rt *Router) OPTIONS(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.OPTIONS(pattern, h, mws...)
}

func (rt *Router) HEAD(pattern string, h HandlerFunc, mws ...Middleware) *Route {
	return rt.root.HEAD(pattern, h, mws...)
}

// Seal ends registration and composes every middleware chain. It is
// idempotent. Register fails with *RouterSealedError afterwards.
func (rt *Router) Seal() {
	if !rt.sealed.CompareAndSwap(false, true) {
		return
	}
	for _, route := range rt.allRoutes {
		route.compile()
	}
	if rt.notFoundHandler != nil {
		rt.notFoundCompiled = applyMiddlewares(rt.notFoundHandler, rt.root.mws)
	}
	muxLog.Debug("Router sealed", "routes", len(rt.allRoutes))
}

func (rt *Router) register(method, pattern string, h Handler, group *Group, mws []Middleware) (*Route, error) {
	if rt.IsSealed() {
		return nil, &RouterSealedError{Method: method, Pattern: pattern}
	}
	if !isValidMethod(method) {
		return nil, &InvalidMethodError{Method: method}
	}
	if f, ok := h.(HandlerFunc); h == nil || ok && f == nil {
		return nil, fmt.Errorf("nil handler for %s %s", method, pattern)
	}

	parsed, err := matcher.Parse(pattern)
	if err != nil {
		return nil, err
	}

	mm := rt.getOrCreateMethodMatcher(method)
	if err := mm.matcher.Register(parsed); err != nil {
		if errors.Is(err, matcher.ErrDuplicatePattern) {
			existing, _ := mm.matcher.Lookup(parsed)
			conflict := &RouteConflictError{Method: method, Pattern: pattern}
			if existing != nil {
				conflict.Existing = existing.String()
			}
			return nil, conflict
		}
		return nil, err
	}

	route := &Route{
		method:  method,
		pattern: parsed,
		handler: h,
		mws:     toMiddlewaresWithOptions(mws),
		group:   group,
	}
	mm.routes[parsed] = route
	rt.allRoutes = append(rt.allRoutes, route)
	return route, nil
}

func (rt *Router) getOrCreateMethodMatcher(method string) *methodMatcher {
	if mm, ok := rt.methodToMatcherMap[method]; ok {
		return mm
	}
	mm := &methodMatcher{
		matcher: matcher.New(rt.matcherOpts),
		routes:  make(map[*matcher.Pattern]*Route),
	}
	rt.methodToMatcherMap[method] = mm
	return mm
}

// Methods returns every method with at least one route, sorted.
func (rt *Router) Methods() []string {
	methods := make([]string, 0, len(rt.methodToMatcherMap))
	for m := range rt.methodToMatcherMap {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Methods are tokens (RFC 9110). Case is preserved; "get" and "GET"
// are different methods.
func isValidMethod(method string) bool {
	if method == "" {
		return false
	}
	for i := 0; i < len(method); i++ {
		c := method[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '!' || c == '#' || c == '$' || c == '%' || c == '&' || c == '\'' || c == '*' ||
			c == '+' || c == '-' || c == '.' || c == '^' || c == '_' || c == '`' || c == '|' || c == '~':
		default:
			return false
		}
	}
	return true
}

func redirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusMovedPermanently
	}
	return http.StatusPermanentRedirect
}
