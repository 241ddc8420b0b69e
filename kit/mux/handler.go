package mux

import (
	"bytes"
	"net/http"

	"github.com/panther-now/panther/kit/response"
)

type Handler interface {
	Handle(c *Ctx) (*response.Response, error)
}

type HandlerFunc func(c *Ctx) (*response.Response, error)

func (f HandlerFunc) Handle(c *Ctx) (*response.Response, error) { return f(c) }

/*
A Middleware wraps the next handler in the chain. Middlewares run in
registration order on the way in and in reverse order on the way out:
global middlewares wrap group middlewares, which wrap route middlewares,
which wrap the handler. Chains are composed once, when the router is
sealed.
*/
type Middleware func(next Handler) Handler

type MiddlewareOptions struct {
	// Return true if the middleware should be run for this request.
	// If nil, the middleware will always run.
	If func(c *Ctx) bool
}

type middlewareWithOptions struct {
	mw   Middleware
	opts *MiddlewareOptions
}

// MiddlewareFromFunc adapts a function that receives the next handler
// explicitly.
func MiddlewareFromFunc(fn func(c *Ctx, next Handler) (*response.Response, error)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(c *Ctx) (*response.Response, error) {
			return fn(c, next)
		})
	}
}

// WithOptions returns mw with opts applied, for use where a plain
// Middleware is expected (e.g. route-level middlewares).
func WithOptions(mw Middleware, opts *MiddlewareOptions) Middleware {
	return func(next Handler) Handler {
		return applyMiddlewareWithOptions(middlewareWithOptions{mw: mw, opts: opts}, next)
	}
}

func applyMiddlewareWithOptions(mwWithOpts middlewareWithOptions, handler Handler) Handler {
	if mwWithOpts.opts == nil || mwWithOpts.opts.If == nil {
		return mwWithOpts.mw(handler)
	}
	wrapped := mwWithOpts.mw(handler)
	cond := mwWithOpts.opts.If
	return HandlerFunc(func(c *Ctx) (*response.Response, error) {
		if !cond(c) {
			return handler.Handle(c)
		}
		return wrapped.Handle(c)
	})
}

// applyMiddlewares nests handler inside every layer. Layers are given
// innermost first; each layer's middlewares are in registration order.
func applyMiddlewares(handler Handler, layers ...[]middlewareWithOptions) Handler {
	for _, layer := range layers {
		for i := len(layer) - 1; i >= 0; i-- {
			handler = applyMiddlewareWithOptions(layer[i], handler)
		}
	}
	return handler
}

/////////////////////////////////////////////////////////////////////
/////// NET/HTTP INTEROP
/////////////////////////////////////////////////////////////////////

// FromHTTPMiddleware adapts a net/http middleware, such as the ones in
// chi's middleware package. The wrapped middleware sees the response
// the inner chain produced and may change it. Errors returned further
// down the chain bypass it and propagate unchanged.
func FromHTTPMiddleware(httpMw func(http.Handler) http.Handler) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(c *Ctx) (*response.Response, error) {
			var innerErr error
			rec := newBufferedWriter()

			httpMw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				res, err := next.Handle(c)
				switch {
				case err != nil:
					innerErr = err
				case res == nil:
					innerErr = &HandlerFailure{Err: errNilResponse}
				default:
					innerErr = res.Write(w, false)
				}
			})).ServeHTTP(rec, c.Request())

			if innerErr != nil {
				return nil, innerErr
			}
			return rec.response(), nil
		})
	}
}

// FromHTTPHandler serves h as a Handler. The request's path parameters
// are available to h through CtxFromRequest.
func FromHTTPHandler(h http.Handler) Handler {
	return HandlerFunc(func(c *Ctx) (*response.Response, error) {
		rec := newBufferedWriter()
		h.ServeHTTP(rec, c.Request())
		return rec.response(), nil
	})
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (bw *bufferedWriter) Header() http.Header { return bw.header }

func (bw *bufferedWriter) WriteHeader(status int) {
	if bw.status == 0 {
		bw.status = status
	}
}

func (bw *bufferedWriter) Write(p []byte) (int, error) {
	if bw.status == 0 {
		bw.status = http.StatusOK
	}
	return bw.body.Write(p)
}

func (bw *bufferedWriter) response() *response.Response {
	status := bw.status
	if status == 0 {
		status = http.StatusOK
	}
	// Write recomputes the length from the body.
	bw.header.Del("Content-Length")
	return &response.Response{Status: status, Header: bw.header, Body: bw.body.Bytes()}
}
