package secureheaders

import (
	"maps"

	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/response"
)

// see https://owasp.org/www-project-secure-headers/ci/headers_add.json
var securityHeadersMap = map[string]string{
	"Cross-Origin-Opener-Policy":        "same-origin",
	"Cross-Origin-Resource-Policy":      "same-origin",
	"Permissions-Policy":                "accelerometer=(), autoplay=(), camera=(), display-capture=(), encrypted-media=(), fullscreen=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), midi=(), payment=(), usb=(), interest-cohort=()",
	"Referrer-Policy":                   "no-referrer",
	"X-Content-Type-Options":            "nosniff",
	"X-Frame-Options":                   "deny",
	"X-Permitted-Cross-Domain-Policies": "none",
}

const hstsHeader = "Strict-Transport-Security"

type Options struct {
	// Sends Strict-Transport-Security. Leave off for plain-HTTP
	// development servers.
	HSTS bool

	// Replaces or adds headers. An empty value removes a default.
	Override map[string]string
}

// Middleware sets the default headers, without HSTS.
var Middleware = New(nil)

// New returns a middleware that sets security-related headers on every
// response of the routes it wraps, error responses included. Headers a
// handler sets itself are left alone.
func New(opts *Options) mux.Middleware {
	if opts == nil {
		opts = new(Options)
	}
	headers := maps.Clone(securityHeadersMap)
	if opts.HSTS {
		headers[hstsHeader] = "max-age=31536000; includeSubDomains"
	}
	for k, v := range opts.Override {
		if v == "" {
			delete(headers, k)
			continue
		}
		headers[k] = v
	}

	return mux.MiddlewareFromFunc(func(c *mux.Ctx, next mux.Handler) (*response.Response, error) {
		for k, v := range headers {
			c.SetResponseHeader(k, v)
		}
		return next.Handle(c)
	})
}
