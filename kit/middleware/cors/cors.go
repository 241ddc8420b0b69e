// Package cors answers cross-origin requests. It runs in front of the
// router so that preflight requests are answered even for paths that
// only register GET or POST.
package cors

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Origins allowed to make requests, e.g. "https://example.com".
	// "*" allows any origin.
	AllowedOrigins []string

	// Defaults to GET, HEAD, POST.
	AllowedMethods []string

	// Request headers a client may send. When empty, whatever headers a
	// preflight asks for are allowed.
	AllowedHeaders []string

	ExposedHeaders   []string
	AllowCredentials bool

	// How long browsers may cache a preflight answer. Zero omits the
	// header.
	MaxAge time.Duration
}

type cors struct {
	cfg         Config
	anyOrigin   bool
	origins     map[string]bool
	methods     string
	headers     string
	exposed     string
	maxAge      string
	methodAllow map[string]bool
}

func New(cfg Config) func(http.Handler) http.Handler {
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = []string{http.MethodGet, http.MethodHead, http.MethodPost}
	}
	c := &cors{
		cfg:         cfg,
		origins:     make(map[string]bool, len(cfg.AllowedOrigins)),
		methods:     strings.Join(cfg.AllowedMethods, ", "),
		headers:     strings.Join(cfg.AllowedHeaders, ", "),
		exposed:     strings.Join(cfg.ExposedHeaders, ", "),
		methodAllow: make(map[string]bool, len(cfg.AllowedMethods)),
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			c.anyOrigin = true
			continue
		}
		c.origins[strings.ToLower(o)] = true
	}
	for _, m := range cfg.AllowedMethods {
		c.methodAllow[strings.ToUpper(m)] = true
	}
	if cfg.MaxAge > 0 {
		c.maxAge = strconv.Itoa(int(cfg.MaxAge.Seconds()))
	}
	return c.middleware
}

func (c *cors) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		h := w.Header()
		h.Add("Vary", "Origin")
		if origin == "" || !c.originAllowed(origin) {
			if isPreflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		c.setAllowOrigin(h, origin)

		if isPreflight {
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if c.methodAllow[strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))] {
				h.Set("Access-Control-Allow-Methods", c.methods)
				if c.headers != "" {
					h.Set("Access-Control-Allow-Headers", c.headers)
				} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
					h.Set("Access-Control-Allow-Headers", requested)
				}
				if c.maxAge != "" {
					h.Set("Access-Control-Max-Age", c.maxAge)
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if c.exposed != "" {
			h.Set("Access-Control-Expose-Headers", c.exposed)
		}
		next.ServeHTTP(w, r)
	})
}

func (c *cors) originAllowed(origin string) bool {
	return c.anyOrigin || c.origins[strings.ToLower(origin)]
}

func (c *cors) setAllowOrigin(h http.Header, origin string) {
	// Credentialed requests may not use the wildcard.
	if c.anyOrigin && !c.cfg.AllowCredentials && !slices.Contains(c.cfg.AllowedOrigins, origin) {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
	}
	if c.cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}
