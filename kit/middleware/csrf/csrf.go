// Package csrf protects state-changing routes with the double submit
// cookie pattern. Safe requests (GET, HEAD, OPTIONS, TRACE) receive an
// encrypted token cookie when they lack a valid one; every other request
// must echo the cookie value in a header, come from an allowed origin
// when origins are configured, and carry a token that has not expired.
//
// The cookie is readable by JavaScript so that frontends can copy it
// into the header. Call Cycle whenever a session is created or
// destroyed (on login and logout).
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/panther-now/panther/kit/colorlog"
	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/response"
	"github.com/panther-now/panther/kit/securestring"
)

var Log = colorlog.New("csrf")

const (
	nonceSize         = 24
	DefaultTokenTTL   = 4 * time.Hour
	DefaultHeaderName = "X-CSRF-Token"
	defaultCookieName = "csrf_token"

	// Keys for this package are derived with this info string.
	KeyInfo = "csrf"
)

type payload struct {
	Nonce     []byte    `json:"n"`
	ExpiresAt time.Time `json:"e"`
}

type Config struct {
	// REQUIRED. Latest first. See securestring.DeriveKeys.
	Keys securestring.Keys

	// When set, unsafe requests with an Origin (or, lacking one, a
	// Referer) outside this list are rejected.
	AllowedOrigins []string

	// Defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// Defaults to DefaultHeaderName.
	HeaderName string

	// Drops the "__Host-" cookie prefix and the Secure flag, for plain
	// HTTP development servers.
	Insecure bool

	now func() time.Time
}

type Protector struct {
	cfg        Config
	cookieName string
	origins    map[string]bool
}

func New(cfg Config) (*Protector, error) {
	if len(cfg.Keys) == 0 {
		return nil, errors.New("csrf: Keys is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	cookieName := "__Host-" + defaultCookieName
	if cfg.Insecure {
		cookieName = defaultCookieName
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return &Protector{cfg: cfg, cookieName: cookieName, origins: origins}, nil
}

func (p *Protector) CookieName() string { return p.cookieName }
func (p *Protector) HeaderName() string { return p.cfg.HeaderName }

func (p *Protector) Middleware() mux.Middleware {
	return mux.MiddlewareFromFunc(func(c *mux.Ctx, next mux.Handler) (*response.Response, error) {
		if isSafeMethod(c.Method()) {
			if !p.hasValidCookie(c) {
				if err := p.Cycle(c); err != nil {
					Log.Error("Error issuing csrf token", "error", err)
				}
			}
			return next.Handle(c)
		}
		if err := p.check(c); err != nil {
			c.Logger().Info("CSRF check failed", "reason", err.Error())
			return nil, &RejectedError{Reason: err.Error()}
		}
		return next.Handle(c)
	})
}

// Cycle issues a fresh token cookie on the response.
func (p *Protector) Cycle(c *mux.Ctx) error {
	cookie, err := p.newCookie()
	if err != nil {
		return fmt.Errorf("csrf: generating token: %w", err)
	}
	c.AddResponseHeader("Set-Cookie", cookie.String())
	return nil
}

func (p *Protector) newCookie() (*http.Cookie, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	expires := p.cfg.now().Add(p.cfg.TokenTTL)
	token, err := securestring.Seal(p.cfg.Keys, payload{Nonce: nonce, ExpiresAt: expires})
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     p.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(p.cfg.TokenTTL.Seconds()),
		Expires:  expires,
		Secure:   !p.cfg.Insecure,
		SameSite: http.SameSiteLaxMode,
		HttpOnly: false,
	}, nil
}

func (p *Protector) hasValidCookie(c *mux.Ctx) bool {
	cookie, err := c.Cookie(p.cookieName)
	if err != nil {
		return false
	}
	return p.validToken(cookie.Value) == nil
}

func (p *Protector) validToken(token string) error {
	pl, err := securestring.Open[payload](p.cfg.Keys, token)
	if err != nil {
		return errors.New("invalid token")
	}
	if len(pl.Nonce) == 0 || !p.cfg.now().Before(pl.ExpiresAt) {
		return errors.New("token expired")
	}
	return nil
}

func (p *Protector) check(c *mux.Ctx) error {
	if err := p.checkOrigin(c); err != nil {
		return err
	}
	cookie, err := c.Cookie(p.cookieName)
	if err != nil {
		return errors.New("token cookie missing")
	}
	if err := p.validToken(cookie.Value); err != nil {
		return err
	}
	submitted := c.Header(p.cfg.HeaderName)
	if submitted == "" {
		return errors.New("token header missing")
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(cookie.Value)) != 1 {
		return errors.New("token mismatch")
	}
	return nil
}

func (p *Protector) checkOrigin(c *mux.Ctx) error {
	if len(p.origins) == 0 {
		return nil
	}
	if origin := c.Header("Origin"); origin != "" {
		if p.origins[strings.ToLower(origin)] {
			return nil
		}
		return errors.New("origin not allowed")
	}
	if referer := c.Header("Referer"); referer != "" {
		u, err := url.Parse(referer)
		if err != nil {
			return errors.New("malformed referer")
		}
		if p.origins[strings.ToLower(u.Scheme+"://"+u.Host)] {
			return nil
		}
		return errors.New("referer not allowed")
	}
	return nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// RejectedError is answered with 403.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string   { return "csrf check failed: " + e.Reason }
func (e *RejectedError) StatusCode() int { return http.StatusForbidden }
func (e *RejectedError) Kind() string    { return "csrf_failed" }
func (e *RejectedError) Detail() any     { return "CSRF validation failed" }
