// Package throttle limits how many requests a client may make in a
// fixed window of time.
package throttle

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/netutil"
	"github.com/panther-now/panther/kit/response"
)

// Throttling allows Rate requests per client every Duration.
type Throttling struct {
	Rate     int
	Duration time.Duration
}

type Options struct {
	Throttling

	// Identifies the client. Defaults to the client IP.
	KeyFunc func(c *mux.Ctx) string

	now func() time.Time
}

// Limiter counts requests per key in the current window. Counts from
// earlier windows are dropped as soon as a new window starts.
type Limiter struct {
	opts Options

	mu     sync.Mutex
	window int64
	counts map[string]int
}

func New(opts Options) *Limiter {
	if opts.Rate <= 0 {
		panic("throttle: rate must be positive")
	}
	if opts.Duration <= 0 {
		panic("throttle: duration must be positive")
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = func(c *mux.Ctx) string { return netutil.ClientIP(c.Request()) }
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Limiter{opts: opts, counts: make(map[string]int)}
}

// Allow records a request for key. When the key is over its rate it
// returns false and how long until the next window starts.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.opts.now()
	window := now.UnixNano() / int64(l.opts.Duration)

	l.mu.Lock()
	defer l.mu.Unlock()
	if window != l.window {
		l.window = window
		clear(l.counts)
	}
	if l.counts[key] >= l.opts.Rate {
		next := time.Unix(0, (window+1)*int64(l.opts.Duration))
		return false, next.Sub(now)
	}
	l.counts[key]++
	return true, 0
}

func (l *Limiter) Middleware() mux.Middleware {
	return mux.MiddlewareFromFunc(func(c *mux.Ctx, next mux.Handler) (*response.Response, error) {
		if ok, retryAfter := l.Allow(l.opts.KeyFunc(c)); !ok {
			return nil, &ThrottledError{RetryAfter: retryAfter}
		}
		return next.Handle(c)
	})
}

// ThrottledError is answered with 429 and a Retry-After header.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}
func (e *ThrottledError) StatusCode() int { return http.StatusTooManyRequests }
func (e *ThrottledError) Kind() string    { return "too_many_requests" }
func (e *ThrottledError) Detail() any     { return http.StatusText(http.StatusTooManyRequests) }
func (e *ThrottledError) Headers() http.Header {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return http.Header{"Retry-After": {strconv.Itoa(secs)}}
}
