package mux

import (
	"context"
	"time"

	"github.com/panther-now/panther/kit/response"
)

// Timeout gives the handlers it wraps less time than the dispatcher
// does. When d runs out the chain gets a *TimeoutError (504) while the
// inner handler keeps running in the background; its cleanups still
// wait for it.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(c *Ctx) (*response.Response, error) {
			outer := c.Request()
			ctx, cancel := context.WithTimeout(outer.Context(), d)
			defer cancel()

			c.SetRequest(outer.WithContext(ctx))
			res, err := c.runGuarded(next, d)
			if ctx.Err() == nil {
				// A handler still running after a timeout keeps the
				// narrowed request.
				c.SetRequest(outer)
			}
			return res, err
		})
	}
}
