// Package etag adds strong ETags to successful GET and HEAD responses
// and answers matching If-None-Match requests with 304 Not Modified.
package etag

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/response"
	"golang.org/x/crypto/blake2b"
)

// Responses with bodies larger than this are passed through untagged.
const DefaultMaxBytes = 4 << 20

type Options struct {
	MaxBytes int
}

var Middleware = New(nil)

func New(opts *Options) mux.Middleware {
	maxBytes := DefaultMaxBytes
	if opts != nil && opts.MaxBytes > 0 {
		maxBytes = opts.MaxBytes
	}

	return mux.MiddlewareFromFunc(func(c *mux.Ctx, next mux.Handler) (*response.Response, error) {
		res, err := next.Handle(c)
		if err != nil || res == nil {
			return res, err
		}
		method := c.Method()
		if method != http.MethodGet && method != http.MethodHead {
			return res, nil
		}
		if res.Status != http.StatusOK && res.Status != 0 {
			return res, nil
		}
		if len(res.Body) > maxBytes || res.Header.Get("ETag") != "" {
			return res, nil
		}

		tag := Of(res.Body)
		if matches(c.Header("If-None-Match"), tag) {
			notModified := response.New(http.StatusNotModified)
			notModified.Header.Set("ETag", tag)
			if cc := res.Header.Get("Cache-Control"); cc != "" {
				notModified.Header.Set("Cache-Control", cc)
			}
			return notModified, nil
		}

		tagged := *res
		tagged.Header = res.Header.Clone()
		if tagged.Header == nil {
			tagged.Header = make(http.Header)
		}
		tagged.Header.Set("ETag", tag)
		return &tagged, nil
	})
}

// Of returns the quoted strong ETag for body.
func Of(body []byte) string {
	sum := blake2b.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// matches implements the weak comparison If-None-Match calls for.
func matches(ifNoneMatch, tag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == tag {
			return true
		}
	}
	return false
}
