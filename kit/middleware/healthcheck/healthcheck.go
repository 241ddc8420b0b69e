package healthcheck

import (
	"net/http"
	"strings"

	"github.com/panther-now/panther/kit/response"
)

// OK returns a middleware that answers GET and HEAD requests to
// endpoint with 200 "OK" before they reach routing, so health probes
// work whatever routes the app registers.
func OK(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isAppropriateMethod := r.Method == http.MethodGet || r.Method == http.MethodHead
			if isAppropriateMethod && strings.EqualFold(r.URL.Path, endpoint) {
				res := response.Text(http.StatusOK, "OK")
				res.Header.Set("Cache-Control", "no-store")
				res.Write(w, r.Method == http.MethodHead)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Healthz answers "/healthz".
var Healthz = OK("/healthz")
