package mux

import (
	"net/http"
	"sort"

	"github.com/panther-now/panther/kit/matcher"
)

type MatchResult struct {
	Route  *Route
	Params matcher.Params

	// Set when a HEAD request was matched against a GET route.
	HeadFellBackToGet bool
}

/*
Resolve finds the route for method and an escaped request path. It is a
pure function of the registered routes and its arguments. On failure it
returns, in order of precedence:

  - *RedirectError if the path matches with its trailing slash toggled
    and the router redirects in that case
  - *MethodNotAllowedError if the path matches under other methods
  - *ParamCoercionError if the router answers coercion failures with 400
    and a parameter failed its type
  - *NotFoundError otherwise
*/
func (rt *Router) Resolve(method, path string) (*MatchResult, error) {
	if path == "" {
		path = "/"
	}

	if res, ok := rt.findBestMatch(method, path); ok {
		return res, nil
	}

	if rt.opts.TrailingSlash == TrailingSlashRedirect {
		if toggled := matcher.ToggleTrailingSlash(path); toggled != path {
			if _, ok := rt.findBestMatch(method, toggled); ok {
				// Built from the cleaned path: a raw "//host" Location
				// would send the client to another origin.
				location := matcher.ToggleTrailingSlash(matcher.CleanPath(path))
				return nil, &RedirectError{Status: redirectStatus(method), Location: location}
			}
		}
	}

	if allowed := rt.allowedMethods(path); len(allowed) > 0 {
		return nil, &MethodNotAllowedError{Method: method, Path: path, Allowed: allowed}
	}

	if rt.opts.CoercionFailure == CoercionBadRequest {
		for _, m := range candidateMethods(method) {
			mm, ok := rt.methodToMatcherMap[m]
			if !ok {
				continue
			}
			if miss := mm.matcher.FindCoercionFailure(path); miss != nil {
				return nil, &ParamCoercionError{Err: miss}
			}
		}
	}

	return nil, &NotFoundError{Method: method, Path: path}
}

func (rt *Router) findBestMatch(method, path string) (*MatchResult, bool) {
	for i, m := range candidateMethods(method) {
		mm, ok := rt.methodToMatcherMap[m]
		if !ok {
			continue
		}
		match, ok := mm.matcher.FindBestMatch(path)
		if !ok {
			continue
		}
		return &MatchResult{
			Route:             mm.routes[match.Pattern],
			Params:            match.Params,
			HeadFellBackToGet: i > 0,
		}, true
	}
	return nil, false
}

var headCandidates = []string{http.MethodHead, http.MethodGet}

// HEAD requests fall back to GET routes when no HEAD route matches.
func candidateMethods(method string) []string {
	if method == http.MethodHead {
		return headCandidates
	}
	return []string{method}
}

// allowedMethods lists the registered methods with a route matching
// path, sorted. HEAD is listed only if registered explicitly.
func (rt *Router) allowedMethods(path string) []string {
	var allowed []string
	for m, mm := range rt.methodToMatcherMap {
		if _, ok := mm.matcher.FindBestMatch(path); ok {
			allowed = append(allowed, m)
		}
	}
	sort.Strings(allowed)
	return allowed
}
