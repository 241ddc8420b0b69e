package matcher

import (
	"net/url"
	"strings"
)

// ParseSegments splits a slash-separated path into its non-empty
// segments. Leading, trailing and repeated slashes produce no segments.
func ParseSegments(path string) []string {
	if path == "" || path == "/" {
		return []string{}
	}

	// Count separators up front so the slice is allocated once.
	maxSegments := 1
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			maxSegments++
		}
	}
	segs := make([]string, 0, maxSegments)

	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segs = append(segs, path[start:])
	}

	return segs
}

type requestPath struct {
	segments      []string
	trailingSlash bool
}

// splitRequestPath splits an escaped request path and unescapes each
// segment individually, so an encoded "%2F" stays inside its segment.
func splitRequestPath(escapedPath string) (requestPath, bool) {
	raw := ParseSegments(escapedPath)
	rp := requestPath{
		segments:      raw,
		trailingSlash: len(raw) > 0 && escapedPath[len(escapedPath)-1] == '/',
	}
	for i, seg := range raw {
		if !needsUnescape(seg) {
			continue
		}
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			return requestPath{}, false
		}
		rp.segments[i] = unescaped
	}
	return rp, true
}

func needsUnescape(seg string) bool {
	for i := 0; i < len(seg); i++ {
		if seg[i] == '%' {
			return true
		}
	}
	return false
}

// CleanPath collapses empty segments, so the result never starts with
// "//". A trailing slash survives as a single slash.
func CleanPath(path string) string {
	segs := ParseSegments(path)
	if len(segs) == 0 {
		return "/"
	}
	clean := "/" + strings.Join(segs, "/")
	if path[len(path)-1] == '/' {
		clean += "/"
	}
	return clean
}

// ToggleTrailingSlash adds a trailing slash to path, or removes it if
// present. The root path is returned unchanged.
func ToggleTrailingSlash(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if path[len(path)-1] == '/' {
		trimmed := path
		for len(trimmed) > 1 && trimmed[len(trimmed)-1] == '/' {
			trimmed = trimmed[:len(trimmed)-1]
		}
		return trimmed
	}
	return path + "/"
}
