package netutil

import (
	"net"
	"net/http"
	"strings"
)

// IsLocalhost reports whether host (a Host header value, with or
// without a port) names the loopback interface.
func IsLocalhost(host string) bool {
	h := StripPort(host)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// ClientIP returns the address of the client without its port. Behind
// a proxy, run chi's RealIP middleware first.
func ClientIP(r *http.Request) string {
	return StripPort(r.RemoteAddr)
}

// StripPort returns the host part of hostport, which may lack a port.
func StripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	if strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]") {
		return hostport[1 : len(hostport)-1]
	}
	return hostport
}
