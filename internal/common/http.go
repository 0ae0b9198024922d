package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address. Forwarding headers are expected to be
// folded into RemoteAddr by chi's RealIP middleware upstream, so only
// RemoteAddr is trusted here. Unparseable values come back as "unknown".
func ClientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return "unknown"
}
