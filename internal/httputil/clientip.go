package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address of the peer that posted the request.
// Forwarding headers are honored only when the direct peer is a loopback
// address, which is the case for a local reverse proxy in front of the
// ingestion surface. Anything else could spoof them.
func ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !isLoopback(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// IsLocal reports whether the request originates on this host.
func IsLocal(r *http.Request) bool {
	return isLoopback(ClientIP(r))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
