package httpapi

import (
	"net"
	"net/http"
	"strings"
)

// IdentityFunc derives the caller identity used for per-client limits.
type IdentityFunc func(r *http.Request) string

// ClientIP returns an IdentityFunc resolving the client address. With
// trustProxy, CF-Connecting-IP wins, then the first X-Forwarded-For hop;
// otherwise only the socket peer address is used.
func ClientIP(trustProxy bool) IdentityFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if v := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); v != "" {
				return v
			}
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
