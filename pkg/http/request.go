package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the client address the IP block list is keyed on.
// Forwarding headers are honoured only when the direct peer is a trusted proxy;
// X-Forwarded-For is walked right to left and the first hop that is not itself
// a trusted proxy wins, so a client cannot prepend a forged address.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if !FromTrustedProxy(r, config) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := strings.TrimSpace(hops[i])
			if !isValidIP(ip) {
				continue
			}
			if !isTrustedProxy(ip, config.TrustedProxies) {
				return canonicalIP(ip)
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(xri) {
		return canonicalIP(xri)
	}

	return remoteIP
}

// FromTrustedProxy reports whether the direct peer of r is a configured proxy
func FromTrustedProxy(r *http.Request, config *IPConfig) bool {
	if config == nil {
		return false
	}
	return isTrustedProxy(getRemoteAddr(r), config.TrustedProxies)
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return canonicalIP(ip)
		}
		return canonicalIP(r.RemoteAddr)
	}
	return "unknown"
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return false
	}

	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // Skip invalid CIDR ranges
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}

// isValidIP checks if a string is a valid IPv4 or IPv6 address
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// canonicalIP normalizes textual forms (e.g. "::ffff:1.2.3.4") so one client maps to one block-list key
func canonicalIP(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}
