package auth

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SessionCookieBaseName is the session cookie name before any prefix is applied
const SessionCookieBaseName = "session_token"

// HostPrefix locks a cookie to the issuing host; browsers only accept it with Secure, Path=/ and no Domain
const HostPrefix = "__Host-"

// CookiePolicy holds the transport and scope attributes derived from the base URL
type CookiePolicy struct {
	Domain     string // Empty string = current host only
	Secure     bool   // HTTPS only
	NamePrefix string
	SameSite   http.SameSite
}

// Name is the full session cookie name
func (p CookiePolicy) Name() string {
	return p.NamePrefix + SessionCookieBaseName
}

// PolicySource picks the cookie policy for a request
type PolicySource interface {
	For(r *http.Request) CookiePolicy
}

// For returns p itself, so a fixed policy is a PolicySource
func (p CookiePolicy) For(*http.Request) CookiePolicy {
	return p
}

// BaseURLResolver returns the externally reachable base URL of a request and the strategy that produced it
type BaseURLResolver interface {
	Resolve(r *http.Request) (string, string)
}

// ResolvedPolicy derives the cookie policy from the base URL each request resolves to
type ResolvedPolicy struct {
	Resolver BaseURLResolver
}

// For resolves the base URL of r and derives the policy from it
func (p ResolvedPolicy) For(r *http.Request) CookiePolicy {
	base, _ := p.Resolver.Resolve(r)
	return ResolveCookiePolicy(base)
}

// ResolveCookiePolicy derives cookie attributes from the deployment base URL.
// Secure only for https; host-only for localhost, loopback and IP literals;
// the __Host- prefix only when both Secure is set and Domain is not.
// An unparseable base URL resolves to the most permissive local policy.
func ResolveCookiePolicy(baseURL string) CookiePolicy {
	policy := CookiePolicy{SameSite: http.SameSiteLaxMode}

	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Hostname() == "" {
		return policy
	}

	policy.Secure = strings.EqualFold(u.Scheme, "https")

	host := strings.ToLower(u.Hostname())
	if !isHostOnly(host) {
		policy.Domain = host
	}

	if policy.Secure && policy.Domain == "" {
		policy.NamePrefix = HostPrefix
	}

	return policy
}

func isHostOnly(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return true
	}
	return false
}

// SetSessionCookie sets the session token in an httpOnly cookie
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, policy CookiePolicy) {
	maxAge := int(ttl / time.Second)
	cookie := &http.Cookie{
		Name:     policy.Name(),
		Value:    token,
		Path:     "/",
		Domain:   policy.Domain,
		Expires:  time.Now().Add(ttl),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   policy.Secure,
		SameSite: policy.SameSite,
	}
	http.SetCookie(w, cookie)
}

// ClearSessionCookie clears the session cookie
func ClearSessionCookie(w http.ResponseWriter, policy CookiePolicy) {
	cookie := &http.Cookie{
		Name:     policy.Name(),
		Value:    "",
		Path:     "/",
		Domain:   policy.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   policy.Secure,
		SameSite: policy.SameSite,
	}
	http.SetCookie(w, cookie)
}

// GetSessionCookie retrieves the session token from cookies
func GetSessionCookie(r *http.Request, policy CookiePolicy) (string, error) {
	cookie, err := r.Cookie(policy.Name())
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
