package auth

import (
	"net/url"
	"strings"
)

// SanitizeRedirect returns a safe post-login target.
//
//   - empty target: defaultPath
//   - "/..." target: unchanged ("//host" is treated as absolute, with the base scheme)
//   - absolute same-origin target: reduced to path, query and fragment
//   - absolute cross-origin target: unchanged
//   - anything else, or a parse failure of either URL: defaultPath
func SanitizeRedirect(target, baseURL, defaultPath string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return defaultPath
	}
	if strings.HasPrefix(target, "/") && !isSchemeRelative(target) {
		return target
	}

	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return defaultPath
	}
	t, err := url.Parse(target)
	if err != nil {
		return defaultPath
	}
	if isSchemeRelative(target) {
		t.Scheme = base.Scheme
	}
	if !t.IsAbs() || t.Host == "" {
		return defaultPath
	}

	if !sameOrigin(t, base) {
		return target
	}

	safe := t.EscapedPath()
	if safe == "" {
		safe = "/"
	}
	if t.RawQuery != "" {
		safe += "?" + t.RawQuery
	}
	if t.Fragment != "" {
		safe += "#" + t.EscapedFragment()
	}
	return safe
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

func isSchemeRelative(target string) bool {
	return strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\")
}
