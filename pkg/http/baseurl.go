package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// BaseURLStrategy is one source of the externally reachable base URL.
// Resolve returns ok=false when the strategy has no answer for r.
type BaseURLStrategy interface {
	Name() string
	Resolve(r *http.Request) (baseURL string, ok bool)
}

// BaseURLResolver tries its strategies in order and returns the first answer
type BaseURLResolver struct {
	strategies []BaseURLStrategy
}

// NewBaseURLResolver builds the standard chain:
// explicit config, trusted proxy headers, network interface probe, localhost.
func NewBaseURLResolver(explicit string, ipConfig *IPConfig, port string) *BaseURLResolver {
	return &BaseURLResolver{strategies: []BaseURLStrategy{
		ExplicitStrategy{URL: explicit},
		ForwardedHeaderStrategy{IPConfig: ipConfig},
		NewInterfaceProbeStrategy(port),
		LocalhostStrategy{Port: port},
	}}
}

// NewBaseURLResolverWith uses a custom strategy chain
func NewBaseURLResolverWith(strategies ...BaseURLStrategy) *BaseURLResolver {
	return &BaseURLResolver{strategies: strategies}
}

// Resolve returns the base URL for r (r may be nil outside a request) and the strategy that produced it
func (b *BaseURLResolver) Resolve(r *http.Request) (string, string) {
	for _, s := range b.strategies {
		if u, ok := s.Resolve(r); ok {
			return u, s.Name()
		}
	}
	return "http://localhost", "fallback"
}

// ExplicitStrategy returns a configured URL
type ExplicitStrategy struct {
	URL string
}

func (ExplicitStrategy) Name() string { return "explicit" }

func (s ExplicitStrategy) Resolve(*http.Request) (string, bool) {
	return normalizeBaseURL(s.URL)
}

// ForwardedHeaderStrategy reads X-Forwarded-Host and X-Forwarded-Proto set by a trusted proxy
type ForwardedHeaderStrategy struct {
	IPConfig *IPConfig
}

func (ForwardedHeaderStrategy) Name() string { return "forwarded" }

func (s ForwardedHeaderStrategy) Resolve(r *http.Request) (string, bool) {
	if r == nil || !FromTrustedProxy(r, s.IPConfig) {
		return "", false
	}

	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		return "", false
	}

	proto := strings.ToLower(firstHeaderValue(r.Header.Get("X-Forwarded-Proto")))
	if proto != "http" && proto != "https" {
		proto = "https"
	}

	return normalizeBaseURL(proto + "://" + host)
}

// InterfaceLister returns the host's network interfaces
type InterfaceLister func(ctx context.Context) (psnet.InterfaceStatList, error)

// InterfaceProbeStrategy picks the first non-loopback IPv4 address of an interface that is up.
// The probe runs once; the result is cached for the life of the process.
type InterfaceProbeStrategy struct {
	Port   string
	list   InterfaceLister
	once   *sync.Once
	result *string
}

func NewInterfaceProbeStrategy(port string) InterfaceProbeStrategy {
	return NewInterfaceProbeStrategyWith(port, psnet.InterfacesWithContext)
}

func NewInterfaceProbeStrategyWith(port string, list InterfaceLister) InterfaceProbeStrategy {
	return InterfaceProbeStrategy{Port: port, list: list, once: &sync.Once{}, result: new(string)}
}

func (InterfaceProbeStrategy) Name() string { return "interface" }

func (s InterfaceProbeStrategy) Resolve(*http.Request) (string, bool) {
	if s.once == nil || s.list == nil {
		return "", false
	}
	s.once.Do(func() {
		*s.result = s.probe()
	})
	return *s.result, *s.result != ""
}

func (s InterfaceProbeStrategy) probe() string {
	interfaces, err := s.list(context.Background())
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.To4() == nil {
				continue
			}
			return "http://" + hostPort(ip.String(), s.Port)
		}
	}
	return ""
}

// LocalhostStrategy is the last resort
type LocalhostStrategy struct {
	Port string
}

func (LocalhostStrategy) Name() string { return "localhost" }

func (s LocalhostStrategy) Resolve(*http.Request) (string, bool) {
	return "http://" + hostPort("localhost", s.Port), true
}

// normalizeBaseURL accepts only absolute http(s) URLs and strips path, query and fragment
func normalizeBaseURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return fmt.Sprintf("%s://%s", scheme, strings.ToLower(u.Host)), true
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func hostPort(host, port string) string {
	if port == "" || port == "80" {
		return host
	}
	return net.JoinHostPort(host, port)
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
