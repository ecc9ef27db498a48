package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLValidator は取得前にURLを静的に検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// blockedPrefixes はフィード取得で拒否するアドレス範囲。
// プライベート、ループバック、リンクローカル（メタデータIPを含む）、IPv6ユニークローカル。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var blockedHostSuffixes = []string{"localhost", ".local", ".internal"}

// SSRFGuard はソース検査で使うHTTPクライアントと事前検証を提供する。
type SSRFGuard struct {
	ports []int
}

// NewSSRFGuard はSSRFGuardを生成する。portsが空の場合は80と443のみ許可する。
func NewSSRFGuard(ports ...int) *SSRFGuard {
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &SSRFGuard{ports: ports}
}

// Client はsafeurlでラップしたHTTPクライアントを返す。
// 接続時にDNS解決後のIPアドレスを検証するため、DNS再バインディングも拒否される。
func (g *SSRFGuard) Client(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("missing host in %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("blocked address %s", addr)
			}
		}
		return nil
	}

	for _, suffix := range blockedHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return fmt.Errorf("blocked host %s", host)
		}
	}

	if port := u.Port(); port != "" && !g.portAllowed(port) {
		return fmt.Errorf("disallowed port %s", port)
	}
	return nil
}

func (g *SSRFGuard) portAllowed(port string) bool {
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return false
	}
	for _, allowed := range g.ports {
		if p == allowed {
			return true
		}
	}
	return false
}
