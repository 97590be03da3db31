// Package security は外部サービスへの送信とストーリー本文の取り込みを安全に行うための機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard はストーリー取得元への通信に使うHTTPクライアントを生成し、
// 設定された取得元URLを検証する。
type OutboundGuard interface {
	// NewClient はプライベートアドレス宛ての通信を拒否するHTTPクライアントを返す。
	// 名前解決後のIPアドレスもsafeurlのDialerで検証される。
	NewClient(timeout time.Duration) *http.Client

	// ValidateSourceURL は取得元URLをリクエスト前に静的に検証する。
	ValidateSourceURL(rawURL string) error
}

var sourceSchemes = []string{"http", "https"}

// deniedNetworks は取得元として許可しないアドレス範囲。
var deniedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		networks = append(networks, n)
	}
	return networks
}

type outboundGuard struct {
	ports []int
}

// NewOutboundGuard はOutboundGuardを生成する。
// 接続先ポートは80と443に限定される。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{ports: []int{80, 443}}
}

func (g *outboundGuard) NewClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(sourceSchemes...).
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(cfg).Client
}

func (g *outboundGuard) ValidateSourceURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("source URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid source URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", u.Scheme, sourceSchemes)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("source URL has no host: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range deniedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}
	return nil
}
