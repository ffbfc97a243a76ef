// Package security はアプリケーションのセキュリティ機能を提供する。
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

// LinkGuard は外部URLの安全性を検証する。
// 掲示板フィードの取得と、オンライン診療の会議URLの検証に使用する。
type LinkGuard interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
	// DNS解決後にDialerレベルで拒否される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はhttp/httpsかつ公開ホストを指すURLかを静的に検証する。
	ValidateURL(rawURL string) error

	// ValidateMeetingURL はオンライン診療の会議URLを検証する。
	// httpsのみ許可し、許可ホストが設定されている場合はそのホスト（またはサブドメイン）に限る。
	ValidateMeetingURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は静的検証で拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（メタデータIP 169.254.169.254 を含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// linkGuard はLinkGuardの実装。
type linkGuard struct {
	meetingHosts []string
}

// NewLinkGuard はLinkGuardを生成する。
// meetingHostsが空の場合、会議URLは公開ホストであればホストを問わない。
func NewLinkGuard(meetingHosts []string) *linkGuard {
	hosts := make([]string, 0, len(meetingHosts))
	for _, h := range meetingHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &linkGuard{meetingHosts: hosts}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
func (g *linkGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性を事前に検証する。DNS解決は行わない。
func (g *linkGuard) ValidateURL(rawURL string) error {
	_, err := parsePublicURL(rawURL, allowedSchemes)
	return err
}

// ValidateMeetingURL はオンライン診療の会議URLを検証する。
func (g *linkGuard) ValidateMeetingURL(rawURL string) error {
	parsed, err := parsePublicURL(rawURL, []string{"https"})
	if err != nil {
		return err
	}
	if len(g.meetingHosts) == 0 {
		return nil
	}

	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range g.meetingHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("meeting host not allowed: %s", host)
}

func parsePublicURL(rawURL string, schemes []string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !containsFold(schemes, scheme) {
		return nil, fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, schemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return nil, fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return parsed, nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return nil, fmt.Errorf("blocked host: %s", host)
	}

	return parsed, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
