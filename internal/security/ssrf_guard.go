// Package security は画像URLのSSRF防止と、解析レポート本文のサニタイズを提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/forensiclab/internal/model"
)

// SSRFGuardService は画像URLの事前検証と、取得用の安全なHTTPクライアントを提供する。
// 解析登録時のfileUrl検証と、画像サイズ補完ワーカーの取得処理で使用される。
type SSRFGuardService interface {
	// NewSafeClient はプライベートIP等への接続をダイヤル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はfileUrlを静的に検証する。拒否時は検証エラーを返す。
	ValidateURL(rawURL string) error
}

// MaxFileURLLength はfileUrlとして受け付ける最大長。
const MaxFileURLLength = 2048

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes はホストがIPリテラルの場合に拒否するアドレス範囲。
// 名前解決後のアドレスはsafeurlのダイヤラー側で検証される。
var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",      // カレントネットワーク
	"10.0.0.0/8",     // RFC 1918
	"100.64.0.0/10",  // CGNAT
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル（メタデータIPを含む）
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"224.0.0.0/4",    // マルチキャスト
	"255.255.255.255/32",
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(c))
	}
	return prefixes
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlで包んだHTTPクライアントを返す。
// 許可するのはhttp/httpsの80/443番ポートのみ。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if err := checkURL(rawURL); err != nil {
		return model.NewValidationError("fileUrl", err.Error())
	}
	return nil
}

func checkURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	if len(rawURL) > MaxFileURLLength {
		return fmt.Errorf("URL too long")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// isBlockedAddr はゾーンを外し、IPv4射影IPv6も展開してから判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.WithZone("").Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if strings.HasSuffix(lower, ".localhost") {
		return true
	}
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
