package auth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/forensiclab/internal/model"
)

const (
	// CallbackPath はOAuthポータルからの戻り先パス。コールバックハンドラーはこのパスで待ち受ける。
	CallbackPath = "/api/oauth/callback"

	// signInPath はポータル側のサインイン入口パス。
	signInPath = "/app-auth"

	// signInType はtypeクエリパラメータの固定値。
	signInType = "signIn"
)

// PortalConfig はOAuthポータルへのリダイレクトURL生成に必要な設定。
// 環境変数は読まず、呼び出し側が明示的に渡す。
type PortalConfig struct {
	PortalURL string // OAuthポータルのベースURL（絶対URL、http/https）
	AppID     string // クライアント識別子
}

// Validate は設定を検証する。ネットワーク処理の前に呼ばれる前提条件チェック。
func (c PortalConfig) Validate() error {
	if strings.TrimSpace(c.PortalURL) == "" {
		return model.NewConfigurationError("OAUTH_PORTAL_URL", "未設定です")
	}
	u, err := url.Parse(c.PortalURL)
	if err != nil {
		return model.NewConfigurationError("OAUTH_PORTAL_URL", fmt.Sprintf("URLとして解釈できません: %q", c.PortalURL))
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return model.NewConfigurationError("OAUTH_PORTAL_URL", fmt.Sprintf("http(s)の絶対URLではありません: %q", c.PortalURL))
	}
	if strings.TrimSpace(c.AppID) == "" {
		return model.NewConfigurationError("APP_ID", "未設定です")
	}
	return nil
}

// CallbackURL はoriginからコールバック先のredirectUriを組み立てる。
func CallbackURL(origin string) string {
	return strings.TrimRight(origin, "/") + CallbackPath
}

// EncodeState はredirectUriをstateパラメータ用に可逆エンコードする。
// 署名も暗号化もしない単なる運搬用の値であり、認可判断に使ってはならない。
// CSRF対策はコールバック側が別途発行するnonceで行う。
func EncodeState(redirectURI string) string {
	return base64.StdEncoding.EncodeToString([]byte(redirectURI))
}

// DecodeState はstateパラメータからredirectUriを復元する。
// 復元値はログ・診断用途に限る。
func DecodeState(state string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return "", fmt.Errorf("failed to decode state: %w", err)
	}
	return string(b), nil
}

// BuildLoginURL はOAuthポータルのサインイン画面へのリダイレクトURLを生成する。
// クエリパラメータはappId, redirectUri, state, typeの4つで、キー順に並ぶ。
// 設定が不正な場合はURLを組み立てる前にConfigurationErrorを返す。副作用はない。
func BuildLoginURL(cfg PortalConfig, origin string) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	base, err := url.Parse(cfg.PortalURL)
	if err != nil {
		return "", model.NewConfigurationError("OAUTH_PORTAL_URL", err.Error())
	}

	redirectURI := CallbackURL(origin)

	entry := base.ResolveReference(&url.URL{Path: signInPath})
	params := url.Values{
		"appId":       {cfg.AppID},
		"redirectUri": {redirectURI},
		"state":       {EncodeState(redirectURI)},
		"type":        {signInType},
	}
	entry.RawQuery = params.Encode()
	entry.Fragment = ""

	return entry.String(), nil
}
