package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTokenPath    = "/api/oauth/token"
	defaultUserInfoPath = "/api/oauth/userinfo"

	// maxPortalResponseSize はポータル応答の読み取り上限。
	maxPortalResponseSize = 1 << 20
)

// PortalExchangeConfig はOAuthポータルとの認可コード交換の設定。
type PortalExchangeConfig struct {
	ServerURL string // トークン・ユーザー情報エンドポイントのホスト
	AppID     string
	Origin    string // redirectUriの再構成に使うアプリのorigin

	// テスト用にオーバーライド可能なURL
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// PortalExchanger はOAuthポータルで認可コードをユーザー情報に交換する。
type PortalExchanger struct {
	config PortalExchangeConfig
	client *http.Client
}

// NewPortalExchanger はPortalExchangerを生成する。
func NewPortalExchanger(config PortalExchangeConfig) *PortalExchanger {
	server := strings.TrimRight(config.ServerURL, "/")
	if config.TokenURL == "" {
		config.TokenURL = server + defaultTokenPath
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = server + defaultUserInfoPath
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PortalExchanger{config: config, client: client}
}

// portalTokenResponse はトークンエンドポイントのレスポンス。
type portalTokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// portalUserInfo はユーザー情報エンドポイントのレスポンス。
type portalUserInfo struct {
	OpenID      string `json:"openId"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	LoginMethod string `json:"loginMethod"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *PortalExchanger) ExchangeCode(ctx context.Context, code string) (*PortalIdentity, error) {
	token, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	info, err := p.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &PortalIdentity{
		OpenID:      info.OpenID,
		Name:        info.Name,
		Email:       info.Email,
		LoginMethod: info.LoginMethod,
	}, nil
}

func (p *PortalExchanger) exchangeToken(ctx context.Context, code string) (*portalTokenResponse, error) {
	data := url.Values{
		"appId":       {p.config.AppID},
		"code":        {code},
		"grantType":   {"authorization_code"},
		"redirectUri": {CallbackURL(p.config.Origin)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", status, string(body))
	}

	var tokenResp portalTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	return &tokenResp, nil
}

func (p *PortalExchanger) fetchUserInfo(ctx context.Context, accessToken string) (*portalUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", status, string(body))
	}

	var info portalUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.OpenID == "" {
		return nil, fmt.Errorf("empty openId in user info response")
	}
	return &info, nil
}

func (p *PortalExchanger) do(req *http.Request) ([]byte, int, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPortalResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// compile-time interface check
var _ IdentityExchanger = (*PortalExchanger)(nil)
