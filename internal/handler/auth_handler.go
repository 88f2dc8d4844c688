package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/forensiclab/internal/auth"
	"github.com/hitoshi/forensiclab/internal/middleware"
	"github.com/hitoshi/forensiclab/internal/model"
)

const (
	oauthNonceCookie = "oauth_nonce"
	oauthNonceMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(origin string) (string, error)
	HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string // サインイン後の戻り先。ポータルへ渡すoriginにもなる
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuthポータル経由のサインイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	nonces  *auth.NonceStore
}

// NewAuthHandler はAuthHandlerを生成する。発行したnonceはハンドラーが保持する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		nonces:  auth.NewNonceStore(oauthNonceMaxAge * time.Second),
	}
}

type userResponse struct {
	ID           int32     `json:"id"`
	OpenID       string    `json:"openId"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email,omitempty"`
	LoginMethod  string    `json:"loginMethod,omitempty"`
	Role         string    `json:"role"`
	LastSignedIn time.Time `json:"lastSignedIn"`
}

var errNonceMissing = &model.APIError{
	Kind:     model.KindValidation,
	Code:     "OAUTH_NONCE_MISSING",
	Message:  "サインインの開始情報が見つかりません。",
	Category: "auth",
	Action:   "もう一度サインインをやり直してください。",
}

var errNonceInvalid = &model.APIError{
	Kind:     model.KindValidation,
	Code:     "OAUTH_NONCE_INVALID",
	Message:  "サインインの開始情報が無効か期限切れです。",
	Category: "auth",
	Action:   "もう一度サインインをやり直してください。",
}

// Login はOAuthポータルのサインイン画面へリダイレクトする。
// GET /api/oauth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.service.GetLoginURL(h.config.BaseURL)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	nonce, err := h.nonces.Issue()
	if err != nil {
		slog.Error("failed to generate oauth nonce", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   oauthNonceMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthポータルからのコールバックを処理する。
// GET /api/oauth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	nonce, err := r.Cookie(oauthNonceCookie)
	h.clearCookie(w, oauthNonceCookie, "")
	if err != nil || nonce.Value == "" {
		slog.Warn("oauth callback without nonce cookie")
		middleware.WriteError(w, errNonceMissing)
		return
	}
	if !h.nonces.Consume(nonce.Value) {
		slog.Warn("oauth callback with unknown or expired nonce")
		middleware.WriteError(w, errNonceInvalid)
		return
	}

	// stateは運搬用の値で検証には使わない
	if state := r.URL.Query().Get("state"); state != "" {
		if redirectURI, err := auth.DecodeState(state); err != nil {
			slog.Warn("undecodable oauth state", slog.String("error", err.Error()))
		} else {
			slog.Debug("oauth callback", slog.String("redirect_uri", redirectURI))
		}
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteError(w, model.NewValidationError("code", "認可コードがありません"))
		return
	}

	session, _, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.clearCookie(w, middleware.SessionCookieName, h.config.CookieDomain)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindUnauthorized, model.KindNotFound:
			middleware.WriteError(w, model.NewUnauthorizedError())
		default:
			middleware.WriteError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:           user.ID,
		OpenID:       user.OpenID,
		Name:         user.Name,
		Email:        user.Email,
		LoginMethod:  user.LoginMethod,
		Role:         string(user.Role),
		LastSignedIn: user.LastSignedIn,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
