package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newPortalServer はトークン・ユーザー情報エンドポイントを持つテスト用ポータルを立てる。
func newPortalServer(t *testing.T, tokenStatus int, userInfo map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("code"); got != "auth-code" {
			t.Errorf("code = %q, want %q", got, "auth-code")
		}
		if got := r.PostForm.Get("appId"); got != "app_123" {
			t.Errorf("appId = %q, want %q", got, "app_123")
		}
		if got := r.PostForm.Get("redirectUri"); got != "https://app.example.com/api/oauth/callback" {
			t.Errorf("redirectUri = %q", got)
		}
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "portal-token", "tokenType": "Bearer", "expiresIn": 3600})
	})
	mux.HandleFunc("/api/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer portal-token" {
			t.Errorf("Authorization = %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userInfo)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPortalExchanger_ExchangeCode_Success(t *testing.T) {
	srv := newPortalServer(t, http.StatusOK, map[string]string{
		"openId":      "open-42",
		"name":        "Portal User",
		"email":       "user@example.com",
		"loginMethod": "google",
	})

	ex := NewPortalExchanger(PortalExchangeConfig{
		ServerURL: srv.URL + "/",
		AppID:     "app_123",
		Origin:    "https://app.example.com",
	})

	identity, err := ex.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if identity.OpenID != "open-42" || identity.Name != "Portal User" || identity.Email != "user@example.com" || identity.LoginMethod != "google" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestPortalExchanger_ExchangeCode_TokenError(t *testing.T) {
	srv := newPortalServer(t, http.StatusBadRequest, nil)

	ex := NewPortalExchanger(PortalExchangeConfig{ServerURL: srv.URL, AppID: "app_123", Origin: "https://app.example.com"})

	_, err := ex.ExchangeCode(context.Background(), "auth-code")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should mention status, got %v", err)
	}
}

func TestPortalExchanger_ExchangeCode_MissingOpenID(t *testing.T) {
	srv := newPortalServer(t, http.StatusOK, map[string]string{"name": "No ID"})

	ex := NewPortalExchanger(PortalExchangeConfig{ServerURL: srv.URL, AppID: "app_123", Origin: "https://app.example.com"})

	if _, err := ex.ExchangeCode(context.Background(), "auth-code"); err == nil {
		t.Fatal("expected error for missing openId")
	}
}

func TestNewPortalExchanger_OverridableURLs(t *testing.T) {
	ex := NewPortalExchanger(PortalExchangeConfig{
		ServerURL:   "https://portal.example.com",
		UserInfoURL: "https://id.example.com/me",
	})
	if ex.config.TokenURL != "https://portal.example.com/api/oauth/token" {
		t.Errorf("TokenURL = %q", ex.config.TokenURL)
	}
	if ex.config.UserInfoURL != "https://id.example.com/me" {
		t.Errorf("UserInfoURL = %q", ex.config.UserInfoURL)
	}
	if ex.client == nil {
		t.Error("expected default HTTP client")
	}
}
