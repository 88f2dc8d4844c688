// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/forensiclab/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

type contextKey string

var (
	userIDContextKey    = contextKey("user_id")
	requestIDContextKey = contextKey("request_id")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はCookieのセッションを検証し、ユーザーIDをコンテキストに注入する。
// セッションが無い・期限切れの場合は401を返す。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteError(w, model.NewUnauthorizedError())
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteError(w, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteError(w, model.NewUnauthorizedError())
				return
			}

			noteUserID(r.Context(), session.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), session.UserID)))
		})
	}
}

// UserIDFromContext はセッションミドルウェアが注入したユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (int32, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int32)
	if !ok || userID <= 0 {
		return 0, false
	}
	return userID, true
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID int32) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
