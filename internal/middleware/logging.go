package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/forensiclab/internal/metrics"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストごとにJSON構造化ログを出力し、ステータスコードをメトリクスに記録する。
// リクエストIDはクライアント指定のX-Request-IDがUUIDとして妥当ならそれを使い、なければ生成する。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			// user_idはセッションミドルウェアが内側で注入するため、ポインタ経由で受け取る
			holder := &userIDHolder{}
			ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
			ctx = context.WithValue(ctx, userIDHolderKey, holder)

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			collector.RecordHTTPStatus(rec.statusCode)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)
			args := []any{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if holder.userID > 0 {
				args = append(args, slog.Int("user_id", int(holder.userID)))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

// RequestIDFromContext はロギングミドルウェアが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

type userIDHolder struct {
	userID int32
}

var userIDHolderKey = contextKey("user_id_holder")

// noteUserID は外側のロギングミドルウェアに認証済みユーザーIDを伝える。
func noteUserID(ctx context.Context, userID int32) {
	if h, ok := ctx.Value(userIDHolderKey).(*userIDHolder); ok {
		h.userID = userID
	}
}
