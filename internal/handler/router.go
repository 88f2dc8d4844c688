package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forensiclab/internal/auth"
	"github.com/hitoshi/forensiclab/internal/metrics"
	"github.com/hitoshi/forensiclab/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	HSTS              bool

	// 運用エンドポイント（nilなら登録しない）
	Health         HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 解析・監査ログ
	AnalysisService AnalysisServiceInterface
	AuditService    AuditServiceInterface
	ReportSanitizer ReportSanitizer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → CSRF → Session → RateLimit(General)
//
// SessionとRateLimitは/api/analysesと/api/auditのグループにのみ適用する。
// 解析の登録と結果記録には登録系のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	analysisHandler := NewAnalysisHandler(deps.AnalysisService, deps.ReportSanitizer)
	auditHandler := NewAuditHandler(deps.AuditService)

	// --- 認証不要のルート ---

	if deps.Health != nil {
		r.Get("/health", healthHandler(deps.Health))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// OAuthポータルのフロー
	r.Get("/api/oauth/login", authHandler.Login)
	r.Get(auth.CallbackPath, authHandler.Callback)

	// セッション管理（Cookieを直接読む）
	r.Route("/auth", func(r chi.Router) {
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/analyses", func(r chi.Router) {
			r.Get("/", analysisHandler.ListAnalyses)
			r.With(deps.RateLimiter.UploadMiddleware()).Post("/", analysisHandler.CreateAnalysis)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", analysisHandler.GetAnalysis)
				r.Patch("/dimensions", analysisHandler.SetDimensions)
				r.With(deps.RateLimiter.UploadMiddleware()).Post("/result", analysisHandler.RecordResult)
			})
		})

		r.Route("/api/audit", func(r chi.Router) {
			r.Get("/", auditHandler.ListAudit)
			r.Post("/", auditHandler.AppendAudit)
		})
	})

	return r
}

// healthHandler はDBへのPingが成功すれば200、失敗すれば503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
