// Package app はサブコマンドの解析と、各起動モードの依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/forensiclab/internal/auth"
	"github.com/hitoshi/forensiclab/internal/config"
	"github.com/hitoshi/forensiclab/internal/database"
	"github.com/hitoshi/forensiclab/internal/forensic"
	"github.com/hitoshi/forensiclab/internal/handler"
	"github.com/hitoshi/forensiclab/internal/logger"
	"github.com/hitoshi/forensiclab/internal/metrics"
	"github.com/hitoshi/forensiclab/internal/middleware"
	"github.com/hitoshi/forensiclab/internal/repository"
	"github.com/hitoshi/forensiclab/internal/security"
	"github.com/hitoshi/forensiclab/internal/worker/backfill"
	"github.com/hitoshi/forensiclab/internal/worker/cleanup"
)

const (
	dbPingTimeout      = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
	backfillConcurrent = 4
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込んでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envの読み込み（無ければ何もしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. ログレベルを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetrics はプロセス単位のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	analysisRepo := repository.NewPostgresAnalysisRepo(db)
	resultRepo := repository.NewPostgresResultRepo(db)
	auditRepo := repository.NewPostgresAuditRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry, collector := newMetrics()
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. ドメインサービスの初期化
	exchanger := auth.NewPortalExchanger(cfg.PortalExchange())
	authService := auth.NewService(
		exchanger, userRepo, sessionRepo, auditRepo, collector,
		auth.ServiceConfig{Portal: cfg.Portal(), SessionMaxAge: cfg.SessionMaxAge},
	)
	forensicService := forensic.NewService(
		analysisRepo, resultRepo, auditRepo, ssrfGuard, collector,
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		HSTS:        cfg.CookieSecure,

		Health:         db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		AnalysisService: forensicService,
		AuditService:    forensicService,
		ReportSanitizer: sanitizer,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はserverを起動し、ctxのキャンセルでグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、保持期間クリーンアップと画像サイズ補完を起動する。
// WORKER_METRICS_PORTが設定されていれば/metricsも公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	analysisRepo := repository.NewPostgresAnalysisRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry, collector := newMetrics()
	ssrfGuard := security.NewSSRFGuard()

	// 4. ジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(analysisRepo, sessionRepo, collector, slog.Default())
	cleanupJob.RetentionDays = cfg.AnalysisRetentionDays

	prober := backfill.NewProber(ssrfGuard.NewSafeClient(cfg.FetchTimeout), ssrfGuard, cfg.FetchMaxSize)
	scheduler := backfill.NewScheduler(
		analysisRepo, prober, collector, slog.Default(),
		cfg.BackfillBatchSize, backfillConcurrent,
	)

	slog.Info("worker starting",
		slog.Duration("retention_interval", cfg.RetentionInterval),
		slog.Duration("backfill_interval", cfg.BackfillInterval),
		slog.Int("retention_days", cfg.AnalysisRetentionDays),
	)

	if cfg.WorkerMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, metricsServer, "worker metrics server"); err != nil {
				slog.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	// クリーンアップジョブをバックグラウンドで実行
	go cleanupJob.Start(ctx, cfg.RetentionInterval)

	// 画像サイズ補完をメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.BackfillInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
//
//	migrate            未適用のマイグレーションをすべて適用する
//	migrate down [N]   N段階（省略時1）戻す
//	migrate version    現在のバージョンを表示する
func runMigrate(cfg *config.Config, args []string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	action, steps, err := parseMigrateArgs(args)
	if err != nil {
		return err
	}

	switch action {
	case migrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
	case migrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

type migrateAction int

const (
	migrateUp migrateAction = iota
	migrateDown
	migrateVersion
)

// parseMigrateArgs はmigrateサブコマンドの引数を解析する。
func parseMigrateArgs(args []string) (migrateAction, int, error) {
	if len(args) == 0 || args[0] == "up" {
		return migrateUp, 0, nil
	}
	switch args[0] {
	case "version":
		return migrateVersion, 0, nil
	case "down":
		if len(args) < 2 {
			return migrateDown, 1, nil
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return 0, 0, fmt.Errorf("invalid rollback steps %q: must be a positive integer", args[1])
		}
		return migrateDown, steps, nil
	default:
		return 0, 0, fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
