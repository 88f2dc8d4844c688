// Package cleanup は保持期間を超過したデータの自動削除ジョブを提供する。
// 保持期間（デフォルト365日）を超過した画像解析と期限切れセッションを
// 日次バッチで削除する。forensic_resultsはCASCADE削除で自動的に処理され、
// 監査証跡は削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/forensiclab/internal/metrics"
)

// AnalysisPurger は指定日時より前に作成された画像解析を削除するインターフェース。
type AnalysisPurger interface {
	DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionPurger は期限切れセッションを削除するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// DefaultRetentionDays は画像解析のデフォルト保持日数。
const DefaultRetentionDays = 365

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	analyses AnalysisPurger
	sessions SessionPurger
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time

	// RetentionDays は画像解析の保持日数。0以下の場合は解析を削除しない。
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。sessionsがnilの場合はセッションを削除しない。
func NewCleanupJob(analyses AnalysisPurger, sessions SessionPurger, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		analyses:      analyses,
		sessions:      sessions,
		metrics:       collector,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Start はinterval間隔でRunを実行する。コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup job started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は保持期間を超過した画像解析と期限切れセッションを削除する。
// 失敗はログに記録した上でエラーとして返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	if err := j.purgeAnalyses(ctx, start); err != nil {
		return err
	}
	if err := j.purgeSessions(ctx); err != nil {
		return err
	}

	j.logger.Info("cleanup job completed",
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) purgeAnalyses(ctx context.Context, now time.Time) error {
	if j.RetentionDays <= 0 {
		j.logger.Info("analysis retention disabled",
			slog.Int("retention_days", j.RetentionDays),
		)
		return nil
	}

	cutoff := now.AddDate(0, 0, -j.RetentionDays)
	deleted, err := j.analyses.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to purge expired analyses",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to purge expired analyses: %w", err)
	}

	j.metrics.RecordRetentionDeleted(deleted)
	j.logger.Info("expired analyses purged",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

func (j *CleanupJob) purgeSessions(ctx context.Context) error {
	if j.sessions == nil {
		return nil
	}

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("failed to purge expired sessions",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	j.logger.Info("expired sessions purged",
		slog.Int64("deleted_count", deleted),
	)
	return nil
}
