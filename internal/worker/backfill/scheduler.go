// Package backfill は画像サイズ未設定の解析に対し、画像ヘッダーからサイズを補完するバックグラウンド処理を提供する。
// スケジューラ、画像取得、リトライ/バックオフ戦略を含む。
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/forensiclab/internal/metrics"
	"github.com/hitoshi/forensiclab/internal/model"
)

// DimensionStore は補完対象の取得と書き込みのインターフェース。repository.AnalysisRepositoryが満たす。
type DimensionStore interface {
	ListMissingDimensions(ctx context.Context, afterID int32, limit int) ([]*model.ImageAnalysis, error)
	UpdateDimensions(ctx context.Context, id int32, width, height int32, audit *model.AuditEntry) (*model.ImageAnalysis, error)
}

// ImageProber は画像URLからサイズを読み取るインターフェース。
type ImageProber interface {
	Probe(ctx context.Context, rawURL string) (Dimensions, error)
}

// Scheduler は画像サイズ補完のスケジューリングと並列制御を行う。
// 1サイクルでbatchSize件をID順に取得し、次のサイクルは続きから処理する。
// 末尾まで到達したら先頭に戻る。
type Scheduler struct {
	store          DimensionStore
	prober         ImageProber
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
	now            func() time.Time

	mu       sync.Mutex
	cursor   int32
	attempts map[int32]*attemptState
}

// NewScheduler はSchedulerを生成する。batchSizeが0以下の場合は20、maxConcurrencyが0以下の場合は4を使う。
func NewScheduler(
	store DimensionStore,
	prober ImageProber,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	batchSize int,
	maxConcurrency int,
) *Scheduler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		store:          store,
		prober:         prober,
		metrics:        collector,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		attempts:       make(map[int32]*attemptState),
	}
}

// Start はinterval間隔で補完サイクルを実行する。コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("dimension backfill started",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dimension backfill stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("dimension backfill cycle failed", slog.String("error", err.Error()))
	}
}

// RunOnce は補完対象を1バッチ取得し、並列で画像サイズを補完する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()

	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	batch, err := s.store.ListMissingDimensions(ctx, cursor, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list analyses missing dimensions: %w", err)
	}

	s.mu.Lock()
	if len(batch) < s.batchSize {
		s.cursor = 0
	} else {
		s.cursor = batch[len(batch)-1].ID
	}
	s.mu.Unlock()

	due := s.filterDue(batch, start)
	if len(due) == 0 {
		return nil
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	for _, a := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(a *model.ImageAnalysis) {
			defer wg.Done()
			defer func() { <-sem }()
			s.backfill(ctx, a)
		}(a)
	}
	wg.Wait()

	s.logger.Info("dimension backfill cycle completed",
		slog.Int("listed", len(batch)),
		slog.Int("attempted", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return nil
}

// PendingFailures は補完を諦めていない失敗中の解析数を返す。
func (s *Scheduler) PendingFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.attempts {
		if !st.gaveUp {
			n++
		}
	}
	return n
}

// GaveUp は補完を諦めた解析かを返す。
func (s *Scheduler) GaveUp(analysisID int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.attempts[analysisID]
	return ok && st.gaveUp
}

func (s *Scheduler) filterDue(batch []*model.ImageAnalysis, now time.Time) []*model.ImageAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*model.ImageAnalysis, 0, len(batch))
	for _, a := range batch {
		if st, ok := s.attempts[a.ID]; ok && !st.due(now) {
			continue
		}
		due = append(due, a)
	}
	return due
}

func (s *Scheduler) backfill(ctx context.Context, a *model.ImageAnalysis) {
	dims, err := s.prober.Probe(ctx, a.FileURL)
	if err != nil {
		s.recordFailure(a, err)
		return
	}

	_, err = s.store.UpdateDimensions(ctx, a.ID, dims.Width, dims.Height, &model.AuditEntry{
		Action:  model.AuditActionDimensionsSet,
		Details: fmt.Sprintf("%dx%d (backfill)", dims.Width, dims.Height),
	})
	switch {
	case err == nil:
		s.clearAttempts(a.ID)
		s.metrics.RecordBackfill(metrics.OutcomeSuccess)
		s.logger.Info("image dimensions backfilled",
			slog.Int("analysis_id", int(a.ID)),
			slog.Int("width", int(dims.Width)),
			slog.Int("height", int(dims.Height)),
		)
	case model.IsConflict(err) || model.IsNotFound(err):
		// 取得中に結果が記録された、または保持期間で削除された
		s.clearAttempts(a.ID)
		s.metrics.RecordBackfill(metrics.OutcomeSkipped)
		s.logger.Info("image dimensions backfill skipped",
			slog.Int("analysis_id", int(a.ID)),
			slog.String("reason", err.Error()),
		)
	default:
		s.recordFailure(a, err)
	}
}

func (s *Scheduler) recordFailure(a *model.ImageAnalysis, err error) {
	s.mu.Lock()
	st, ok := s.attempts[a.ID]
	if !ok {
		st = &attemptState{}
		s.attempts[a.ID] = st
	}
	st.applyFailure(err, s.now())
	gaveUp, attempts := st.gaveUp, st.consecutiveErrors
	s.mu.Unlock()

	s.metrics.RecordBackfill(metrics.OutcomeFailure)
	s.logger.Warn("image dimensions backfill failed",
		slog.Int("analysis_id", int(a.ID)),
		slog.String("file_url", a.FileURL),
		slog.Int("consecutive_errors", attempts),
		slog.Bool("gave_up", gaveUp),
		slog.String("error", err.Error()),
	)
}

func (s *Scheduler) clearAttempts(analysisID int32) {
	s.mu.Lock()
	delete(s.attempts, analysisID)
	s.mu.Unlock()
}
