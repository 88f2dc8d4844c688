// Package forensic は画像解析の登録、解析結果の記録、監査ログの参照を扱うサービス層を提供する。
//
// 所有者以外からの解析へのアクセスは、存在を漏らさないようNotFoundとして扱う。
package forensic

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/forensiclab/internal/metrics"
	"github.com/hitoshi/forensiclab/internal/model"
	"github.com/hitoshi/forensiclab/internal/repository"
	"github.com/hitoshi/forensiclab/internal/security"
)

// 一覧取得の件数
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// 書き込み拒否メトリクスのoperationラベル
const (
	opCreateAnalysis = "create_analysis"
	opRecordResult   = "record_result"
	opSetDimensions  = "set_dimensions"
	opAppendAudit    = "append_audit"
)

// Service は解析レコードのビジネスロジックを提供する。
type Service struct {
	analysisRepo repository.AnalysisRepository
	resultRepo   repository.ResultRepository
	auditRepo    repository.AuditRepository
	guard        security.SSRFGuardService
	metrics      metrics.MetricsCollector
	newKey       func() string
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	analysisRepo repository.AnalysisRepository,
	resultRepo repository.ResultRepository,
	auditRepo repository.AuditRepository,
	guard security.SSRFGuardService,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		analysisRepo: analysisRepo,
		resultRepo:   resultRepo,
		auditRepo:    auditRepo,
		guard:        guard,
		metrics:      collector,
		newKey:       uuid.NewString,
	}
}

// CreateImageAnalysis は画像のメタデータを登録する。
// fileUrlはSSRFガードで検証し、fileKeyが空なら uploads/{userId}/{uuid}{ext} を割り当てる。
// 解析行と analysis.upload の監査ログは同一トランザクションで書き込まれる。
func (s *Service) CreateImageAnalysis(ctx context.Context, userID int32, meta model.FileMeta) (*model.ImageAnalysis, error) {
	if err := s.guard.ValidateURL(meta.FileURL); err != nil {
		s.rejected(opCreateAnalysis, err)
		return nil, err
	}
	if strings.TrimSpace(meta.FileKey) == "" {
		meta.FileKey = s.buildFileKey(userID, meta.FileName)
	}

	a, err := s.analysisRepo.CreateWithAudit(ctx, userID, meta, &model.AuditEntry{
		Action:  model.AuditActionAnalysisUpload,
		Details: fmt.Sprintf("uploaded %s (%s, %d bytes)", meta.FileName, meta.MimeType, meta.FileSize),
	})
	if err != nil {
		s.rejected(opCreateAnalysis, err)
		return nil, err
	}

	s.metrics.RecordAnalysisCreated()
	slog.Info("image analysis registered",
		slog.Int("user_id", int(userID)),
		slog.Int("analysis_id", int(a.ID)),
		slog.String("file_key", a.FileKey),
	)
	return a, nil
}

// RecordForensicResult は解析結果を記録する。1解析につき1件のみで、2件目はConflictになる。
// 叙述フィールドと不透明ペイロードは受け取った値のまま保存する。
func (s *Service) RecordForensicResult(ctx context.Context, userID, analysisID int32, m model.ForensicMetrics) (*model.ForensicResult, error) {
	if err := m.Validate(); err != nil {
		s.rejected(opRecordResult, err)
		return nil, err
	}
	if _, err := s.ownedAnalysis(ctx, userID, analysisID); err != nil {
		s.rejected(opRecordResult, err)
		return nil, err
	}

	res, err := s.resultRepo.CreateWithAudit(ctx, analysisID, m, &model.AuditEntry{
		Action:  model.AuditActionResultRecorded,
		Details: fmt.Sprintf("classification=%s confidence=%s", m.Classification, m.ConfidenceScore),
	})
	if err != nil {
		s.rejected(opRecordResult, err)
		return nil, err
	}

	s.metrics.RecordResultRecorded(string(res.Classification), time.Duration(res.AnalysisTimeMs)*time.Millisecond)
	slog.Info("forensic result recorded",
		slog.Int("user_id", int(userID)),
		slog.Int("analysis_id", int(analysisID)),
		slog.Int("result_id", int(res.ID)),
		slog.String("classification", string(res.Classification)),
	)
	return res, nil
}

// GetAnalysis は解析と（あれば）結果を返す。
func (s *Service) GetAnalysis(ctx context.Context, userID, analysisID int32) (*model.AnalysisWithResult, error) {
	a, err := s.ownedAnalysis(ctx, userID, analysisID)
	if err != nil {
		return nil, err
	}
	res, err := s.resultRepo.FindByAnalysisID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to find result: %w", err)
	}
	return &model.AnalysisWithResult{Analysis: a, Result: res}, nil
}

// ListAnalyses はユーザーの解析を新しい順に返す。
func (s *Service) ListAnalyses(ctx context.Context, userID int32, limit int) ([]*model.ImageAnalysis, error) {
	analyses, err := s.analysisRepo.ListByUserID(ctx, userID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	if analyses == nil {
		analyses = []*model.ImageAnalysis{}
	}
	return analyses, nil
}

// SetDimensions は画像サイズを設定する。結果記録後はConflictになる。
func (s *Service) SetDimensions(ctx context.Context, userID, analysisID, width, height int32) (*model.ImageAnalysis, error) {
	if _, err := s.ownedAnalysis(ctx, userID, analysisID); err != nil {
		s.rejected(opSetDimensions, err)
		return nil, err
	}
	a, err := s.analysisRepo.UpdateDimensions(ctx, analysisID, width, height, &model.AuditEntry{
		Action:  model.AuditActionDimensionsSet,
		Details: fmt.Sprintf("%dx%d", width, height),
	})
	if err != nil {
		s.rejected(opSetDimensions, err)
		return nil, err
	}
	return a, nil
}

// AppendAudit は監査ログを追記する。analysisIDとresultIDは呼び出し元の所有物である必要があり、
// 両方を指定する場合はresultIDがその解析の結果でなければならない。
func (s *Service) AppendAudit(ctx context.Context, userID int32, action, details string, analysisID, resultID *int32) (*model.AuditEntry, error) {
	if err := model.ValidateAuditAction(action); err != nil {
		s.rejected(opAppendAudit, err)
		return nil, err
	}
	if analysisID != nil {
		if _, err := s.ownedAnalysis(ctx, userID, *analysisID); err != nil {
			s.rejected(opAppendAudit, err)
			return nil, err
		}
	}
	if resultID != nil {
		if err := s.ownedResult(ctx, userID, *resultID, analysisID); err != nil {
			s.rejected(opAppendAudit, err)
			return nil, err
		}
	}

	entry, err := s.auditRepo.Append(ctx, &model.AuditEntry{
		UserID:     userID,
		AnalysisID: analysisID,
		ResultID:   resultID,
		Action:     action,
		Details:    details,
	})
	if err != nil {
		s.rejected(opAppendAudit, err)
		return nil, err
	}
	return entry, nil
}

// ListAudit はユーザーの監査ログを新しい順に返す。
func (s *Service) ListAudit(ctx context.Context, userID int32, limit int) ([]*model.AuditEntry, error) {
	entries, err := s.auditRepo.ListByUserID(ctx, userID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit trail: %w", err)
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	return entries, nil
}

// ClampLimit は一覧件数を [1, MaxListLimit] に収める。0以下はDefaultListLimitとする。
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// ownedAnalysis は解析を取得し、所有者でなければ存在しないものとして扱う。
func (s *Service) ownedAnalysis(ctx context.Context, userID, analysisID int32) (*model.ImageAnalysis, error) {
	a, err := s.analysisRepo.FindByID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to find analysis: %w", err)
	}
	if a == nil || a.UserID != userID {
		return nil, model.NewAnalysisNotFoundError(analysisID)
	}
	return a, nil
}

// ownedResult は結果が呼び出し元の解析に属することを確認する。
// analysisIDが指定されていれば、その解析の結果であることも求める。
func (s *Service) ownedResult(ctx context.Context, userID, resultID int32, analysisID *int32) error {
	res, err := s.resultRepo.FindByID(ctx, resultID)
	if err != nil {
		return fmt.Errorf("failed to find result: %w", err)
	}
	if res == nil || (analysisID != nil && res.AnalysisID != *analysisID) {
		return model.NewResultNotFoundError(resultID)
	}
	a, err := s.analysisRepo.FindByID(ctx, res.AnalysisID)
	if err != nil {
		return fmt.Errorf("failed to find analysis: %w", err)
	}
	if a == nil || a.UserID != userID {
		return model.NewResultNotFoundError(resultID)
	}
	return nil
}

func (s *Service) buildFileKey(userID int32, fileName string) string {
	return fmt.Sprintf("uploads/%d/%s%s", userID, s.newKey(), fileExt(fileName))
}

// fileExt はファイル名の拡張子を小文字で返す。英数字以外を含む、または長すぎる拡張子は捨てる。
func fileExt(fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func (s *Service) rejected(operation string, err error) {
	kind := string(model.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	s.metrics.RecordWriteRejected(operation, kind)
}
