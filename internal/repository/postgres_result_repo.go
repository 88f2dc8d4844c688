package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forensiclab/internal/model"
)

// PostgresResultRepo はPostgreSQLを使用した解析結果リポジトリ。
type PostgresResultRepo struct {
	db *sql.DB
}

// NewPostgresResultRepo はPostgresResultRepoを生成する。
func NewPostgresResultRepo(db *sql.DB) *PostgresResultRepo {
	return &PostgresResultRepo{db: db}
}

const resultColumns = `id, analysis_id, classification, confidence_score, noise_pattern,
	noise_uniformity, jpeg_blockiness, jpeg_quantization_artifacts, ela_anomalies, ela_anomaly_regions,
	frequency_domain_score, color_channel_consistency, spectrogram_data, noise_residual_data,
	ela_visualization, case_summary, technical_findings, analysis_time_ms, created_at, updated_at`

func scanResult(row interface{ Scan(dest ...any) error }) (*model.ForensicResult, error) {
	var (
		res            model.ForensicResult
		classification string
		regions        sql.NullString
		spectrogram    sql.NullString
		residual       sql.NullString
		elaVisual      sql.NullString
		summary        sql.NullString
		findings       sql.NullString
	)
	err := row.Scan(&res.ID, &res.AnalysisID, &classification, &res.ConfidenceScore, &res.NoisePattern,
		&res.NoiseUniformity, &res.JPEGBlockiness, &res.JPEGQuantizationArtifacts, &res.ELAAnomalies, &regions,
		&res.FrequencyDomainScore, &res.ColorChannelConsistency, &spectrogram, &residual,
		&elaVisual, &summary, &findings, &res.AnalysisTimeMs, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.Classification = model.Classification(classification)
	res.ELAAnomalyRegions = regions.String
	res.SpectrogramData = spectrogram.String
	res.NoiseResidualData = residual.String
	res.ELAVisualization = elaVisual.String
	res.CaseSummary = summary.String
	res.TechnicalFindings = findings.String
	return &res, nil
}

// FindByID はIDで結果を取得する。見つからない場合はnilを返す。
func (r *PostgresResultRepo) FindByID(ctx context.Context, id int32) (*model.ForensicResult, error) {
	res, err := scanResult(r.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM forensic_results WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find result by ID: %w", err)
	}
	return res, nil
}

// FindByAnalysisID は解析IDに紐づく結果を取得する。見つからない場合はnilを返す。
func (r *PostgresResultRepo) FindByAnalysisID(ctx context.Context, analysisID int32) (*model.ForensicResult, error) {
	res, err := scanResult(r.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM forensic_results WHERE analysis_id = $1`, analysisID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find result by analysis ID: %w", err)
	}
	return res, nil
}

// CreateWithAudit は解析結果と監査ログを同一トランザクションで作成する。
//
// 解析行をFOR UPDATEでロックして同一解析への書き込みを直列化し、
// さらにanalysis_idのUNIQUE制約で1対1を保証する。どちらの経路で検出しても
// 2件目はResultAlreadyRecordedエラーとなり、監査ログも残らない。
func (r *PostgresResultRepo) CreateWithAudit(ctx context.Context, analysisID int32, metrics model.ForensicMetrics, audit *model.AuditEntry) (*model.ForensicResult, error) {
	if err := metrics.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int32
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM image_analyses WHERE id = $1 FOR UPDATE`, analysisID,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, model.NewAnalysisNotFoundError(analysisID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock analysis: %w", err)
	}

	if err := requireRow(ctx, tx, `SELECT 1 FROM forensic_results WHERE analysis_id = $1`, analysisID); err == nil {
		return nil, model.NewResultAlreadyRecordedError(analysisID)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing result: %w", err)
	}

	res, err := scanResult(tx.QueryRowContext(ctx,
		`INSERT INTO forensic_results (
		     analysis_id, classification, confidence_score, noise_pattern,
		     noise_uniformity, jpeg_blockiness, jpeg_quantization_artifacts, ela_anomalies, ela_anomaly_regions,
		     frequency_domain_score, color_channel_consistency, spectrogram_data, noise_residual_data,
		     ela_visualization, case_summary, technical_findings, analysis_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING `+resultColumns,
		analysisID, string(metrics.Classification), metrics.ConfidenceScore, metrics.NoisePattern,
		metrics.NoiseUniformity, metrics.JPEGBlockiness, metrics.JPEGQuantizationArtifacts, metrics.ELAAnomalies,
		nullString(metrics.ELAAnomalyRegions),
		metrics.FrequencyDomainScore, metrics.ColorChannelConsistency,
		nullString(metrics.SpectrogramData), nullString(metrics.NoiseResidualData),
		nullString(metrics.ELAVisualization), nullString(metrics.CaseSummary), nullString(metrics.TechnicalFindings),
		metrics.AnalysisTimeMs,
	))
	if err != nil {
		switch {
		case isUniqueViolation(err, "forensic_results_analysis_id_key"):
			return nil, model.NewResultAlreadyRecordedError(analysisID)
		case isForeignKeyViolation(err):
			return nil, model.NewAnalysisNotFoundError(analysisID)
		case isCheckViolation(err):
			return nil, model.NewValidationError("metrics", "解析結果が制約に違反しています")
		}
		return nil, fmt.Errorf("failed to insert result: %w", err)
	}

	if audit != nil {
		entry := *audit
		entry.UserID = userID
		entry.AnalysisID = &res.AnalysisID
		entry.ResultID = &res.ID
		if _, err := insertAudit(ctx, tx, &entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

// compile-time interface check
var _ ResultRepository = (*PostgresResultRepo)(nil)
