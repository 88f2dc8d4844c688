package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/forensiclab/internal/model"
)

// PostgresAnalysisRepo はPostgreSQLを使用した画像解析リポジトリ。
type PostgresAnalysisRepo struct {
	db *sql.DB
}

// NewPostgresAnalysisRepo はPostgresAnalysisRepoを生成する。
func NewPostgresAnalysisRepo(db *sql.DB) *PostgresAnalysisRepo {
	return &PostgresAnalysisRepo{db: db}
}

const analysisColumns = `id, user_id, file_name, file_key, file_url, mime_type, file_size,
	image_width, image_height, uploaded_at, created_at, updated_at`

func scanAnalysis(row interface{ Scan(dest ...any) error }) (*model.ImageAnalysis, error) {
	var (
		a      model.ImageAnalysis
		width  sql.NullInt32
		height sql.NullInt32
	)
	err := row.Scan(&a.ID, &a.UserID, &a.FileName, &a.FileKey, &a.FileURL, &a.MimeType, &a.FileSize,
		&width, &height, &a.UploadedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ImageWidth = int32Ptr(width)
	a.ImageHeight = int32Ptr(height)
	return &a, nil
}

func (r *PostgresAnalysisRepo) queryAnalyses(ctx context.Context, query string, args ...any) ([]*model.ImageAnalysis, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []*model.ImageAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analyses: %w", err)
	}
	return analyses, nil
}

// FindByID は指定IDの解析を取得する。見つからない場合はnilを返す。
func (r *PostgresAnalysisRepo) FindByID(ctx context.Context, id int32) (*model.ImageAnalysis, error) {
	a, err := scanAnalysis(r.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM image_analyses WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find analysis by ID: %w", err)
	}
	return a, nil
}

// ListByUserID はユーザーの解析をcreated_at降順で返す。
func (r *PostgresAnalysisRepo) ListByUserID(ctx context.Context, userID int32, limit int) ([]*model.ImageAnalysis, error) {
	analyses, err := r.queryAnalyses(ctx,
		`SELECT `+analysisColumns+`
		 FROM image_analyses
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return analyses, nil
}

// CreateWithAudit は解析と監査ログを同一トランザクションで作成する。
// 監査ログのAnalysisIDは作成された解析IDで上書きされる。
func (r *PostgresAnalysisRepo) CreateWithAudit(ctx context.Context, userID int32, meta model.FileMeta, audit *model.AuditEntry) (*model.ImageAnalysis, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAnalysis(tx.QueryRowContext(ctx,
		`INSERT INTO image_analyses (user_id, file_name, file_key, file_url, mime_type, file_size, image_width, image_height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+analysisColumns,
		userID, meta.FileName, meta.FileKey, meta.FileURL, meta.MimeType, int32(meta.FileSize),
		nullInt32(meta.Width), nullInt32(meta.Height),
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, model.NewUserNotFoundError()
		}
		if isCheckViolation(err) {
			return nil, model.NewValidationError("fileMeta", "ファイル情報が制約に違反しています")
		}
		return nil, fmt.Errorf("failed to insert analysis: %w", err)
	}

	if audit != nil {
		entry := *audit
		entry.UserID = userID
		entry.AnalysisID = &a.ID
		if _, err := insertAudit(ctx, tx, &entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return a, nil
}

// UpdateDimensions は画像サイズを設定する。
// 解析行をFOR UPDATEでロックしてから結果の有無を確認するため、結果記録と競合しても
// 結果記録後にサイズが書き換わることはない。
func (r *PostgresAnalysisRepo) UpdateDimensions(ctx context.Context, id int32, width, height int32, audit *model.AuditEntry) (*model.ImageAnalysis, error) {
	if err := model.ValidateDimensions(&width, &height); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int32
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM image_analyses WHERE id = $1 FOR UPDATE`, id,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, model.NewAnalysisNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock analysis: %w", err)
	}

	var hasResult bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM forensic_results WHERE analysis_id = $1)`, id,
	).Scan(&hasResult)
	if err != nil {
		return nil, fmt.Errorf("failed to check result existence: %w", err)
	}
	if hasResult {
		return nil, model.NewDimensionsLockedError(id)
	}

	a, err := scanAnalysis(tx.QueryRowContext(ctx,
		`UPDATE image_analyses
		 SET image_width = $2, image_height = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+analysisColumns,
		id, width, height,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update dimensions: %w", err)
	}

	if audit != nil {
		entry := *audit
		entry.UserID = userID
		entry.AnalysisID = &a.ID
		if _, err := insertAudit(ctx, tx, &entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return a, nil
}

// ListMissingDimensions は画像サイズ未設定かつ結果未記録の解析をID順に返す。
// afterIDによるキーセットページングで、取得できない画像が先頭に居座っても後続を処理できる。
func (r *PostgresAnalysisRepo) ListMissingDimensions(ctx context.Context, afterID int32, limit int) ([]*model.ImageAnalysis, error) {
	analyses, err := r.queryAnalyses(ctx,
		`SELECT `+analysisColumns+`
		 FROM image_analyses a
		 WHERE a.image_width IS NULL
		   AND a.id > $1
		   AND NOT EXISTS (SELECT 1 FROM forensic_results f WHERE f.analysis_id = a.id)
		 ORDER BY a.id ASC
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses missing dimensions: %w", err)
	}
	return analyses, nil
}

// DeleteCreatedBefore は指定日時より前に作成された解析を削除する。
func (r *PostgresAnalysisRepo) DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM image_analyses WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old analyses: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AnalysisRepository = (*PostgresAnalysisRepo)(nil)
