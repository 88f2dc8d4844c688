package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forensiclab/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用した監査ログリポジトリ。
// audit_trailへのUPDATE/DELETEはトリガーでも拒否される。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Append は監査ログを1行追記する。
func (r *PostgresAuditRepo) Append(ctx context.Context, entry *model.AuditEntry) (*model.AuditEntry, error) {
	if err := model.ValidateAuditAction(entry.Action); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	saved, err := insertAudit(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return saved, nil
}

// ListByUserID はユーザーの監査ログをcreated_at降順で返す。
func (r *PostgresAuditRepo) ListByUserID(ctx context.Context, userID int32, limit int) ([]*model.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, analysis_id, result_id, action, details, created_at
		 FROM audit_trail
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		var (
			e          model.AuditEntry
			analysisID sql.NullInt32
			resultID   sql.NullInt32
			details    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &analysisID, &resultID, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.AnalysisID = int32Ptr(analysisID)
		e.ResultID = int32Ptr(resultID)
		e.Details = details.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// insertAudit は呼び出し元のトランザクション内で監査ログを追記する。
// 後方参照（analysis_id / result_id）は外部キーを持たないため、書き込み時点の存在をここで確認する。
func insertAudit(ctx context.Context, q DBTX, entry *model.AuditEntry) (*model.AuditEntry, error) {
	if err := model.ValidateAuditAction(entry.Action); err != nil {
		return nil, err
	}
	if entry.AnalysisID != nil {
		if err := requireRow(ctx, q, `SELECT 1 FROM image_analyses WHERE id = $1`, *entry.AnalysisID); err != nil {
			if err == sql.ErrNoRows {
				return nil, model.NewAnalysisNotFoundError(*entry.AnalysisID)
			}
			return nil, fmt.Errorf("failed to check audit analysis reference: %w", err)
		}
	}
	if entry.ResultID != nil {
		if err := requireRow(ctx, q, `SELECT 1 FROM forensic_results WHERE id = $1`, *entry.ResultID); err != nil {
			if err == sql.ErrNoRows {
				return nil, model.NewResultNotFoundError(*entry.ResultID)
			}
			return nil, fmt.Errorf("failed to check audit result reference: %w", err)
		}
	}

	saved := *entry
	err := q.QueryRowContext(ctx,
		`INSERT INTO audit_trail (user_id, analysis_id, result_id, action, details)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		entry.UserID, nullInt32(entry.AnalysisID), nullInt32(entry.ResultID), entry.Action, nullString(entry.Details),
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return &saved, nil
}

// requireRow はクエリが1行以上返すことを確認する。0行ならsql.ErrNoRowsを返す。
func requireRow(ctx context.Context, q DBTX, query string, args ...any) error {
	var one int
	return q.QueryRowContext(ctx, query, args...).Scan(&one)
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
