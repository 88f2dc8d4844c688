// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/forensiclab/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int32) (*model.User, error)

	// FindByOpenID はopenIdでユーザーを取得する。見つからない場合はnilを返す。
	FindByOpenID(ctx context.Context, openID string) (*model.User, error)

	// UpsertByOpenID はopenIdをキーにユーザーを作成または更新し、last_signed_inを進める。
	// auditがnilでなければ同一トランザクションで監査ログを追記する（UserIDは確定したユーザーIDで上書きされる）。
	// 同一openIdへの並行呼び出しでも行は1件しか作られない。
	UpsertByOpenID(ctx context.Context, openID string, profile model.UserProfile, audit *model.AuditEntry) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// AnalysisRepository は画像解析レコードの永続化インターフェース。
type AnalysisRepository interface {
	// FindByID は指定IDの解析を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int32) (*model.ImageAnalysis, error)

	// ListByUserID はユーザーの解析をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID int32, limit int) ([]*model.ImageAnalysis, error)

	// CreateWithAudit は解析と監査ログを同一トランザクションで作成する。
	// userIDが存在しない場合はNotFoundエラーを返す。
	CreateWithAudit(ctx context.Context, userID int32, meta model.FileMeta, audit *model.AuditEntry) (*model.ImageAnalysis, error)

	// UpdateDimensions は画像サイズを設定する。結果が記録済みの解析はDimensionsLockedエラーになる。
	// auditがnilでなければ同一トランザクションで監査ログを追記する。
	UpdateDimensions(ctx context.Context, id int32, width, height int32, audit *model.AuditEntry) (*model.ImageAnalysis, error)

	// ListMissingDimensions は画像サイズ未設定かつ結果未記録の解析のうち、IDがafterIDより大きいものをID順に返す。
	ListMissingDimensions(ctx context.Context, afterID int32, limit int) ([]*model.ImageAnalysis, error)

	// DeleteCreatedBefore は指定日時より前に作成された解析を削除し、削除件数を返す。
	// 紐づく解析結果はCASCADE削除される。監査ログは変更しない。
	DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ResultRepository は解析結果の永続化インターフェース。
type ResultRepository interface {
	// FindByID はIDで結果を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int32) (*model.ForensicResult, error)

	// FindByAnalysisID は解析IDに紐づく結果を取得する。見つからない場合はnilを返す。
	FindByAnalysisID(ctx context.Context, analysisID int32) (*model.ForensicResult, error)

	// CreateWithAudit は解析結果と監査ログを同一トランザクションで作成する。
	// 結果が既に存在する場合はResultAlreadyRecordedエラー、解析が存在しない場合はAnalysisNotFoundエラーを返す。
	// 並行呼び出しでも結果行は1件しか作られない。
	CreateWithAudit(ctx context.Context, analysisID int32, metrics model.ForensicMetrics, audit *model.AuditEntry) (*model.ForensicResult, error)
}

// AuditRepository は追記専用の監査ログの永続化インターフェース。
// 更新・削除のメソッドは意図的に持たない。
type AuditRepository interface {
	// Append は監査ログを1行追記する。
	// userIDが存在しない場合、またはanalysisID/resultIDが指定され存在しない場合はNotFoundエラーを返す。
	Append(ctx context.Context, entry *model.AuditEntry) (*model.AuditEntry, error)

	// ListByUserID はユーザーの監査ログをcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID int32, limit int) ([]*model.AuditEntry, error)
}

// DBTX は*sql.DBと*sql.Txの共通部分。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
