package model

import (
	"strings"
	"time"
)

// AuditEntry は追記専用の監査ログ1行を表す。
// 挿入後に更新・削除されることはない。
// AnalysisID/ResultIDは書き込み時点で存在した行への参照で、所有関係は持たない。
type AuditEntry struct {
	ID         int32
	UserID     int32
	AnalysisID *int32
	ResultID   *int32
	Action     string
	Details    string
	CreatedAt  time.Time
}

// 監査アクション
const (
	AuditActionSignIn         = "user.sign_in"
	AuditActionSignOut        = "user.sign_out"
	AuditActionAnalysisUpload = "analysis.upload"
	AuditActionDimensionsSet  = "analysis.dimensions"
	AuditActionResultRecorded = "result.record"
)

// MaxAuditActionLength はaction列の上限長。
const MaxAuditActionLength = 100

// ValidateAuditAction はアクションラベルを検証する。
func ValidateAuditAction(action string) error {
	if strings.TrimSpace(action) == "" {
		return NewValidationError("action", "アクションは必須です")
	}
	if len(action) > MaxAuditActionLength {
		return NewValidationError("action", "アクションが長すぎます")
	}
	return nil
}
