package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation     pq.ErrorCode = "23505"
	pqForeignKeyViolation pq.ErrorCode = "23503"
	pqCheckViolation      pq.ErrorCode = "23514"
)

// pqError はエラーチェーンから*pq.Errorを取り出す。
func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// isUniqueViolation は一意制約違反かを返す。constraintが空でなければ制約名も照合する。
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := pqError(err)
	if !ok || pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// isForeignKeyViolation は外部キー制約違反かを返す。
func isForeignKeyViolation(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == pqForeignKeyViolation
}

// isCheckViolation はCHECK制約違反かを返す。
func isCheckViolation(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == pqCheckViolation
}

// nullString は空文字をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt32 はnilをNULLとして扱う。
func nullInt32(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}

// int32Ptr はNULL許容列をポインタに戻す。
func int32Ptr(v sql.NullInt32) *int32 {
	if !v.Valid {
		return nil
	}
	n := v.Int32
	return &n
}
