package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。呼び出し側の扱い（再読込・入力修正・設定修正）を決める。
type ErrorKind string

const (
	// KindConfiguration は必須設定の欠落・不正。ネットワーク処理の前に検出される。
	KindConfiguration ErrorKind = "configuration"
	// KindValidation は値がドメイン制約に違反している。書き込みは行われない。
	KindValidation ErrorKind = "validation"
	// KindConflict は一意性・1対1制約に違反する書き込み。呼び出し側は再読込すること。
	KindConflict ErrorKind = "conflict"
	// KindNotFound は参照先の親行が存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindUnauthorized は認証されていない、または所有者でないアクセス。
	KindUnauthorized ErrorKind = "unauthorized"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, analysis, system
	Action   string    // ユーザー向け対処方法
	Field    string    // 検証エラーの対象フィールド（該当する場合）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeInvalidClassification = "INVALID_CLASSIFICATION"
	ErrCodeScoreOutOfRange       = "SCORE_OUT_OF_RANGE"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeResultAlreadyRecorded = "RESULT_ALREADY_RECORDED"
	ErrCodeDimensionsLocked      = "DIMENSIONS_LOCKED"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeAnalysisNotFound      = "ANALYSIS_NOT_FOUND"
	ErrCodeResultNotFound        = "RESULT_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
)

// KindOf はエラーチェーン中のAPIErrorの分類を返す。APIErrorでなければ空文字を返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsConfiguration は設定エラーかを返す。
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsValidation は検証エラーかを返す。
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict は競合エラーかを返す。
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound は参照先不在エラーかを返す。
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// NewConfigurationError は必須設定の欠落・不正エラーを生成する。
func NewConfigurationError(setting, reason string) *APIError {
	return &APIError{
		Kind:     KindConfiguration,
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf("設定 %s が不正です: %s", setting, reason),
		Category: "system",
		Action:   "環境変数（.envファイル）の設定を確認してください。",
		Field:    setting,
	}
}

// NewValidationError は汎用の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "入力値を確認してください。",
		Field:    field,
	}
}

// NewInvalidClassificationError は未定義の判定タグに対するエラーを生成する。
func NewInvalidClassificationError(classification string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidClassification,
		Message:  fmt.Sprintf("無効な判定です: %q", classification),
		Category: "validation",
		Action:   "判定には real、fake、inconclusive のいずれかを指定してください。",
		Field:    "classification",
	}
}

// NewScoreOutOfRangeError はパーセンテージ項目の範囲外エラーを生成する。
func NewScoreOutOfRangeError(field string, value Percent) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeScoreOutOfRange,
		Message:  fmt.Sprintf("スコアが範囲外です: %s", value),
		Category: "validation",
		Action:   "スコアは 0.00 から 100.00 の範囲で指定してください。",
		Field:    field,
	}
}

// NewConflictError は一意性制約に違反する書き込みのエラーを生成する。
func NewConflictError(reason string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeConflict,
		Message:  reason,
		Category: "analysis",
		Action:   "最新の状態を再取得してください。",
	}
}

// NewResultAlreadyRecordedError は解析結果が既に記録済みの場合のエラーを生成する。
func NewResultAlreadyRecordedError(analysisID int32) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeResultAlreadyRecorded,
		Message:  fmt.Sprintf("解析 %d の結果は既に記録されています。", analysisID),
		Category: "analysis",
		Action:   "再解析する場合は画像を新しく登録してください。",
	}
}

// NewDimensionsLockedError は解析完了後の画像サイズ更新に対するエラーを生成する。
func NewDimensionsLockedError(analysisID int32) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDimensionsLocked,
		Message:  fmt.Sprintf("解析 %d は完了済みのため画像サイズを変更できません。", analysisID),
		Category: "analysis",
		Action:   "解析開始前にのみ画像サイズを更新できます。",
	}
}

// NewNotFoundError は汎用の参照先不在エラーを生成する。
func NewNotFoundError(reason string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeNotFound,
		Message:  reason,
		Category: "analysis",
		Action:   "IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAnalysisNotFoundError は解析が見つからない場合のエラーを生成する。
func NewAnalysisNotFoundError(analysisID int32) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeAnalysisNotFound,
		Message:  fmt.Sprintf("指定された解析が見つかりません: %d", analysisID),
		Category: "analysis",
		Action:   "解析IDを確認してください。",
	}
}

// NewResultNotFoundError は解析結果が見つからない場合のエラーを生成する。
func NewResultNotFoundError(resultID int32) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeResultNotFound,
		Message:  fmt.Sprintf("指定された解析結果が見つかりません: %d", resultID),
		Category: "analysis",
		Action:   "解析結果IDを確認してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
