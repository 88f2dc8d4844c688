package model

import (
	"math"
	"strings"
	"time"
)

// ImageAnalysis は解析のために登録された1枚の画像を表す。
// 再解析は既存行の更新ではなく新しいImageAnalysisとして登録する。
type ImageAnalysis struct {
	ID          int32
	UserID      int32
	FileName    string
	FileKey     string
	FileURL     string
	MimeType    string
	FileSize    int32
	ImageWidth  *int32
	ImageHeight *int32
	UploadedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasDimensions は画像サイズが記録済みかを返す。
func (a *ImageAnalysis) HasDimensions() bool {
	return a.ImageWidth != nil && a.ImageHeight != nil
}

// FileMeta はアップロード時にクライアントから渡されるファイルメタデータ。
type FileMeta struct {
	FileName string
	FileKey  string // 空の場合はサービス側で生成する
	FileURL  string
	MimeType string
	FileSize int64
	Width    *int32
	Height   *int32
}

// 列長の上限（migrationsのVARCHAR定義と一致させる）
const (
	MaxFileNameLength = 255
	MaxFileKeyLength  = 512
	MaxMimeTypeLength = 100
)

// Validate はファイルメタデータが保存可能かを検証する。
// FileURLの安全性検証はsecurityパッケージで別途行う。
func (m FileMeta) Validate() error {
	if strings.TrimSpace(m.FileName) == "" {
		return NewValidationError("fileName", "ファイル名は必須です")
	}
	if len(m.FileName) > MaxFileNameLength {
		return NewValidationError("fileName", "ファイル名が長すぎます")
	}
	if len(m.FileKey) > MaxFileKeyLength {
		return NewValidationError("fileKey", "ストレージキーが長すぎます")
	}
	if strings.TrimSpace(m.FileURL) == "" {
		return NewValidationError("fileUrl", "ファイルURLは必須です")
	}
	mime := strings.ToLower(strings.TrimSpace(m.MimeType))
	if !strings.HasPrefix(mime, "image/") {
		return NewValidationError("mimeType", "画像のMIMEタイプを指定してください")
	}
	if len(m.MimeType) > MaxMimeTypeLength {
		return NewValidationError("mimeType", "MIMEタイプが長すぎます")
	}
	if m.FileSize <= 0 || m.FileSize > math.MaxInt32 {
		return NewValidationError("fileSize", "ファイルサイズが範囲外です")
	}
	return ValidateDimensions(m.Width, m.Height)
}

// ValidateDimensions は画像サイズの組を検証する。両方nil、または両方正の値である必要がある。
func ValidateDimensions(width, height *int32) error {
	if (width == nil) != (height == nil) {
		return NewValidationError("dimensions", "幅と高さは両方指定してください")
	}
	if width != nil && (*width <= 0 || *height <= 0) {
		return NewValidationError("dimensions", "幅と高さは正の値である必要があります")
	}
	return nil
}
