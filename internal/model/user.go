// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限区分を表す。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はOAuthポータルで認証されたユーザーを表す。
// OpenIDは外部IdPが発行する不変の識別子で、1ユーザーを永続的に特定する。
type User struct {
	ID           int32
	OpenID       string
	Name         string // 空文字はNULLとして保存される
	Email        string // 空文字はNULLとして保存される
	LoginMethod  string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSignedIn time.Time
}

// UserProfile はサインインのたびに上書きされるユーザーの非識別フィールド。
type UserProfile struct {
	Name        string
	Email       string
	LoginMethod string
}

// 列長の上限（migrationsのVARCHAR定義と一致させる）
const (
	MaxOpenIDLength      = 64
	MaxEmailLength       = 320
	MaxLoginMethodLength = 64
)

// ValidateOpenID はopenIdが保存可能な値かを検証する。
func ValidateOpenID(openID string) error {
	if strings.TrimSpace(openID) == "" {
		return NewValidationError("openId", "openIdは必須です")
	}
	if len(openID) > MaxOpenIDLength {
		return NewValidationError("openId", "openIdが長すぎます")
	}
	return nil
}

// Validate はプロフィールの各フィールドが列長に収まるかを検証する。
func (p UserProfile) Validate() error {
	if len(p.Email) > MaxEmailLength {
		return NewValidationError("email", "メールアドレスが長すぎます")
	}
	if len(p.LoginMethod) > MaxLoginMethodLength {
		return NewValidationError("loginMethod", "ログイン方法が長すぎます")
	}
	return nil
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    int32
	ExpiresAt time.Time
	CreatedAt time.Time
}
