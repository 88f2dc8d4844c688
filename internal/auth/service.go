// Package auth はOAuthポータル経由のサインイン、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/forensiclab/internal/metrics"
	"github.com/hitoshi/forensiclab/internal/model"
	"github.com/hitoshi/forensiclab/internal/repository"
)

// PortalIdentity はOAuthポータルから取得したユーザー情報を表す。
type PortalIdentity struct {
	OpenID      string
	Name        string
	Email       string
	LoginMethod string
}

// IdentityExchanger は認可コードをユーザー情報に交換するインターフェース。
type IdentityExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*PortalIdentity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Portal        PortalConfig
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	exchanger   IdentityExchanger
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	auditRepo   repository.AuditRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	exchanger IdentityExchanger,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	auditRepo repository.AuditRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		exchanger:   exchanger,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		auditRepo:   auditRepo,
		metrics:     collector,
		config:      config,
	}
}

// GetLoginURL はoriginに戻るサインインURLを生成する。
func (s *Service) GetLoginURL(origin string) (string, error) {
	return BuildLoginURL(s.config.Portal, origin)
}

// SignIn はopenIdでユーザーを作成または更新し、サインインの監査ログを同一トランザクションで記録する。
func (s *Service) SignIn(ctx context.Context, openID string, profile model.UserProfile) (*model.User, error) {
	user, err := s.userRepo.UpsertByOpenID(ctx, openID, profile, &model.AuditEntry{
		Action:  model.AuditActionSignIn,
		Details: signInDetails(profile.LoginMethod),
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// stateの検証は呼び出し側（ハンドラー）の責務で、ここでは認可コードのみを扱う。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	if code == "" {
		s.metrics.RecordSignIn(metrics.OutcomeFailure)
		return nil, nil, model.NewValidationError("code", "認可コードがありません")
	}

	identity, err := s.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordSignIn(metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.SignIn(ctx, identity.OpenID, model.UserProfile{
		Name:        identity.Name,
		Email:       identity.Email,
		LoginMethod: identity.LoginMethod,
	})
	if err != nil {
		s.metrics.RecordSignIn(metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("failed to sign in user: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordSignIn(metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordSignIn(metrics.OutcomeSuccess)
	slog.Info("user signed in",
		slog.Int("user_id", int(user.ID)),
		slog.String("login_method", user.LoginMethod),
	)
	return session, user, nil
}

// Logout はセッションを破棄し、サインアウトの監査ログを記録する。
// セッションが既に無効な場合は監査ログを残さずに成功する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if session != nil {
		if _, err := s.auditRepo.Append(ctx, &model.AuditEntry{
			UserID: session.UserID,
			Action: model.AuditActionSignOut,
		}); err != nil {
			return fmt.Errorf("failed to append sign-out audit: %w", err)
		}
		slog.Info("user logged out", slog.Int("user_id", int(session.UserID)))
	}
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int32) (*model.Session, error) {
	sessionID, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func signInDetails(loginMethod string) string {
	if loginMethod == "" {
		return "signed in via oauth portal"
	}
	return "signed in via oauth portal (" + loginMethod + ")"
}

// GenerateToken は暗号的に安全な32バイトのランダム値を16進文字列で返す。
// セッションIDとOAuthのnonceに使う。
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
