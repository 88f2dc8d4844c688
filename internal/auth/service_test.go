package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/forensiclab/internal/model"
	"github.com/hitoshi/forensiclab/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id int32) (*model.User, error)
	upsertByOpenIDFn func(ctx context.Context, openID string, profile model.UserProfile, audit *model.AuditEntry) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int32) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByOpenID(_ context.Context, _ string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) UpsertByOpenID(ctx context.Context, openID string, profile model.UserProfile, audit *model.AuditEntry) (*model.User, error) {
	if m.upsertByOpenIDFn != nil {
		return m.upsertByOpenIDFn(ctx, openID, profile, audit)
	}
	return &model.User{ID: 1, OpenID: openID}, nil
}

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type mockAuditRepo struct {
	appended []*model.AuditEntry
}

func (m *mockAuditRepo) Append(_ context.Context, entry *model.AuditEntry) (*model.AuditEntry, error) {
	m.appended = append(m.appended, entry)
	return entry, nil
}

func (m *mockAuditRepo) ListByUserID(_ context.Context, _ int32, _ int) ([]*model.AuditEntry, error) {
	return m.appended, nil
}

type mockExchanger struct {
	exchangeCodeFn func(ctx context.Context, code string) (*PortalIdentity, error)
}

func (m *mockExchanger) ExchangeCode(ctx context.Context, code string) (*PortalIdentity, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return &PortalIdentity{OpenID: "open-default"}, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ repository.AuditRepository = (*mockAuditRepo)(nil)
var _ IdentityExchanger = (*mockExchanger)(nil)

func newTestService(ex IdentityExchanger, users *mockUserRepo, sessions *mockSessionRepo, audits *mockAuditRepo) *Service {
	return NewService(ex, users, sessions, audits, nil, ServiceConfig{
		Portal:        PortalConfig{PortalURL: "https://auth.example.com", AppID: "app_123"},
		SessionMaxAge: 86400,
	})
}

// --- テスト ---

func TestGetLoginURL_UsesPortalConfig(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil)

	got, err := svc.GetLoginURL("https://app.example.com")
	if err != nil {
		t.Fatalf("GetLoginURL() error = %v", err)
	}
	if !strings.HasPrefix(got, "https://auth.example.com/app-auth?appId=app_123&") {
		t.Errorf("GetLoginURL() = %q", got)
	}
}

func TestGetLoginURL_ConfigurationError(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil, ServiceConfig{})
	if _, err := svc.GetLoginURL("https://app.example.com"); !model.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestHandleCallback_SignsInAndCreatesSession(t *testing.T) {
	var (
		gotOpenID  string
		gotProfile model.UserProfile
		gotAudit   *model.AuditEntry
		created    *model.Session
	)

	ex := &mockExchanger{
		exchangeCodeFn: func(_ context.Context, code string) (*PortalIdentity, error) {
			if code != "auth-code-123" {
				t.Errorf("code = %q", code)
			}
			return &PortalIdentity{OpenID: "open-1", Name: "Test User", Email: "test@example.com", LoginMethod: "google"}, nil
		},
	}
	users := &mockUserRepo{
		upsertByOpenIDFn: func(_ context.Context, openID string, profile model.UserProfile, audit *model.AuditEntry) (*model.User, error) {
			gotOpenID, gotProfile, gotAudit = openID, profile, audit
			return &model.User{ID: 7, OpenID: openID, Name: profile.Name, LoginMethod: profile.LoginMethod}, nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(_ context.Context, s *model.Session) error {
			created = s
			return nil
		},
	}

	svc := newTestService(ex, users, sessions, &mockAuditRepo{})

	session, user, err := svc.HandleCallback(context.Background(), "auth-code-123")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if gotOpenID != "open-1" || gotProfile.Email != "test@example.com" || gotProfile.LoginMethod != "google" {
		t.Errorf("upsert called with %q %+v", gotOpenID, gotProfile)
	}
	if gotAudit == nil || gotAudit.Action != model.AuditActionSignIn {
		t.Errorf("expected sign-in audit entry, got %+v", gotAudit)
	}
	if user.ID != 7 {
		t.Errorf("user ID = %d, want 7", user.ID)
	}
	if session == nil || created == nil || session.ID != created.ID {
		t.Fatal("expected persisted session to be returned")
	}
	if session.UserID != 7 {
		t.Errorf("session user ID = %d, want 7", session.UserID)
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
	if d := time.Until(session.ExpiresAt); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("session expires in %v, want about 24h", d)
	}
}

func TestHandleCallback_EmptyCode(t *testing.T) {
	svc := newTestService(&mockExchanger{}, &mockUserRepo{}, &mockSessionRepo{}, &mockAuditRepo{})

	if _, _, err := svc.HandleCallback(context.Background(), ""); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandleCallback_ExchangeError(t *testing.T) {
	ex := &mockExchanger{
		exchangeCodeFn: func(context.Context, string) (*PortalIdentity, error) {
			return nil, errors.New("portal down")
		},
	}
	sessionCreated := false
	sessions := &mockSessionRepo{createFn: func(context.Context, *model.Session) error {
		sessionCreated = true
		return nil
	}}

	svc := newTestService(ex, &mockUserRepo{}, sessions, &mockAuditRepo{})

	if _, _, err := svc.HandleCallback(context.Background(), "code"); err == nil {
		t.Fatal("expected error")
	}
	if sessionCreated {
		t.Error("session must not be created when exchange fails")
	}
}

func TestHandleCallback_UpsertConflictPropagates(t *testing.T) {
	users := &mockUserRepo{
		upsertByOpenIDFn: func(context.Context, string, model.UserProfile, *model.AuditEntry) (*model.User, error) {
			return nil, model.NewConflictError("race")
		},
	}
	svc := newTestService(&mockExchanger{}, users, &mockSessionRepo{}, &mockAuditRepo{})

	if _, _, err := svc.HandleCallback(context.Background(), "code"); !model.IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestLogout_DeletesSessionAndAudits(t *testing.T) {
	deleted := ""
	sessions := &mockSessionRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: 3}, nil
		},
		deleteByIDFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	audits := &mockAuditRepo{}
	svc := newTestService(nil, nil, sessions, audits)

	if err := svc.Logout(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted session = %q, want %q", deleted, "sess-1")
	}
	if len(audits.appended) != 1 || audits.appended[0].UserID != 3 || audits.appended[0].Action != model.AuditActionSignOut {
		t.Errorf("audit entries = %+v", audits.appended)
	}
}

func TestLogout_ExpiredSessionSkipsAudit(t *testing.T) {
	audits := &mockAuditRepo{}
	svc := newTestService(nil, nil, &mockSessionRepo{}, audits)

	if err := svc.Logout(context.Background(), "gone"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(audits.appended) != 0 {
		t.Errorf("expected no audit entry, got %+v", audits.appended)
	}
	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Error("expected error for empty session ID")
	}
}

func TestGetCurrentUser(t *testing.T) {
	sessions := &mockSessionRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			if id == "valid" {
				return &model.Session{ID: id, UserID: 5}, nil
			}
			return nil, nil
		},
	}
	users := &mockUserRepo{
		findByIDFn: func(_ context.Context, id int32) (*model.User, error) {
			return &model.User{ID: id, Name: "Current"}, nil
		},
	}
	svc := newTestService(nil, users, sessions, nil)

	user, err := svc.GetCurrentUser(context.Background(), "valid")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if user.ID != 5 {
		t.Errorf("user ID = %d, want 5", user.ID)
	}

	if _, err := svc.GetCurrentUser(context.Background(), "expired"); model.KindOf(err) != model.KindUnauthorized {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if _, err := svc.GetCurrentUser(context.Background(), ""); model.KindOf(err) != model.KindUnauthorized {
		t.Errorf("expected unauthorized for empty session, got %v", err)
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateToken()
	if a == b || len(a) != 64 {
		t.Errorf("tokens %q %q should be distinct 64-char hex", a, b)
	}
}
