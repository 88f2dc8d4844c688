package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forensiclab/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, open_id, name, email, login_method, role, created_at, updated_at, last_signed_in`

// scanUser はuserColumnsの順で1行を読み取る。
func scanUser(row interface{ Scan(dest ...any) error }) (*model.User, error) {
	var (
		u           model.User
		name        sql.NullString
		email       sql.NullString
		loginMethod sql.NullString
		role        string
	)
	if err := row.Scan(&u.ID, &u.OpenID, &name, &email, &loginMethod, &role, &u.CreatedAt, &u.UpdatedAt, &u.LastSignedIn); err != nil {
		return nil, err
	}
	u.Name = name.String
	u.Email = email.String
	u.LoginMethod = loginMethod.String
	u.Role = model.Role(role)
	return &u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int32) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByOpenID はopenIdでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByOpenID(ctx context.Context, openID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE open_id = $1`, openID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by open_id: %w", err)
	}
	return user, nil
}

// UpsertByOpenID はユーザーを作成または更新し、監査ログを同一トランザクションで追記する。
// 既存ユーザーの場合、空でないプロフィール項目のみ上書きし、last_signed_inを現在時刻に進める。
// ON CONFLICTで挿入と更新を1文で行うため、並行サインインでも行は1件に収束する。
func (r *PostgresUserRepo) UpsertByOpenID(ctx context.Context, openID string, profile model.UserProfile, audit *model.AuditEntry) (*model.User, error) {
	if err := model.ValidateOpenID(openID); err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx,
		`INSERT INTO users (open_id, name, email, login_method)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (open_id) DO UPDATE SET
		     name = COALESCE(EXCLUDED.name, users.name),
		     email = COALESCE(EXCLUDED.email, users.email),
		     login_method = COALESCE(EXCLUDED.login_method, users.login_method),
		     last_signed_in = now(),
		     updated_at = now()
		 RETURNING `+userColumns,
		openID, nullString(profile.Name), nullString(profile.Email), nullString(profile.LoginMethod),
	))
	if err != nil {
		if isUniqueViolation(err, "users_open_id_key") {
			return nil, model.NewConflictError(fmt.Sprintf("openId %q は並行して登録されました。再試行してください。", openID))
		}
		if isCheckViolation(err) {
			return nil, model.NewValidationError("user", "ユーザー情報が制約に違反しています")
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if audit != nil {
		entry := *audit
		entry.UserID = user.ID
		if _, err := insertAudit(ctx, tx, &entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
