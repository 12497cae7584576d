package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/plateful/internal/database"
	"github.com/hitoshi/plateful/internal/model"
)

// SQLSessionRepo はsqlxを使用したセッションリポジトリ。
type SQLSessionRepo struct {
	db  database.Handler
	now func() time.Time
}

// NewSQLSessionRepo はSQLSessionRepoを生成する。
func NewSQLSessionRepo(db database.Handler) *SQLSessionRepo {
	return &SQLSessionRepo{db: db, now: database.Now}
}

// Create はセッションを作成する。
func (r *SQLSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO sessions (id, user_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?)`),
		session.ID, session.UserID, session.ExpiresAt.UTC(), session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SQLSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.GetContext(ctx, session,
		r.db.Rebind(`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ?`),
		id, r.now(),
	)
	if err = database.WrapError(err); errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// FindIdentity は有効なセッションに紐づくユーザーの身元情報を取得する。
func (r *SQLSessionRepo) FindIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.GetContext(ctx, identity,
		r.db.Rebind(`SELECT u.id AS id, u.username AS username, u.role AS role, u.organization_name AS organization_name
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = ? AND s.expires_at > ?`),
		sessionID, r.now(),
	)
	if err = database.WrapError(err); errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session identity: %w", err)
	}
	return identity, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SQLSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM sessions WHERE id = ?`),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
func (r *SQLSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`),
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted session count: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*SQLSessionRepo)(nil)
