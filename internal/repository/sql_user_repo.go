package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/plateful/internal/database"
	"github.com/hitoshi/plateful/internal/model"
)

const userColumns = `id, username, password_hash, role, organization_name, created_at`

// SQLUserRepo はsqlxを使用したユーザーリポジトリ。
type SQLUserRepo struct {
	db database.Handler
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db database.Handler) *SQLUserRepo {
	return &SQLUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`),
		id,
	)
	if err = database.WrapError(err); errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`),
		username,
	)
	if err = database.WrapError(err); errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// FindByIDs は複数IDのユーザーを1クエリでまとめて取得する。
func (r *SQLUserRepo) FindByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	result := make(map[int64]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build user lookup query: %w", err)
	}

	var users []model.User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find users by IDs: %w", err)
	}

	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

// Create はユーザーを作成し、採番したIDをuser.IDに設定する。
func (r *SQLUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = database.Now()
	}

	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO users (username, password_hash, role, organization_name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id`),
		user.Username, user.PasswordHash, user.Role, user.OrganizationName, user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", database.WrapError(err))
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
