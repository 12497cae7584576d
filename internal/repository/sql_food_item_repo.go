package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/plateful/internal/database"
	"github.com/hitoshi/plateful/internal/model"
)

const foodItemColumns = `id, name, quantity, expiration_date, status, image_url, donor_id, claimant_id, created_at, updated_at`

// foodItemViewSelect は提供者・申請者の表示名をLEFT JOINで付与するSELECT句。
// 表示名は団体名があれば団体名、無ければユーザー名。
const foodItemViewSelect = `SELECT
	f.id AS id, f.name AS name, f.quantity AS quantity, f.expiration_date AS expiration_date,
	f.status AS status, f.image_url AS image_url, f.donor_id AS donor_id, f.claimant_id AS claimant_id,
	f.created_at AS created_at, f.updated_at AS updated_at,
	COALESCE(NULLIF(d.organization_name, ''), d.username, '') AS donor_name,
	COALESCE(NULLIF(c.organization_name, ''), c.username, '') AS claimant_name
 FROM food_items f
 LEFT JOIN users d ON d.id = f.donor_id
 LEFT JOIN users c ON c.id = f.claimant_id`

// SQLFoodItemRepo はsqlxを使用した寄付アイテムリポジトリ。
type SQLFoodItemRepo struct {
	db database.Handler
}

// NewSQLFoodItemRepo はSQLFoodItemRepoを生成する。
// dbにトランザクションを渡した場合、全操作がそのトランザクション内で実行される。
func NewSQLFoodItemRepo(db database.Handler) *SQLFoodItemRepo {
	return &SQLFoodItemRepo{db: db}
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *SQLFoodItemRepo) FindByID(ctx context.Context, id int64) (*model.FoodItem, error) {
	item := &model.FoodItem{}
	err := r.db.GetContext(ctx, item,
		r.db.Rebind(`SELECT `+foodItemColumns+` FROM food_items WHERE id = ?`),
		id,
	)
	if err = database.WrapError(err); errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find food item: %w", err)
	}
	return item, nil
}

// FindViewByID は提供者名・申請者名付きでアイテムを取得する。見つからない場合はnilを返す。
func (r *SQLFoodItemRepo) FindViewByID(ctx context.Context, id int64) (*model.FoodItemView, error) {
	view := &model.FoodItemView{}
	err := r.db.GetContext(ctx, view,
		r.db.Rebind(foodItemViewSelect+` WHERE f.id = ?`),
		id,
	)
	if err = database.WrapError(err); errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find food item view: %w", err)
	}
	return view, nil
}

// Create はアイテムを作成し、採番したIDをitem.IDに設定する。
func (r *SQLFoodItemRepo) Create(ctx context.Context, item *model.FoodItem) error {
	now := database.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO food_items
		 (name, quantity, expiration_date, status, image_url, donor_id, claimant_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		item.Name, item.Quantity, item.ExpirationDate, item.Status, item.ImageURL,
		item.DonorID, item.ClaimantID, item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to insert food item: %w", err)
	}
	return nil
}

// ConditionalUpdateStatus は状態と申請者が期待値と一致する場合にのみ更新する。
// 1文のUPDATEで比較と更新を行うため、並行する遷移のうち成功するのは1つだけになる。
func (r *SQLFoodItemRepo) ConditionalUpdateStatus(ctx context.Context, id int64, expectedStatus model.ItemStatus, expectedClaimantID *int64, newStatus model.ItemStatus, newClaimantID *int64) (bool, error) {
	guard, guardArgs := claimantGuard(expectedClaimantID)
	args := append([]interface{}{newStatus, newClaimantID, database.Now(), id, expectedStatus}, guardArgs...)

	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE food_items
		 SET status = ?, claimant_id = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND `+guard),
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update food item status: %w", err)
	}
	return affectedOne(result)
}

// DeleteIfUnchanged は状態と申請者が期待値と一致する場合にのみアイテムを削除する。
func (r *SQLFoodItemRepo) DeleteIfUnchanged(ctx context.Context, id int64, expectedStatus model.ItemStatus, expectedClaimantID *int64) (bool, error) {
	guard, guardArgs := claimantGuard(expectedClaimantID)
	args := append([]interface{}{id, expectedStatus}, guardArgs...)

	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM food_items WHERE id = ? AND status = ? AND `+guard),
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete food item: %w", err)
	}
	return affectedOne(result)
}

// ListAll は全アイテムをID降順で取得する。
func (r *SQLFoodItemRepo) ListAll(ctx context.Context, filter model.ItemFilter) ([]model.FoodItemView, error) {
	query := foodItemViewSelect
	var args []interface{}
	if filter.Status != nil {
		query += ` WHERE f.status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY f.id DESC`

	views := []model.FoodItemView{}
	if err := r.db.SelectContext(ctx, &views, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list food items: %w", err)
	}
	return views, nil
}

// ListByParticipant は指定ユーザーが提供者または申請者であるアイテムをID降順で取得する。
func (r *SQLFoodItemRepo) ListByParticipant(ctx context.Context, userID int64) ([]model.FoodItemView, error) {
	views := []model.FoodItemView{}
	err := r.db.SelectContext(ctx, &views,
		r.db.Rebind(foodItemViewSelect+` WHERE f.donor_id = ? OR f.claimant_id = ? ORDER BY f.id DESC`),
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list food items by participant: %w", err)
	}
	return views, nil
}

// claimantGuard は申請者の期待値に対応するWHERE条件を返す。
func claimantGuard(expectedClaimantID *int64) (string, []interface{}) {
	if expectedClaimantID == nil {
		return `claimant_id IS NULL`, nil
	}
	return `claimant_id = ?`, []interface{}{*expectedClaimantID}
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ FoodItemRepository = (*SQLFoodItemRepo)(nil)
