// Package claim は寄付アイテムの申請ライフサイクル（状態遷移と権限判定）を提供する。
//
//	Available --claim--> Pending --approve--> Claimed
//	Pending/Claimed --cancel--> Available
//
// status と claimant_id を変更するのはこのパッケージだけである。
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/plateful/internal/model"
	"github.com/hitoshi/plateful/internal/repository"
)

const (
	// MaxNameLength はアイテム名の最大文字数。
	MaxNameLength = 100
	// maxDeleteAttempts は削除中に状態が変わった場合の再評価回数の上限。
	maxDeleteAttempts = 3
)

var (
	// errStaleItem は削除トランザクション中にアイテムの状態が変わったことを表す。
	errStaleItem = errors.New("food item changed during delete")
	// ErrDeleteContention は削除中に状態が変わり続け、削除権限はあるものの削除できなかったことを表す。
	// APIErrorではないため500として扱われる。
	ErrDeleteContention = errors.New("food item kept changing during delete")
)

// TextSanitizer はユーザー入力のテキストを平文に正規化する。
type TextSanitizer interface {
	SanitizeText(s string) string
}

// ImageURLValidator は画像URLが登録可能かを検証する。
type ImageURLValidator interface {
	ValidateImageURL(ctx context.Context, rawURL string) error
}

// TransitionRecorder は遷移の結果を記録する。
type TransitionRecorder interface {
	RecordTransition(action, outcome string)
}

// CreateItemInput はアイテム登録の入力値。
// Quantityがnilの場合は未入力として扱う。
type CreateItemInput struct {
	Name           string
	Quantity       *int
	ExpirationDate *time.Time
	ImageURL       string
}

// Engine は申請ライフサイクルの状態遷移と権限判定を行う。
type Engine struct {
	items     repository.FoodItemRepository
	txRunner  repository.TxRunner
	sanitizer TextSanitizer
	images    ImageURLValidator
	recorder  TransitionRecorder
}

// NewEngine はEngineの新しいインスタンスを生成する。
// sanitizer、images、recorderはnilでもよい。
func NewEngine(
	items repository.FoodItemRepository,
	txRunner repository.TxRunner,
	sanitizer TextSanitizer,
	images ImageURLValidator,
	recorder TransitionRecorder,
) *Engine {
	return &Engine{
		items:     items,
		txRunner:  txRunner,
		sanitizer: sanitizer,
		images:    images,
		recorder:  recorder,
	}
}

// Create は操作者を提供者としてAvailable状態のアイテムを登録する。
func (e *Engine) Create(ctx context.Context, actor model.Actor, in CreateItemInput) (*model.FoodItem, error) {
	item, err := e.create(ctx, actor, in)
	e.record(ActionCreate, err)
	return item, err
}

func (e *Engine) create(ctx context.Context, actor model.Actor, in CreateItemInput) (*model.FoodItem, error) {
	if actor.Anonymous() {
		return nil, model.NewUnauthorizedError()
	}

	name := strings.TrimSpace(in.Name)
	if e.sanitizer != nil {
		name = strings.TrimSpace(e.sanitizer.SanitizeText(name))
	}
	if name == "" {
		return nil, model.NewInvalidInputError("アイテム名は必須です")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("アイテム名は%d文字以内で入力してください", MaxNameLength))
	}
	if in.Quantity == nil {
		return nil, model.NewInvalidInputError("数量は必須です")
	}
	if *in.Quantity <= 0 {
		return nil, model.NewInvalidInputError("数量は1以上を指定してください")
	}

	imageURL := strings.TrimSpace(in.ImageURL)
	if imageURL != "" && e.images != nil {
		if err := e.images.ValidateImageURL(ctx, imageURL); err != nil {
			return nil, model.NewInvalidInputError(fmt.Sprintf("画像URLが不正です: %v", err))
		}
	}

	var expiration *time.Time
	if in.ExpirationDate != nil {
		d := time.Date(in.ExpirationDate.Year(), in.ExpirationDate.Month(), in.ExpirationDate.Day(), 0, 0, 0, 0, time.UTC)
		expiration = &d
	}

	donorID := actor.UserID
	item := &model.FoodItem{
		Name:           name,
		Quantity:       *in.Quantity,
		ExpirationDate: expiration,
		Status:         model.ItemStatusAvailable,
		ImageURL:       imageURL,
		DonorID:        &donorID,
	}
	if err := e.items.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Claim はAvailableのアイテムを操作者の申請としてPendingにする。
// 提供者自身の申請は状態に関わらず拒否する。
func (e *Engine) Claim(ctx context.Context, actor model.Actor, itemID int64) error {
	err := e.claim(ctx, actor, itemID)
	e.record(ActionClaim, err)
	return err
}

func (e *Engine) claim(ctx context.Context, actor model.Actor, itemID int64) error {
	if actor.Anonymous() {
		return model.NewUnauthorizedError()
	}
	item, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}
	if !Authorize(ActionClaim, actor, item) {
		return model.NewForbiddenError("自分が提供したアイテムは申請できません")
	}
	if item.Status != model.ItemStatusAvailable {
		return model.NewInvalidStateError(item.Status, string(ActionClaim))
	}

	claimantID := actor.UserID
	applied, err := e.items.ConditionalUpdateStatus(ctx, itemID,
		model.ItemStatusAvailable, nil,
		model.ItemStatusPending, &claimantID)
	if err != nil {
		return err
	}
	if !applied {
		return e.conflict(ctx, itemID, ActionClaim)
	}
	return nil
}

// Approve はPendingのアイテムをClaimedにする。提供者または管理者のみ実行できる。
func (e *Engine) Approve(ctx context.Context, actor model.Actor, itemID int64) error {
	err := e.approve(ctx, actor, itemID)
	e.record(ActionApprove, err)
	return err
}

func (e *Engine) approve(ctx context.Context, actor model.Actor, itemID int64) error {
	if actor.Anonymous() {
		return model.NewUnauthorizedError()
	}
	item, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}
	if !Authorize(ActionApprove, actor, item) {
		return model.NewForbiddenError("承認できるのは提供者または管理者のみです")
	}
	if item.Status != model.ItemStatusPending {
		return model.NewInvalidStateError(item.Status, string(ActionApprove))
	}

	// 読み取った申請者を条件に含め、その間に取消・再申請された別の申請を承認しない
	applied, err := e.items.ConditionalUpdateStatus(ctx, itemID,
		model.ItemStatusPending, item.ClaimantID,
		model.ItemStatusClaimed, item.ClaimantID)
	if err != nil {
		return err
	}
	if !applied {
		return e.conflict(ctx, itemID, ActionApprove)
	}
	return nil
}

// Cancel はPendingまたはClaimedのアイテムをAvailableに戻し、申請者を解除する。
func (e *Engine) Cancel(ctx context.Context, actor model.Actor, itemID int64) error {
	err := e.cancel(ctx, actor, itemID)
	e.record(ActionCancel, err)
	return err
}

func (e *Engine) cancel(ctx context.Context, actor model.Actor, itemID int64) error {
	if actor.Anonymous() {
		return model.NewUnauthorizedError()
	}
	item, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.Status.HasClaimant() {
		return model.NewInvalidStateError(item.Status, string(ActionCancel))
	}
	if !Authorize(ActionCancel, actor, item) {
		return model.NewForbiddenError("取消できるのは提供者・申請者・管理者のみです")
	}

	applied, err := e.items.ConditionalUpdateStatus(ctx, itemID,
		item.Status, item.ClaimantID,
		model.ItemStatusAvailable, nil)
	if err != nil {
		return err
	}
	if !applied {
		return e.conflict(ctx, itemID, ActionCancel)
	}
	return nil
}

// Delete はアイテムと、そのアイテムに紐づくメッセージを1トランザクションで削除する。
// 削除は権限判定に用いた状態と申請者が変わっていない場合にのみ適用され、
// 変わっていた場合は最新の状態で判定をやり直す。
func (e *Engine) Delete(ctx context.Context, actor model.Actor, itemID int64) error {
	err := e.delete(ctx, actor, itemID)
	e.record(ActionDelete, err)
	return err
}

func (e *Engine) delete(ctx context.Context, actor model.Actor, itemID int64) error {
	if actor.Anonymous() {
		return model.NewUnauthorizedError()
	}

	for attempt := 1; attempt <= maxDeleteAttempts; attempt++ {
		item, err := e.load(ctx, itemID)
		if err != nil {
			return err
		}
		if !Authorize(ActionDelete, actor, item) {
			return deleteForbidden(item)
		}

		err = e.txRunner.RunInTx(ctx, func(s repository.TxStores) error {
			removed, err := s.Messages.DeleteByItem(ctx, itemID)
			if err != nil {
				return err
			}
			deleted, err := s.Items.DeleteIfUnchanged(ctx, itemID, item.Status, item.ClaimantID)
			if err != nil {
				return err
			}
			if !deleted {
				return errStaleItem
			}
			slog.Info("アイテムを削除しました",
				slog.Int64("item_id", itemID),
				slog.Int64("user_id", actor.UserID),
				slog.Int64("messages_deleted", removed),
			)
			return nil
		})
		if errors.Is(err, errStaleItem) {
			slog.Warn("削除中にアイテムの状態が変わったため再評価します",
				slog.Int64("item_id", itemID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		return err
	}

	// 再評価の上限に達した。最新の状態で削除できないならその理由を返す。
	item, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}
	if !Authorize(ActionDelete, actor, item) {
		return deleteForbidden(item)
	}
	return fmt.Errorf("%w: item %d after %d attempts", ErrDeleteContention, itemID, maxDeleteAttempts)
}

// deleteForbidden は削除権限が無い場合のエラーを返す。
func deleteForbidden(item *model.FoodItem) error {
	if item.IsLegacy() {
		return model.NewForbiddenError("提供者の記録が無いアイテムは管理者のみ削除できます")
	}
	return model.NewForbiddenError("削除できるのは提供者・管理者、または受け取り確定済みの申請者のみです")
}

// List は全アイテムを新しい順に返す。権限判定は行わない。
func (e *Engine) List(ctx context.Context, filter model.ItemFilter) ([]model.FoodItemView, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, model.NewInvalidInputError(fmt.Sprintf("不明な状態です: %s", *filter.Status))
	}
	return e.items.ListAll(ctx, filter)
}

// History は操作者が提供者または申請者であるアイテムを新しい順に返す。
func (e *Engine) History(ctx context.Context, actor model.Actor) ([]model.FoodItemView, error) {
	if actor.Anonymous() {
		return nil, model.NewUnauthorizedError()
	}
	return e.items.ListByParticipant(ctx, actor.UserID)
}

// Get は提供者名・申請者名付きでアイテムを返す。
func (e *Engine) Get(ctx context.Context, itemID int64) (*model.FoodItemView, error) {
	view, err := e.items.FindViewByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return view, nil
}

func (e *Engine) load(ctx context.Context, itemID int64) (*model.FoodItem, error) {
	item, err := e.items.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}

// conflict は条件付き更新が適用されなかった場合に、最新の状態から返すエラーを決める。
func (e *Engine) conflict(ctx context.Context, itemID int64, action Action) error {
	current, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}
	return model.NewInvalidStateError(current.Status, string(action))
}

func (e *Engine) record(action Action, err error) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordTransition(string(action), Outcome(err))
}

// Outcome は操作結果をメトリクスのラベル値に変換する。
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrDeleteContention) {
		return "contention"
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "error"
	}
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return "unauthorized"
	case model.ErrCodeForbidden:
		return "forbidden"
	case model.ErrCodeItemNotFound:
		return "not_found"
	case model.ErrCodeInvalidState:
		return "invalid_state"
	case model.ErrCodeInvalidInput:
		return "invalid_input"
	default:
		return "error"
	}
}
