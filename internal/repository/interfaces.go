// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/plateful/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByIDs は複数IDのユーザーを1クエリでまとめて取得する。
	// 存在しないIDは結果のmapに含まれない。
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error)

	// Create はユーザーを作成し、採番したIDをuser.IDに設定する。
	// ユーザー名が重複する場合は database.ErrDuplicateKey をラップしたエラーを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindIdentity は有効なセッションに紐づくユーザーの身元情報を取得する。
	// セッションが無いか期限切れの場合はnilを返す。
	FindIdentity(ctx context.Context, sessionID string) (*model.Identity, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// FoodItemRepository は寄付アイテムの永続化インターフェース。
// 状態遷移の可否は判断せず、条件付き更新の結果だけを返す。
type FoodItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.FoodItem, error)

	// FindViewByID は提供者名・申請者名付きでアイテムを取得する。見つからない場合はnilを返す。
	FindViewByID(ctx context.Context, id int64) (*model.FoodItemView, error)

	// Create はアイテムを作成し、採番したIDをitem.IDに設定する。
	Create(ctx context.Context, item *model.FoodItem) error

	// ConditionalUpdateStatus は現在の状態と申請者が期待値と一致する場合にのみ
	// 状態と申請者を更新する。expectedClaimantIDがnilの場合は申請者が未設定であることを条件とする。
	// 更新された場合にtrueを返す。
	ConditionalUpdateStatus(ctx context.Context, id int64, expectedStatus model.ItemStatus, expectedClaimantID *int64, newStatus model.ItemStatus, newClaimantID *int64) (bool, error)

	// DeleteIfUnchanged は状態と申請者が期待値と一致する場合にのみアイテムを削除する。
	// 削除された場合にtrueを返す。
	DeleteIfUnchanged(ctx context.Context, id int64, expectedStatus model.ItemStatus, expectedClaimantID *int64) (bool, error)

	// ListAll は全アイテムをID降順で取得する。filter.Statusが指定された場合はその状態のみ返す。
	ListAll(ctx context.Context, filter model.ItemFilter) ([]model.FoodItemView, error)

	// ListByParticipant は指定ユーザーが提供者または申請者であるアイテムをID降順で取得する。
	ListByParticipant(ctx context.Context, userID int64) ([]model.FoodItemView, error)
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを作成し、採番したIDをmsg.IDに設定する。
	Create(ctx context.Context, msg *model.Message) error

	// ListThread は2ユーザー間のメッセージを送信日時の昇順で取得する。
	ListThread(ctx context.Context, userA, userB int64) ([]model.Message, error)

	// MarkRead はsenderIDからreceiverIDへの未読メッセージを既読にし、更新件数を返す。
	MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error)

	// DeleteByItem は指定アイテムに紐づくメッセージを全て削除し、削除件数を返す。
	DeleteByItem(ctx context.Context, itemID int64) (int64, error)

	// ListConversationPartners は会話相手ごとの最新メッセージと未読数を、
	// 最新メッセージの新しい順に取得する。PartnerNameは設定しない。
	ListConversationPartners(ctx context.Context, userID int64) ([]model.Conversation, error)

	// CountUnread は指定ユーザー宛ての未読メッセージ数を返す。
	CountUnread(ctx context.Context, userID int64) (int, error)
}

// TxStores はトランザクションに束縛されたリポジトリの組。
type TxStores struct {
	Items    FoodItemRepository
	Messages MessageRepository
}

// TxRunner は複数リポジトリにまたがる操作を1トランザクションで実行する。
// fnがエラーを返した場合はロールバックされる。
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(stores TxStores) error) error
}
