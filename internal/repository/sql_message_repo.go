package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/plateful/internal/database"
	"github.com/hitoshi/plateful/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, item_id, content, is_read, created_at`

// SQLMessageRepo はsqlxを使用したメッセージリポジトリ。
type SQLMessageRepo struct {
	db database.Handler
}

// NewSQLMessageRepo はSQLMessageRepoを生成する。
func NewSQLMessageRepo(db database.Handler) *SQLMessageRepo {
	return &SQLMessageRepo{db: db}
}

// Create はメッセージを作成し、採番したIDをmsg.IDに設定する。
func (r *SQLMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = database.Now()
	}

	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO messages (sender_id, receiver_id, item_id, content, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		msg.SenderID, msg.ReceiverID, msg.ItemID, msg.Content, msg.IsRead, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListThread は2ユーザー間のメッセージを送信日時の昇順で取得する。
func (r *SQLMessageRepo) ListThread(ctx context.Context, userA, userB int64) ([]model.Message, error) {
	messages := []model.Message{}
	err := r.db.SelectContext(ctx, &messages,
		r.db.Rebind(`SELECT `+messageColumns+`
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at ASC, id ASC`),
		userA, userB, userB, userA,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list message thread: %w", err)
	}
	return messages, nil
}

// MarkRead はsenderIDからreceiverIDへの未読メッセージを既読にする。
func (r *SQLMessageRepo) MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE messages SET is_read = ?
		 WHERE receiver_id = ? AND sender_id = ? AND is_read = ?`),
		true, receiverID, senderID, false,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get updated message count: %w", err)
	}
	return n, nil
}

// DeleteByItem は指定アイテムに紐づくメッセージを全て削除する。
func (r *SQLMessageRepo) DeleteByItem(ctx context.Context, itemID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM messages WHERE item_id = ?`),
		itemID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete item messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted message count: %w", err)
	}
	return n, nil
}

// ListConversationPartners は会話相手ごとの最新メッセージと未読数を取得する。
// 相手ごとの最新メッセージはMAX(id)で特定してから本体と結合する。
func (r *SQLMessageRepo) ListConversationPartners(ctx context.Context, userID int64) ([]model.Conversation, error) {
	conversations := []model.Conversation{}
	err := r.db.SelectContext(ctx, &conversations,
		r.db.Rebind(`SELECT
			p.partner_id AS partner_id,
			m.content AS last_message,
			m.created_at AS last_message_at,
			(SELECT COUNT(*) FROM messages u
			  WHERE u.sender_id = p.partner_id AND u.receiver_id = ? AND u.is_read = ?) AS unread_count
		 FROM (
			SELECT t.partner_id AS partner_id, MAX(t.id) AS last_id
			FROM (
				SELECT id, CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id
				FROM messages
				WHERE sender_id = ? OR receiver_id = ?
			) t
			GROUP BY t.partner_id
		 ) p
		 JOIN messages m ON m.id = p.last_id
		 ORDER BY m.created_at DESC, m.id DESC`),
		userID, false, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation partners: %w", err)
	}
	return conversations, nil
}

// CountUnread は指定ユーザー宛ての未読メッセージ数を返す。
func (r *SQLMessageRepo) CountUnread(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		r.db.Rebind(`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = ?`),
		userID, false,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ MessageRepository = (*SQLMessageRepo)(nil)
