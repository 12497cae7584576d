package model

import "time"

// Message は2ユーザー間のメッセージを表す。
// ItemIDが設定されている場合はそのアイテムの受け渡しに関する会話。
type Message struct {
	ID         int64     `db:"id"`
	SenderID   int64     `db:"sender_id"`
	ReceiverID int64     `db:"receiver_id"`
	ItemID     *int64    `db:"item_id"`
	Content    string    `db:"content"`
	IsRead     bool      `db:"is_read"`
	CreatedAt  time.Time `db:"created_at"`
}

// Conversation は会話相手ごとの最新メッセージと未読数の要約。
type Conversation struct {
	PartnerID     int64     `db:"partner_id"`
	PartnerName   string    `db:"partner_name"`
	LastMessage   string    `db:"last_message"`
	LastMessageAt time.Time `db:"last_message_at"`
	UnreadCount   int       `db:"unread_count"`
}
