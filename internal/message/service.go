// Package message はユーザー間メッセージの送受信を提供する。
package message

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/plateful/internal/model"
	"github.com/hitoshi/plateful/internal/repository"
)

// MaxContentLength はメッセージ本文の最大文字数。
const MaxContentLength = 2000

// TextSanitizer はユーザー入力のテキストを平文に正規化する。
type TextSanitizer interface {
	SanitizeText(s string) string
}

// SentRecorder はメッセージ送信数を記録する。
type SentRecorder interface {
	RecordMessageSent()
}

// SendInput はメッセージ送信の入力値。
type SendInput struct {
	ReceiverID int64
	Content    string
	ItemID     *int64
}

// Service はメッセージ送受信のビジネスロジックを提供する。
type Service struct {
	messages  repository.MessageRepository
	users     repository.UserRepository
	items     repository.FoodItemRepository
	sanitizer TextSanitizer
	recorder  SentRecorder
}

// NewService はServiceを生成する。sanitizerとrecorderはnilでもよい。
func NewService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	items repository.FoodItemRepository,
	sanitizer TextSanitizer,
	recorder SentRecorder,
) *Service {
	return &Service{
		messages:  messages,
		users:     users,
		items:     items,
		sanitizer: sanitizer,
		recorder:  recorder,
	}
}

// Send は操作者からReceiverIDへメッセージを送信する。
// ItemIDを指定した場合はそのアイテムが存在する必要がある。
func (s *Service) Send(ctx context.Context, actor model.Actor, in SendInput) (*model.Message, error) {
	if actor.Anonymous() {
		return nil, model.NewUnauthorizedError()
	}

	content := strings.TrimSpace(in.Content)
	if s.sanitizer != nil {
		content = s.sanitizer.SanitizeText(content)
	}
	if content == "" {
		return nil, model.NewInvalidInputError("メッセージ本文は必須です")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("メッセージは%d文字以内で入力してください", MaxContentLength))
	}
	if in.ReceiverID == actor.UserID {
		return nil, model.NewInvalidInputError("自分自身にはメッセージを送信できません")
	}

	receiver, err := s.users.FindByID(ctx, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.ItemID != nil {
		item, err := s.items.FindByID(ctx, *in.ItemID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, model.NewItemNotFoundError(*in.ItemID)
		}
	}

	msg := &model.Message{
		SenderID:   actor.UserID,
		ReceiverID: in.ReceiverID,
		ItemID:     in.ItemID,
		Content:    content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.RecordMessageSent()
	}
	return msg, nil
}

// Thread は操作者とpartnerIDの間のメッセージを古い順に返す。
// 返却前に相手から操作者宛てのメッセージを既読にする。
func (s *Service) Thread(ctx context.Context, actor model.Actor, partnerID int64) ([]model.Message, error) {
	if actor.Anonymous() {
		return nil, model.NewUnauthorizedError()
	}

	partner, err := s.users.FindByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, model.NewUserNotFoundError()
	}

	if _, err := s.messages.MarkRead(ctx, actor.UserID, partnerID); err != nil {
		return nil, err
	}
	return s.messages.ListThread(ctx, actor.UserID, partnerID)
}

// Conversations は操作者の会話相手一覧を最新メッセージの新しい順に返す。
// 相手の表示名はまとめて1クエリで解決する。
func (s *Service) Conversations(ctx context.Context, actor model.Actor) ([]model.Conversation, error) {
	if actor.Anonymous() {
		return nil, model.NewUnauthorizedError()
	}

	conversations, err := s.messages.ListConversationPartners(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return conversations, nil
	}

	ids := make([]int64, len(conversations))
	for i, c := range conversations {
		ids[i] = c.PartnerID
	}
	partners, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		if u, ok := partners[conversations[i].PartnerID]; ok {
			conversations[i].PartnerName = u.DisplayName()
		}
	}
	return conversations, nil
}

// UnreadCount は操作者宛ての未読メッセージ数を返す。
func (s *Service) UnreadCount(ctx context.Context, actor model.Actor) (int, error) {
	if actor.Anonymous() {
		return 0, model.NewUnauthorizedError()
	}
	return s.messages.CountUnread(ctx, actor.UserID)
}
