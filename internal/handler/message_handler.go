package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/plateful/internal/message"
	"github.com/hitoshi/plateful/internal/middleware"
	"github.com/hitoshi/plateful/internal/model"
)

// MessageServiceInterface はメッセージハンドラーが必要とするサービスインターフェース。
type MessageServiceInterface interface {
	Send(ctx context.Context, actor model.Actor, in message.SendInput) (*model.Message, error)
	Thread(ctx context.Context, actor model.Actor, partnerID int64) ([]model.Message, error)
	Conversations(ctx context.Context, actor model.Actor) ([]model.Conversation, error)
	UnreadCount(ctx context.Context, actor model.Actor) (int, error)
}

// MessageHandler はユーザー間メッセージのHTTPハンドラー。
type MessageHandler struct {
	service MessageServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessageServiceInterface) *MessageHandler {
	return &MessageHandler{service: service}
}

type sendMessageRequest struct {
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
	ItemID     *int64 `json:"itemId"`
}

type messageResponse struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	ItemID     *int64 `json:"itemId"`
	Content    string `json:"content"`
	IsRead     bool   `json:"isRead"`
	CreatedAt  string `json:"createdAt"`
}

type conversationResponse struct {
	PartnerID     int64  `json:"partnerId"`
	PartnerName   string `json:"partnerName"`
	LastMessage   string `json:"lastMessage"`
	LastMessageAt string `json:"lastMessageAt"`
	UnreadCount   int    `json:"unreadCount"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// Send はメッセージを送信する。
// POST /messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.Anonymous() {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req sendMessageRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if req.ReceiverID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("宛先は必須です"))
		return
	}

	msg, err := h.service.Send(r.Context(), actor, message.SendInput{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		ItemID:     req.ItemID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(*msg))
}

// Thread は相手とのメッセージを古い順に返す。
// GET /messages/{partnerId}
func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	partnerID, apiErr := parseIDParam(r, "partnerId")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	msgs, err := h.service.Thread(r.Context(), middleware.ActorFromContext(r.Context()), partnerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Conversations は会話相手ごとの最新メッセージを返す。
// GET /messages/conversations
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.service.Conversations(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, conversationResponse{
			PartnerID:     c.PartnerID,
			PartnerName:   c.PartnerName,
			LastMessage:   c.LastMessage,
			LastMessageAt: c.LastMessageAt.UTC().Format(time.RFC3339),
			UnreadCount:   c.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UnreadCount は未読メッセージ数を返す。
// GET /messages/unread-count
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, unreadCountResponse{Count: count})
}

func toMessageResponse(m model.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		ItemID:     m.ItemID,
		Content:    m.Content,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
	}
}
