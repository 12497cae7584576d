package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/plateful/internal/claim"
	"github.com/hitoshi/plateful/internal/middleware"
	"github.com/hitoshi/plateful/internal/model"
)

// dateLayout は賞味期限の入出力形式。
const dateLayout = "2006-01-02"

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
// claim.Engineが実装する。
type ItemServiceInterface interface {
	Create(ctx context.Context, actor model.Actor, in claim.CreateItemInput) (*model.FoodItem, error)
	Claim(ctx context.Context, actor model.Actor, itemID int64) error
	Approve(ctx context.Context, actor model.Actor, itemID int64) error
	Cancel(ctx context.Context, actor model.Actor, itemID int64) error
	Delete(ctx context.Context, actor model.Actor, itemID int64) error
	List(ctx context.Context, filter model.ItemFilter) ([]model.FoodItemView, error)
	History(ctx context.Context, actor model.Actor) ([]model.FoodItemView, error)
	Get(ctx context.Context, itemID int64) (*model.FoodItemView, error)
}

// ItemHandler はフードアイテムのHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// createItemRequest はアイテム登録リクエストのボディ。
type createItemRequest struct {
	Name           string  `json:"name"`
	Quantity       *int    `json:"quantity"`
	ExpirationDate *string `json:"expirationDate"`
	ImageURL       string  `json:"imageUrl"`
}

// itemResponse はアイテム情報のAPIレスポンス。
type itemResponse struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	ExpirationDate *string `json:"expirationDate"`
	Status         string  `json:"status"`
	ImageURL       string  `json:"imageUrl,omitempty"`
	DonorID        *int64  `json:"donorId"`
	ClaimantID     *int64  `json:"claimantId"`
	DonorName      string  `json:"donorName,omitempty"`
	ClaimantName   string  `json:"claimantName,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// Create はアイテムを登録する。
// POST /items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.Anonymous() {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createItemRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	in := claim.CreateItemInput{
		Name:     req.Name,
		Quantity: req.Quantity,
		ImageURL: req.ImageURL,
	}
	if req.ExpirationDate != nil && *req.ExpirationDate != "" {
		d, err := time.Parse(dateLayout, *req.ExpirationDate)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("賞味期限はYYYY-MM-DD形式で入力してください"))
			return
		}
		in.ExpirationDate = &d
	}

	item, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(model.FoodItemView{FoodItem: *item}))
}

// List はアイテム一覧を返す。
// GET /items?status=Available
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter model.ItemFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.ItemStatus(raw)
		if !status.Valid() {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("不明なステータスです: "+raw))
			return
		}
		filter.Status = &status
	}

	views, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponses(views))
}

// Get はアイテム詳細を返す。
// GET /items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(*view))
}

// History は操作者が提供または申請したアイテムを返す。
// GET /history
func (h *ItemHandler) History(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.History(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponses(views))
}

// Claim はアイテムを申請する。
// POST /items/{id}/claim
func (h *ItemHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Claim)
}

// Approve は申請を承認する。
// POST /items/{id}/approve
func (h *ItemHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// Cancel は申請または承認を取り消す。
// POST /items/{id}/cancel
func (h *ItemHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// Delete はアイテムと関連メッセージを削除する。
// DELETE /items/{id}
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.Delete(r.Context(), middleware.ActorFromContext(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, model.Actor, int64) error) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := op(r.Context(), middleware.ActorFromContext(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// --- ヘルパー関数 ---

func toItemResponses(views []model.FoodItemView) []itemResponse {
	resp := make([]itemResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toItemResponse(v))
	}
	return resp
}

func toItemResponse(v model.FoodItemView) itemResponse {
	resp := itemResponse{
		ID:           v.ID,
		Name:         v.Name,
		Quantity:     v.Quantity,
		Status:       string(v.Status),
		ImageURL:     v.ImageURL,
		DonorID:      v.DonorID,
		ClaimantID:   v.ClaimantID,
		DonorName:    v.DonorName,
		ClaimantName: v.ClaimantName,
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.ExpirationDate != nil {
		d := v.ExpirationDate.Format(dateLayout)
		resp.ExpirationDate = &d
	}
	return resp
}
