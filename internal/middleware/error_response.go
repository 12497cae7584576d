package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/plateful/internal/model"
)

// ErrCodeInternal は内部エラーのエラーコード。詳細はログにのみ残す。
const ErrCodeInternal = "INTERNAL_ERROR"

// ErrorResponseBody はAPIエラーのレスポンスボディ。
// RequestIDはロギングミドルウェアが採番したIDで、利用者からの問い合わせとログの突き合わせに使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
}

var internalError = &model.APIError{
	Code:     ErrCodeInternal,
	Message:  "サーバーでエラーが発生しました。",
	Category: "system",
	Action:   "時間をおいてもう一度お試しください。解決しない場合はリクエストIDを添えてお問い合わせください。",
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。
// X-Request-IDが設定済みであれば、同じ値をボディにも含める。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は500を汎用メッセージで書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError)
}
