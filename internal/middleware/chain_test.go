package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// TestMiddlewareChain_WithChiRouter は本番と同じ順序のチェーンがchi.Routerで動作することを検証する。
func TestMiddlewareChain_WithChiRouter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rl := newFrozenRateLimiter(t, 10, 10)
	rec := &mockHTTPRecorder{}

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Use(NewLoggingMiddleware(logger))
	r.Use(NewMetricsMiddleware(rec))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(NewSessionMiddleware(validSessionFinder()))
	r.Use(rl.GeneralMiddleware())
	r.Use(NewCSRFMiddleware(CSRFConfig{}))

	r.Get("/api/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)
	r.Post("/items/{id}/claim", func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()).UserID != 42 {
			t.Errorf("actor = %+v, want user 42", ActorFromContext(r.Context()))
		}
		if chi.URLParam(r, "id") != "7" {
			t.Errorf("id = %q, want 7", chi.URLParam(r, "id"))
		}
		w.WriteHeader(http.StatusOK)
	})

	// 1. CSRFトークンを取得
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	token := findCookie(w.Result(), csrfCookieName)
	if token == nil {
		t.Fatal("csrf cookie not issued")
	}

	// 2. トークン付きでPOST
	req := httptest.NewRequest(http.MethodPost, "/items/7/claim", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	req.AddCookie(token)
	req.Header.Set(CSRFHeaderName, token.Value)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("X-Request-ID should be set")
	}
	if len(rec.statuses) != 2 {
		t.Errorf("recorded statuses = %v, want 2 entries", rec.statuses)
	}

	// 3. トークンなしのPOSTは403
	req = httptest.NewRequest(http.MethodPost, "/items/7/claim", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}
