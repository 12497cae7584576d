package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/plateful/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	IdentityFinder    middleware.IdentityFinder
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFEnabled       bool
	CSRFConfig        middleware.CSRFConfig
	TrustProxy        bool

	// メトリクス（任意）
	HTTPRecorder   middleware.HTTPRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	DB Pinger

	// サービス
	AuthService    AuthServiceInterface
	AuthConfig     AuthHandlerConfig
	ItemService    ItemServiceInterface
	MessageService MessageServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// /health と /metrics はセッション以降のチェーンの外に配置する。
// セッションミドルウェアは未ログインのリクエストも通し、認可はサービス層が判断する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "not found"})
	})

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	itemHandler := NewItemHandler(deps.ItemService)
	messageHandler := NewMessageHandler(deps.MessageService)

	// --- API ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.IdentityFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		if deps.CSRFEnabled {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		}

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// 認証（登録・ログインには専用のレート制限を追加）
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// フードアイテム
		r.Route("/items", func(r chi.Router) {
			r.Get("/", itemHandler.List)
			r.Post("/", itemHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", itemHandler.Get)
				r.Delete("/", itemHandler.Delete)
				r.Post("/claim", itemHandler.Claim)
				r.Post("/approve", itemHandler.Approve)
				r.Post("/cancel", itemHandler.Cancel)
			})
		})
		r.Get("/history", itemHandler.History)

		// メッセージ
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", messageHandler.Send)
			r.Get("/conversations", messageHandler.Conversations)
			r.Get("/unread-count", messageHandler.UnreadCount)
			r.Get("/{partnerId}", messageHandler.Thread)
		})
	})

	return r
}
