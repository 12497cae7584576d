// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/plateful/internal/model"
)

// SessionCookieName はセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var identityContextKey = contextKey("identity")

// IdentityFinder はセッションIDから身元情報を解決する。
// 未ログイン・期限切れの場合は (nil, nil) を返す。
type IdentityFinder interface {
	FindIdentity(ctx context.Context, sessionID string) (*model.Identity, error)
}

// NewSessionMiddleware はCookieのセッションIDから身元情報を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未ログインのリクエストも拒否せずに通す。認可の判断はサービス層が行う。
// セッションの解決自体に失敗した場合のみ500を返す。
func NewSessionMiddleware(finder IdentityFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := finder.FindIdentity(r.Context(), cookie.Value)
			if err != nil {
				// ストレージ障害は未ログインと区別する
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				WriteInternalServerError(w)
				return
			}
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから身元情報を取得する。
// 未ログインの場合はnilを返す。
func IdentityFromContext(ctx context.Context) *model.Identity {
	identity, _ := ctx.Value(identityContextKey).(*model.Identity)
	return identity
}

// ActorFromContext はリクエストの操作主体を返す。未ログインの場合は匿名のActor。
func ActorFromContext(ctx context.Context) model.Actor {
	if identity := IdentityFromContext(ctx); identity != nil {
		return identity.Actor()
	}
	return model.Actor{}
}

// ContextWithIdentity はコンテキストに身元情報を注入する。
// ロギングミドルウェアの配下であれば、ログにもユーザーIDを残す。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	if meta := requestMetaFromContext(ctx); meta != nil && identity != nil {
		meta.userID = identity.ID
	}
	return context.WithValue(ctx, identityContextKey, identity)
}
