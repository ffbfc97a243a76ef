// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/session"
)

// ClientCookieName はクライアント識別子を保持するCookieの名前。
// セッションの永続化キーの名前空間になる。
const ClientCookieName = "client_id"

// clientCookieMaxAge はクライアント識別子Cookieの有効期間（400日）。
const clientCookieMaxAge = 400 * 24 * 60 * 60

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	storeContextKey    = contextKey("session_store")
	clientIDContextKey = contextKey("client_id")
)

// StoreOpener はクライアントIDからセッションストアを復元する。
// session.Managerが実装する。
type StoreOpener interface {
	Open(ctx context.Context, clientID string) (*session.Store, error)
}

// ClientSessionConfig はクライアントセッションミドルウェアの設定。
type ClientSessionConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewClientSessionMiddleware はclient_id Cookieからクライアントを識別し、
// 永続化済みのセッションを復元してリクエストコンテキストに注入する。
// Cookieが無い、または形式が不正な場合は新しいクライアントIDを発行する。
// 未認証でもリクエストは拒否しない。認可はアクセスガードが行う。
func NewClientSessionMiddleware(opener StoreOpener, config ClientSessionConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからクライアントを識別
			clientID := ""
			if cookie, err := r.Cookie(ClientCookieName); err == nil {
				if id, err := uuid.Parse(cookie.Value); err == nil {
					clientID = id.String()
				}
			}
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   clientCookieMaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			// 2. 永続化済みセッションを復元
			store, err := opener.Open(r.Context(), clientID)
			if err != nil {
				logger.Error("failed to open client session",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. コンテキストに注入
			annotate(r.Context(), store)
			ctx := context.WithValue(r.Context(), clientIDContextKey, clientID)
			ctx = context.WithValue(ctx, storeContextKey, store)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StoreFromContext はリクエストコンテキストからセッションストアを取得する。
// クライアントセッションミドルウェアを通過したリクエストでのみ有効。
func StoreFromContext(ctx context.Context) (*session.Store, error) {
	store, ok := ctx.Value(storeContextKey).(*session.Store)
	if !ok || store == nil {
		return nil, fmt.Errorf("session store not found in context")
	}
	return store, nil
}

// ClientIDFromContext はリクエストコンテキストからクライアントIDを取得する。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDContextKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client ID not found in context")
	}
	return clientID, nil
}

// UserIDFromContext は現在のセッションの利用者IDを返す。未認証の場合はエラーを返す。
// ログイン・ログアウトの結果はリクエスト処理中に反映される。
func UserIDFromContext(ctx context.Context) (string, error) {
	store, err := StoreFromContext(ctx)
	if err != nil {
		return "", err
	}
	current := store.Current()
	if !current.Authenticated() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return current.Identity.ID, nil
}

// ContextWithStore はコンテキストにセッションストアを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithStore(ctx context.Context, store *session.Store) context.Context {
	ctx = context.WithValue(ctx, clientIDContextKey, store.ClientID())
	return context.WithValue(ctx, storeContextKey, store)
}
