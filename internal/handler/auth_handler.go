package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/access"
	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, store auth.SessionStore, email, password string) (*model.Identity, error)
	Logout(ctx context.Context, store auth.SessionStore) error
	InvalidateSession(ctx context.Context, store auth.SessionStore)
}

// AuthHandler はログイン・ログアウト関連のHTTPハンドラー。
type AuthHandler struct {
	errorResponder
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		errorResponder: errorResponder{invalidator: service, logger: logger},
		service:        service,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse は現在のセッションの状態。
type sessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *model.Identity `json:"user,omitempty"`
	Redirect      string          `json:"redirect"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
// 成功時はロールごとのダッシュボードへの遷移先を返す。
// 資格情報が拒否された場合は401とフォームに表示するメッセージを返し、既存のセッションは変更しない。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	identity, err := h.service.Login(r.Context(), store, req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	target, err := access.DashboardPath(identity.Role)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          identity,
		Redirect:      target,
	})
}

// Logout はセッションを解除する。
// POST /auth/logout
// 永続化エントリの削除に失敗した場合、次のリクエストでセッションが復元されてしまうため503を返す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if err := h.service.Logout(r.Context(), store); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Redirect: access.LoginPath})
}

// Session は現在のセッションの状態を返す。未認証でも200を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	current := store.Current()
	if !current.Authenticated() {
		writeJSON(w, http.StatusOK, sessionResponse{Redirect: access.LoginPath})
		return
	}

	target, err := access.DashboardPath(current.Identity.Role)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          current.Identity,
		Redirect:      target,
	})
}
