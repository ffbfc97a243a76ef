package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/model"
)

// ConsentServiceInterface はプライバシー同意ハンドラーが必要とするサービスインターフェース。
type ConsentServiceInterface interface {
	List(ctx context.Context, token string, user model.Identity) ([]model.Consent, error)
	Update(ctx context.Context, token string, user model.Identity, consentID string, granted bool) (*model.Consent, error)
}

// ConsentHandler はプライバシー同意のHTTPハンドラー。
type ConsentHandler struct {
	errorResponder
	service ConsentServiceInterface
}

// NewConsentHandler はConsentHandlerを生成する。
func NewConsentHandler(service ConsentServiceInterface, invalidator SessionInvalidator, logger *slog.Logger) *ConsentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsentHandler{
		errorResponder: errorResponder{invalidator: invalidator, logger: logger},
		service:        service,
	}
}

type updateConsentRequest struct {
	Granted *bool `json:"granted"`
}

// List は現在の利用者の同意状態を返す。
// GET /api/consents
func (h *ConsentHandler) List(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	consents, err := h.service.List(r.Context(), current.Token, *current.Identity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if consents == nil {
		consents = []model.Consent{}
	}
	writeJSON(w, http.StatusOK, consents)
}

// Update は同意状態を更新する。
// PUT /api/consents/{id}
func (h *ConsentHandler) Update(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req updateConsentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if req.Granted == nil {
		h.handleServiceError(w, r, model.NewInvalidRequestError("grantedは必須です"))
		return
	}

	consent, err := h.service.Update(r.Context(), current.Token, *current.Identity, chi.URLParam(r, "id"), *req.Granted)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consent)
}
