package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/model"
)

// RecordsServiceInterface は診療記録ハンドラーが必要とするサービスインターフェース。
type RecordsServiceInterface interface {
	List(ctx context.Context, token string, viewer model.Identity, patientID string) ([]model.MedicalRecord, error)
}

// RecordsHandler は診療記録のHTTPハンドラー。
type RecordsHandler struct {
	errorResponder
	service RecordsServiceInterface
}

// NewRecordsHandler はRecordsHandlerを生成する。
func NewRecordsHandler(service RecordsServiceInterface, invalidator SessionInvalidator, logger *slog.Logger) *RecordsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordsHandler{
		errorResponder: errorResponder{invalidator: invalidator, logger: logger},
		service:        service,
	}
}

// List は患者の診療記録を返す。患者本人は自身の記録のみ参照できる。
// GET /api/patients/{id}/records
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	records, err := h.service.List(r.Context(), current.Token, *current.Identity, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []model.MedicalRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
