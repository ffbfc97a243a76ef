package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/model"
)

// ScheduleServiceInterface は予約関連ハンドラーが必要とするサービスインターフェース。
type ScheduleServiceInterface interface {
	ListProfessionals(ctx context.Context, token string) ([]model.Professional, error)
	AvailableSlots(ctx context.Context, token, professionalID string, date model.CalendarDate) ([]model.TimeOfDay, error)
	Book(ctx context.Context, token string, patient model.Identity, req model.BookingRequest) (*model.Appointment, error)
	Appointments(ctx context.Context, token string, identity model.Identity) ([]model.Appointment, error)
}

// ScheduleHandler は医療従事者・予約枠・予約のHTTPハンドラー。
type ScheduleHandler struct {
	errorResponder
	service ScheduleServiceInterface
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(service ScheduleServiceInterface, invalidator SessionInvalidator, logger *slog.Logger) *ScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{
		errorResponder: errorResponder{invalidator: invalidator, logger: logger},
		service:        service,
	}
}

type slotsResponse struct {
	ProfessionalID string             `json:"professionalId"`
	Date           model.CalendarDate `json:"date"`
	Slots          []model.TimeOfDay  `json:"slots"`
}

// ListProfessionals は医療従事者の一覧を返す。
// GET /api/professionals
func (h *ScheduleHandler) ListProfessionals(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	pros, err := h.service.ListProfessionals(r.Context(), current.Token)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if pros == nil {
		pros = []model.Professional{}
	}
	writeJSON(w, http.StatusOK, pros)
}

// Slots は医療従事者の指定日の予約可能枠を返す。
// GET /api/professionals/{id}/slots?date=YYYY-MM-DD
func (h *ScheduleHandler) Slots(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	professionalID := chi.URLParam(r, "id")
	rawDate := r.URL.Query().Get("date")
	date, err := model.ParseCalendarDate(rawDate)
	if err != nil {
		h.handleServiceError(w, r, model.NewInvalidDateError(rawDate))
		return
	}

	slots, err := h.service.AvailableSlots(r.Context(), current.Token, professionalID, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []model.TimeOfDay{}
	}

	writeJSON(w, http.StatusOK, slotsResponse{
		ProfessionalID: professionalID,
		Date:           date,
		Slots:          slots,
	})
}

// ListAppointments はロールに応じた予約一覧を返す。
// GET /api/appointments
func (h *ScheduleHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	appts, err := h.service.Appointments(r.Context(), current.Token, *current.Identity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

// Book は患者の予約を作成する。
// POST /api/appointments
func (h *ScheduleHandler) Book(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req model.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	appt, err := h.service.Book(r.Context(), current.Token, *current.Identity, req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}
