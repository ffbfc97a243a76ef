package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/access"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

// upcomingLimit はダッシュボードに表示する直近の予約の件数。
const upcomingLimit = 5

// BulletinReader はダッシュボードに表示するお知らせを返す。
type BulletinReader interface {
	Latest(ctx context.Context) []model.BulletinEntry
}

// UpcomingLister は直近の予約を返す。
type UpcomingLister interface {
	Upcoming(ctx context.Context, token string, identity model.Identity, limit int) ([]model.Appointment, error)
}

// DashboardHandler はロール別ダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	errorResponder
	appointments UpcomingLister
	bulletin     BulletinReader
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(appointments UpcomingLister, bulletin BulletinReader, invalidator SessionInvalidator, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{
		errorResponder: errorResponder{invalidator: invalidator, logger: logger},
		appointments:   appointments,
		bulletin:       bulletin,
	}
}

type dashboardResponse struct {
	User     model.Identity        `json:"user"`
	Upcoming []model.Appointment   `json:"upcomingAppointments"`
	Bulletin []model.BulletinEntry `json:"bulletin"`
}

// Entry はログイン後の入口。ロールのダッシュボード、未認証ならログイン画面へリダイレクトする。
// GET /dashboard
func (h *DashboardHandler) Entry(w http.ResponseWriter, r *http.Request) {
	target := access.LoginPath
	if store, err := middleware.StoreFromContext(r.Context()); err == nil {
		if current := store.Current(); current.Authenticated() {
			if path, err := access.DashboardPath(current.Identity.Role); err == nil {
				target = path
			}
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Show はロール別ダッシュボードの内容を返す。ページガードの後に配置する。
// GET /patient/dashboard, /professional/dashboard, /admin/dashboard
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	_, current, err := authenticated(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	upcoming, err := h.appointments.Upcoming(r.Context(), current.Token, *current.Identity, upcomingLimit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	bulletin := []model.BulletinEntry{}
	if h.bulletin != nil {
		bulletin = h.bulletin.Latest(r.Context())
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		User:     *current.Identity,
		Upcoming: upcoming,
		Bulletin: bulletin,
	})
}
