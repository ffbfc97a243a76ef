package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/session"
)

var discardLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

var (
	testPatient      = model.Identity{ID: "patient-1", DisplayName: "山田 花子", Email: "hanako@example.com", Role: model.RolePatient}
	testProfessional = model.Identity{ID: "pro-1", DisplayName: "佐藤 医師", Email: "sato@example.com", Role: model.RoleProfessional}
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	loginFn      func(ctx context.Context, store auth.SessionStore, email, password string) (*model.Identity, error)
	logoutFn     func(ctx context.Context, store auth.SessionStore) error
	invalidated  int
	invalidateFn func(ctx context.Context, store auth.SessionStore)
}

func (m *mockAuthService) Login(ctx context.Context, store auth.SessionStore, email, password string) (*model.Identity, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, store, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, store auth.SessionStore) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, store)
	}
	return store.Clear(ctx)
}

func (m *mockAuthService) InvalidateSession(ctx context.Context, store auth.SessionStore) {
	m.invalidated++
	if m.invalidateFn != nil {
		m.invalidateFn(ctx, store)
		return
	}
	store.Clear(ctx)
}

// mockScheduleService はScheduleServiceInterfaceとUpcomingListerのモック実装。
type mockScheduleService struct {
	listProfessionalsFn func(ctx context.Context, token string) ([]model.Professional, error)
	availableSlotsFn    func(ctx context.Context, token, professionalID string, date model.CalendarDate) ([]model.TimeOfDay, error)
	bookFn              func(ctx context.Context, token string, patient model.Identity, req model.BookingRequest) (*model.Appointment, error)
	appointmentsFn      func(ctx context.Context, token string, identity model.Identity) ([]model.Appointment, error)
	upcomingFn          func(ctx context.Context, token string, identity model.Identity, limit int) ([]model.Appointment, error)
}

func (m *mockScheduleService) ListProfessionals(ctx context.Context, token string) ([]model.Professional, error) {
	if m.listProfessionalsFn != nil {
		return m.listProfessionalsFn(ctx, token)
	}
	return nil, nil
}

func (m *mockScheduleService) AvailableSlots(ctx context.Context, token, professionalID string, date model.CalendarDate) ([]model.TimeOfDay, error) {
	if m.availableSlotsFn != nil {
		return m.availableSlotsFn(ctx, token, professionalID, date)
	}
	return nil, nil
}

func (m *mockScheduleService) Book(ctx context.Context, token string, patient model.Identity, req model.BookingRequest) (*model.Appointment, error) {
	if m.bookFn != nil {
		return m.bookFn(ctx, token, patient, req)
	}
	return nil, nil
}

func (m *mockScheduleService) Appointments(ctx context.Context, token string, identity model.Identity) ([]model.Appointment, error) {
	if m.appointmentsFn != nil {
		return m.appointmentsFn(ctx, token, identity)
	}
	return nil, nil
}

func (m *mockScheduleService) Upcoming(ctx context.Context, token string, identity model.Identity, limit int) ([]model.Appointment, error) {
	if m.upcomingFn != nil {
		return m.upcomingFn(ctx, token, identity, limit)
	}
	return nil, nil
}

// mockRecordsService はRecordsServiceInterfaceのモック実装。
type mockRecordsService struct {
	listFn func(ctx context.Context, token string, viewer model.Identity, patientID string) ([]model.MedicalRecord, error)
}

func (m *mockRecordsService) List(ctx context.Context, token string, viewer model.Identity, patientID string) ([]model.MedicalRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, token, viewer, patientID)
	}
	return nil, nil
}

// mockConsentService はConsentServiceInterfaceのモック実装。
type mockConsentService struct {
	listFn   func(ctx context.Context, token string, user model.Identity) ([]model.Consent, error)
	updateFn func(ctx context.Context, token string, user model.Identity, consentID string, granted bool) (*model.Consent, error)
}

func (m *mockConsentService) List(ctx context.Context, token string, user model.Identity) ([]model.Consent, error) {
	if m.listFn != nil {
		return m.listFn(ctx, token, user)
	}
	return nil, nil
}

func (m *mockConsentService) Update(ctx context.Context, token string, user model.Identity, consentID string, granted bool) (*model.Consent, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, token, user, consentID, granted)
	}
	return nil, nil
}

// mockBulletin はBulletinReaderのモック実装。
type mockBulletin struct {
	entries []model.BulletinEntry
}

func (m *mockBulletin) Latest(ctx context.Context) []model.BulletinEntry {
	return m.entries
}

// --- テストヘルパー ---

// newTestStore はメモリストレージ上のStoreを生成する。identityがnilでなければ認証済みにする。
func newTestStore(t *testing.T, identity *model.Identity) *session.Store {
	t.Helper()
	store, err := session.Open(context.Background(), session.NewMemoryStorage(), uuid.NewString(), session.Options{Logger: discardLogger})
	if err != nil {
		t.Fatalf("session.Open() error = %v", err)
	}
	if identity != nil {
		if err := store.Establish(context.Background(), *identity, "token-"+identity.ID); err != nil {
			t.Fatalf("Establish() error = %v", err)
		}
	}
	return store
}

// withStore はテスト用にリクエストコンテキストにセッションストアを注入するヘルパー。
func withStore(r *http.Request, store *session.Store) *http.Request {
	return r.WithContext(middleware.ContextWithStore(r.Context(), store))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
