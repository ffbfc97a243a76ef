package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/carelink/internal/backend"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/session"
)

// --- モック定義 ---

type mockAuthenticator struct {
	loginFn func(ctx context.Context, email, password string) (*backend.LoginResult, error)
}

func (m *mockAuthenticator) Login(ctx context.Context, email, password string) (*backend.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return &backend.LoginResult{
		User:  model.Identity{ID: "u1", DisplayName: "Taro", Email: email, Role: model.RolePatient},
		Token: "tok",
	}, nil
}

type mockStore struct {
	current     model.Session
	establishFn func(ctx context.Context, identity model.Identity, token string) error
	clearFn     func(ctx context.Context) error
}

func (m *mockStore) Current() model.Session { return m.current }

func (m *mockStore) Establish(ctx context.Context, identity model.Identity, token string) error {
	if m.establishFn != nil {
		return m.establishFn(ctx, identity, token)
	}
	m.current = model.Session{Identity: &identity, Token: token}
	return nil
}

func (m *mockStore) Clear(ctx context.Context) error {
	if m.clearFn != nil {
		return m.clearFn(ctx)
	}
	m.current = model.Session{}
	return nil
}

type mockRecorder struct {
	results []string
}

func (m *mockRecorder) RecordLogin(result string) {
	m.results = append(m.results, result)
}

func newTestService(authn Authenticator, rec Recorder, buf *bytes.Buffer) *Service {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewService(authn, rec, logger)
}

func openRealStore(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.Open(context.Background(), session.NewMemoryStorage(), "client-1", session.Options{})
	if err != nil {
		t.Fatalf("session.Open() error: %v", err)
	}
	return s
}

// --- テスト ---

func TestLogin_EstablishesSession(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	svc := newTestService(&mockAuthenticator{}, rec, &buf)
	store := openRealStore(t)

	identity, err := svc.Login(context.Background(), store, "taro@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if identity.ID != "u1" {
		t.Errorf("ID = %q, want %q", identity.ID, "u1")
	}

	cur := store.Current()
	if !cur.Authenticated() || cur.Token != "tok" {
		t.Errorf("session = %+v, want established with tok", cur)
	}
	if len(rec.results) != 1 || rec.results[0] != LoginSuccess {
		t.Errorf("recorded = %v, want [success]", rec.results)
	}
}

// 認証失敗時は既存のセッションを変更しないこと。
func TestLogin_Rejected_KeepsExistingSession(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	authn := &mockAuthenticator{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return nil, model.ErrAuthenticationFailure
		},
	}
	svc := newTestService(authn, rec, &buf)

	store := openRealStore(t)
	admin := model.Identity{ID: "a1", Role: model.RoleAdmin}
	_ = store.Establish(context.Background(), admin, "admin-tok")

	_, err := svc.Login(context.Background(), store, "taro@example.com", "wrong")
	if !errors.Is(err, model.ErrAuthenticationFailure) {
		t.Fatalf("err = %v, want ErrAuthenticationFailure", err)
	}

	cur := store.Current()
	if cur.Identity == nil || cur.Identity.ID != "a1" || cur.Token != "admin-tok" {
		t.Errorf("existing session was modified: %+v", cur)
	}
	if rec.results[0] != LoginRejected {
		t.Errorf("recorded = %v, want [rejected]", rec.results)
	}
	if strings.Contains(buf.String(), "taro@example.com") {
		t.Error("log must not contain the full email address")
	}
}

func TestLogin_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"メール未入力", "", "secret"},
		{"パスワード未入力", "taro@example.com", ""},
		{"不正な形式", "not-an-email", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			authn := &mockAuthenticator{
				loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
					t.Fatal("backend must not be called for invalid input")
					return nil, nil
				},
			}
			svc := newTestService(authn, nil, &buf)

			_, err := svc.Login(context.Background(), &mockStore{}, tt.email, tt.password)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidRequest {
				t.Errorf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

// 応答待ちの間にリクエストが放棄された場合、応答を適用しないこと。
func TestLogin_AbandonedRequest_DoesNotEstablish(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	authn := &mockAuthenticator{
		loginFn: func(_ context.Context, email, password string) (*backend.LoginResult, error) {
			cancel()
			return &backend.LoginResult{User: model.Identity{ID: "u1", Role: model.RolePatient}, Token: "tok"}, nil
		},
	}
	svc := newTestService(authn, nil, &buf)
	store := openRealStore(t)

	if _, err := svc.Login(ctx, store, "taro@example.com", "secret"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if store.Current().Authenticated() {
		t.Error("abandoned login must not establish a session")
	}
}

func TestLogin_PersistenceFailure(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	store := &mockStore{
		establishFn: func(ctx context.Context, identity model.Identity, token string) error {
			return model.ErrPersistence
		},
	}
	svc := newTestService(&mockAuthenticator{}, rec, &buf)

	_, err := svc.Login(context.Background(), store, "taro@example.com", "secret")
	if !errors.Is(err, model.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
	if rec.results[0] != LoginPersistError {
		t.Errorf("recorded = %v, want [persistence_error]", rec.results)
	}
}

func TestLogin_BackendUnavailable(t *testing.T) {
	var buf bytes.Buffer
	authn := &mockAuthenticator{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return nil, model.ErrBackendUnavailable
		},
	}
	svc := newTestService(authn, nil, &buf)

	if _, err := svc.Login(context.Background(), &mockStore{}, "taro@example.com", "secret"); !errors.Is(err, model.ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestLogout_ClearsSession(t *testing.T) {
	var buf bytes.Buffer
	svc := newTestService(&mockAuthenticator{}, nil, &buf)
	store := openRealStore(t)
	_ = store.Establish(context.Background(), model.Identity{ID: "u1", Role: model.RolePatient}, "tok")

	if err := svc.Logout(context.Background(), store); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if store.Current().Identity != nil || store.Current().Token != "" {
		t.Error("session must be cleared after logout")
	}

	// 未ログイン状態でのログアウトも成功すること
	if err := svc.Logout(context.Background(), store); err != nil {
		t.Errorf("second Logout() error: %v", err)
	}
}

func TestInvalidateSession_LogsOnFailure(t *testing.T) {
	var buf bytes.Buffer
	svc := newTestService(&mockAuthenticator{}, nil, &buf)
	store := &mockStore{
		current: model.Session{Identity: &model.Identity{ID: "u1", Role: model.RolePatient}, Token: "tok"},
		clearFn: func(ctx context.Context) error { return model.ErrPersistence },
	}

	svc.InvalidateSession(context.Background(), store)

	if !strings.Contains(buf.String(), "failed to clear invalidated session") {
		t.Errorf("expected error log, got: %s", buf.String())
	}
}

func TestMaskEmail(t *testing.T) {
	if got := maskEmail("taro@example.com"); got != "t***@example.com" {
		t.Errorf("maskEmail() = %q, want %q", got, "t***@example.com")
	}
	if got := maskEmail("invalid"); got != "***" {
		t.Errorf("maskEmail() = %q, want %q", got, "***")
	}
}
