package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/model"
)

func TestAuthHandler_Login_Success(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, store auth.SessionStore, email, password string) (*model.Identity, error) {
			if email != "hanako@example.com" || password != "secret" {
				t.Errorf("credentials = %q/%q", email, password)
			}
			if err := store.Establish(ctx, testPatient, "tok"); err != nil {
				return nil, err
			}
			identity := testPatient
			return &identity, nil
		},
	}
	h := NewAuthHandler(svc, discardLogger)
	store := newTestStore(t, nil)

	body := `{"email":"hanako@example.com","password":"secret"}`
	req := withStore(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)), store)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
		Redirect string `json:"redirect"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !resp.Authenticated || resp.User.ID != "patient-1" || resp.User.Role != "patient" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Redirect != "/patient/dashboard" {
		t.Errorf("redirect = %q, want /patient/dashboard", resp.Redirect)
	}
	if !store.Current().Authenticated() {
		t.Error("store should be authenticated after login")
	}
}

// 資格情報が拒否された場合は401でフォーム用のメッセージを返し、既存セッションを変更しないこと。
func TestAuthHandler_Login_Rejected(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, store auth.SessionStore, email, password string) (*model.Identity, error) {
			return nil, fmt.Errorf("backend said no: %w", model.ErrAuthenticationFailure)
		},
	}
	h := NewAuthHandler(svc, discardLogger)
	store := newTestStore(t, &testProfessional)

	req := withStore(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`)), store)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := parseAPIErrorResponse(t, w)
	if body.Code != model.ErrCodeAuthenticationFailed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAuthenticationFailed)
	}
	if body.Message == "" {
		t.Error("message should be shown inline")
	}
	if got := store.Current(); got.Identity == nil || got.Identity.ID != "pro-1" {
		t.Errorf("existing session changed: %+v", got)
	}
}

func TestAuthHandler_Login_InvalidJSON(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, discardLogger)
	store := newTestStore(t, nil)

	for _, body := range []string{`not json`, `{"email":"a@example.com","password":"x","role":"admin"}`} {
		req := withStore(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)), store)
		w := httptest.NewRecorder()
		h.Login(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestAuthHandler_Login_StorageFailure_Returns503(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, store auth.SessionStore, email, password string) (*model.Identity, error) {
			return nil, fmt.Errorf("failed to establish session: %w", model.ErrPersistence)
		},
	}
	h := NewAuthHandler(svc, discardLogger)

	req := withStore(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`)), newTestStore(t, nil))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeSessionStorage {
		t.Errorf("code = %q", body.Code)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, discardLogger)
	store := newTestStore(t, &testPatient)

	req := withStore(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), store)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if store.Current().Authenticated() {
		t.Error("store should be cleared")
	}
	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Redirect != "/login" || resp.Authenticated {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthHandler_Logout_StorageFailure(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, store auth.SessionStore) error {
			return fmt.Errorf("failed to clear session: %w", model.ErrPersistence)
		},
	}
	h := NewAuthHandler(svc, discardLogger)

	req := withStore(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), newTestStore(t, &testPatient))
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAuthHandler_Session(t *testing.T) {
	tests := []struct {
		name         string
		identity     *model.Identity
		wantAuth     bool
		wantRedirect string
	}{
		{"未認証", nil, false, "/login"},
		{"患者", &testPatient, true, "/patient/dashboard"},
		{"医療従事者", &testProfessional, true, "/professional/dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{}, discardLogger)
			req := withStore(httptest.NewRequest(http.MethodGet, "/auth/session", nil), newTestStore(t, tt.identity))
			w := httptest.NewRecorder()
			h.Session(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["authenticated"] != tt.wantAuth || resp["redirect"] != tt.wantRedirect {
				t.Errorf("resp = %v", resp)
			}
			if _, hasUser := resp["user"]; hasUser != tt.wantAuth {
				t.Errorf("user present = %t, want %t", hasUser, tt.wantAuth)
			}
		})
	}
}
