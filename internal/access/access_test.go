package access

import (
	"errors"
	"testing"

	"github.com/hitoshi/carelink/internal/model"
)

func sessionWithRole(r model.Role) model.Session {
	return model.Session{
		Identity: &model.Identity{ID: "u1", DisplayName: "Taro", Role: r},
		Token:    "tok",
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		required   RoleSet
		session    model.Session
		wantOut    Outcome
		wantTarget string
	}{
		{"未認証はログインへ", Roles(model.RolePatient), model.Session{}, RedirectToLogin, LoginPath},
		{"一致するロールは許可", Roles(model.RolePatient), sessionWithRole(model.RolePatient), Allow, ""},
		{"複数ロールのいずれかに一致", Roles(model.RoleProfessional, model.RoleAdmin), sessionWithRole(model.RoleAdmin), Allow, ""},
		{"患者が管理者画面", Roles(model.RoleAdmin), sessionWithRole(model.RolePatient), RedirectToOwnDashboard, "/patient/dashboard"},
		{"医療者が患者画面", Roles(model.RolePatient), sessionWithRole(model.RoleProfessional), RedirectToOwnDashboard, "/professional/dashboard"},
		{"管理者が医療者画面", Roles(model.RoleProfessional), sessionWithRole(model.RoleAdmin), RedirectToOwnDashboard, "/admin/dashboard"},
		{"空のロール集合", Roles(), sessionWithRole(model.RoleAdmin), RedirectToOwnDashboard, "/admin/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.required, tt.session)
			if err != nil {
				t.Fatalf("Decide() error: %v", err)
			}
			if got.Outcome != tt.wantOut {
				t.Errorf("Outcome = %v, want %v", got.Outcome, tt.wantOut)
			}
			if got.Target != tt.wantTarget {
				t.Errorf("Target = %q, want %q", got.Target, tt.wantTarget)
			}
		})
	}
}

// 管理者専用画面に患者がアクセスした場合、患者ダッシュボードへ誘導されること。
func TestDecide_AdminOnlyWithPatient_RedirectsToPatientDashboard(t *testing.T) {
	got, err := Decide(Roles(model.RoleAdmin), sessionWithRole(model.RolePatient))
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if got.Outcome != RedirectToOwnDashboard {
		t.Errorf("Outcome = %v, want %v", got.Outcome, RedirectToOwnDashboard)
	}
	if got.Target != "/patient/dashboard" {
		t.Errorf("Target = %q, want %q", got.Target, "/patient/dashboard")
	}
}

// 識別情報のないセッションは、どのロール集合に対しても許可されないこと。
func TestDecide_NoIdentityNeverAllows(t *testing.T) {
	roles := model.AllRoles()
	// 全ロールの部分集合を列挙する
	for mask := 0; mask < 1<<len(roles); mask++ {
		var subset []model.Role
		for i, r := range roles {
			if mask&(1<<i) != 0 {
				subset = append(subset, r)
			}
		}

		got, _ := Decide(Roles(subset...), model.Session{})
		if got.Outcome == Allow {
			t.Errorf("Decide(%v, empty session) = Allow, want redirect", subset)
		}
	}
}

// 不正なセッションはErrInvalidStateを返し、ログインへ誘導されること（フェイルクローズ）。
func TestDecide_MalformedSession_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		session model.Session
	}{
		{"トークンのみ", model.Session{Token: "tok"}},
		{"識別情報のみ", model.Session{Identity: &model.Identity{ID: "u1", Role: model.RoleAdmin}}},
		{"不正なロール", model.Session{Identity: &model.Identity{ID: "u1"}, Token: "tok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(AnyRole(), tt.session)
			if !errors.Is(err, model.ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
			if got.Outcome != RedirectToLogin {
				t.Errorf("Outcome = %v, want %v", got.Outcome, RedirectToLogin)
			}
		})
	}
}

// 同じ入力に対して繰り返し呼び出しても同じ結果を返すこと。
func TestDecide_Deterministic(t *testing.T) {
	sessions := []model.Session{
		{},
		sessionWithRole(model.RolePatient),
		sessionWithRole(model.RoleProfessional),
		sessionWithRole(model.RoleAdmin),
		{Token: "tok"},
	}
	sets := []RoleSet{Roles(), Roles(model.RolePatient), Roles(model.RoleAdmin), AnyRole()}

	for _, s := range sessions {
		for _, set := range sets {
			first, firstErr := Decide(set, s)
			for i := 0; i < 10; i++ {
				got, err := Decide(set, s)
				if got != first || (err == nil) != (firstErr == nil) {
					t.Fatalf("Decide not deterministic: first=%+v/%v, got=%+v/%v", first, firstErr, got, err)
				}
			}
		}
	}
}

func TestDashboardPath(t *testing.T) {
	for _, r := range model.AllRoles() {
		path, err := DashboardPath(r)
		if err != nil {
			t.Errorf("DashboardPath(%v) error: %v", r, err)
		}
		if want := "/" + r.String() + "/dashboard"; path != want {
			t.Errorf("DashboardPath(%v) = %q, want %q", r, path, want)
		}
	}

	if _, err := DashboardPath(model.Role(0)); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("DashboardPath(0) err = %v, want ErrInvalidState", err)
	}
}

func TestRoleSet_IgnoresInvalidRoles(t *testing.T) {
	s := Roles(model.Role(0), model.Role(42), model.RolePatient)
	if !s.Contains(model.RolePatient) {
		t.Error("expected patient in set")
	}
	if s.Contains(model.Role(0)) {
		t.Error("zero role must never be contained")
	}
}

func TestOutcome_String(t *testing.T) {
	if Allow.String() != "allow" || RedirectToLogin.String() != "redirect_login" || RedirectToOwnDashboard.String() != "redirect_dashboard" {
		t.Error("unexpected Outcome string")
	}
}
