// Package access はロールに基づくページ・APIへのアクセス判定を提供する。
package access

import (
	"fmt"

	"github.com/hitoshi/carelink/internal/model"
)

// LoginPath はログイン画面のパス。
const LoginPath = "/login"

// Outcome はアクセス判定の結果。
type Outcome uint8

const (
	// Allow はアクセスを許可する。
	Allow Outcome = iota
	// RedirectToLogin は未認証のためログイン画面へ誘導する。
	RedirectToLogin
	// RedirectToOwnDashboard はロールが要件を満たさないため自身のダッシュボードへ誘導する。
	RedirectToOwnDashboard
)

// String はOutcomeの文字列表現を返す。メトリクスのラベルに使用する。
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToOwnDashboard:
		return "redirect_dashboard"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Decision はアクセス判定の結果と、リダイレクト時の遷移先。
// Allowの場合Targetは空文字列。
type Decision struct {
	Outcome Outcome
	Target  string
}

// RoleSet はアクセスに必要なロールの集合。
type RoleSet uint8

// Roles はロールの集合を生成する。
func Roles(roles ...model.Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		if r.Valid() {
			s |= 1 << r
		}
	}
	return s
}

// AnyRole は全ロールを含む集合を返す。
func AnyRole() RoleSet {
	return Roles(model.AllRoles()...)
}

// Contains はロールが集合に含まれるかを返す。
func (s RoleSet) Contains(r model.Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

// Decide は必要なロールの集合とセッションからアクセス可否を判定する。
// 副作用を持たず、同じ入力に対して常に同じ結果を返す。
//
// 識別情報とトークンの片方のみが存在するなど不正なセッションの場合は
// ErrInvalidStateを返し、判定はRedirectToLoginとする（フェイルクローズ）。
func Decide(required RoleSet, s model.Session) (Decision, error) {
	if err := s.Validate(); err != nil {
		return Decision{Outcome: RedirectToLogin, Target: LoginPath}, err
	}

	if s.Identity == nil {
		return Decision{Outcome: RedirectToLogin, Target: LoginPath}, nil
	}

	if !required.Contains(s.Identity.Role) {
		target, err := DashboardPath(s.Identity.Role)
		if err != nil {
			return Decision{Outcome: RedirectToLogin, Target: LoginPath}, err
		}
		return Decision{Outcome: RedirectToOwnDashboard, Target: target}, nil
	}

	return Decision{Outcome: Allow}, nil
}

// DashboardPath はロールごとのダッシュボードのパスを返す。
func DashboardPath(r model.Role) (string, error) {
	switch r {
	case model.RolePatient:
		return "/patient/dashboard", nil
	case model.RoleProfessional:
		return "/professional/dashboard", nil
	case model.RoleAdmin:
		return "/admin/dashboard", nil
	default:
		return "", fmt.Errorf("%w: no dashboard for role %d", model.ErrInvalidState, uint8(r))
	}
}
