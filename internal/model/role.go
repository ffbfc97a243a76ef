// Package model はドメインモデルを定義する。
package model

import "fmt"

// Role は利用者の役割を表す閉じた列挙型。
// ゼロ値は無効な役割として扱う。
type Role uint8

const (
	// RolePatient は患者。
	RolePatient Role = iota + 1
	// RoleProfessional は医療従事者。
	RoleProfessional
	// RoleAdmin は管理者。
	RoleAdmin
)

// AllRoles は定義済みの全ロールを返す。
func AllRoles() []Role {
	return []Role{RolePatient, RoleProfessional, RoleAdmin}
}

// ParseRole は文字列表現からRoleを解析する。
// 未知の値の場合はエラーを返す。
func ParseRole(s string) (Role, error) {
	switch s {
	case "patient":
		return RolePatient, nil
	case "professional":
		return RoleProfessional, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role: %q", s)
	}
}

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProfessional, RoleAdmin:
		return true
	default:
		return false
	}
}

// String はRoleの文字列表現を返す。
func (r Role) String() string {
	switch r {
	case RolePatient:
		return "patient"
	case RoleProfessional:
		return "professional"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MarshalText はencoding.TextMarshalerを実装する。
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText はencoding.TextUnmarshalerを実装する。
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
