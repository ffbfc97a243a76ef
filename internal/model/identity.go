package model

import "fmt"

// Identity は認証済み利用者の識別情報を表す。
// 認証成功時に生成され、ログアウトまたはバックエンドからの401受信時に破棄される。
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
}

// Validate はIdentityが必須項目を満たしているかを検証する。
func (i *Identity) Validate() error {
	if i == nil {
		return fmt.Errorf("identity is nil")
	}
	if i.ID == "" {
		return fmt.Errorf("identity id is empty")
	}
	if !i.Role.Valid() {
		return fmt.Errorf("identity %s has invalid role", i.ID)
	}
	return nil
}

// Session は識別情報とベアラートークンの組を表す。
// IdentityとTokenは両方揃っているか、両方とも空であるかのどちらかでなければならない。
type Session struct {
	Identity *Identity
	Token    string
}

// Authenticated はセッションが認証済みかどうかを返す。
func (s Session) Authenticated() bool {
	return s.Identity != nil && s.Token != ""
}

// Validate はセッションの不変条件（両方揃っているか両方空か）を検証する。
// 片方だけが設定されている場合はErrInvalidStateを返す。
func (s Session) Validate() error {
	hasIdentity := s.Identity != nil
	hasToken := s.Token != ""
	if hasIdentity != hasToken {
		return fmt.Errorf("%w: identity present=%t, token present=%t", ErrInvalidState, hasIdentity, hasToken)
	}
	if hasIdentity {
		if err := s.Identity.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	return nil
}
