// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 分類済みのセンチネルエラー。errors.Isで判定する。
var (
	// ErrPersistence はローカル永続化ストレージの読み書き失敗を表す。
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidConfiguration は勤務時間帯などの設定不備を表す。
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrAuthenticationFailure はバックエンドが資格情報を拒否したことを表す。
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrInvalidState は内部不変条件の違反を表す（プログラミングエラー）。
	ErrInvalidState = errors.New("invalid state")
	// ErrSessionInvalid はバックエンドが401を返し、セッションが無効になったことを表す。
	ErrSessionInvalid = errors.New("session invalid")
	// ErrBackendUnavailable はバックエンドへの通信失敗または5xx応答を表す。
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, schedule, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidDate          = "INVALID_DATE"
	ErrCodeProfessionalNotFound = "PROFESSIONAL_NOT_FOUND"
	ErrCodeSlotUnavailable      = "SLOT_UNAVAILABLE"
	ErrCodeConsentNotFound      = "CONSENT_NOT_FOUND"
	ErrCodeBackendUnavailable   = "BACKEND_UNAVAILABLE"
	ErrCodeSessionStorage       = "SESSION_STORAGE_FAILED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "ご自身のダッシュボードから操作してください。",
	}
}

// NewAuthenticationFailedError はログイン失敗エラーを生成する。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewSessionExpiredError はセッション失効エラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidDateError は日付形式エラーを生成する。
func NewInvalidDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", value),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewProfessionalNotFoundError は医療従事者未検出エラーを生成する。
func NewProfessionalNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProfessionalNotFound,
		Message:  fmt.Sprintf("指定された医療従事者が見つかりません: %s", id),
		Category: "schedule",
		Action:   "医療従事者の一覧から選択し直してください。",
	}
}

// NewSlotUnavailableError は予約枠が空いていない場合のエラーを生成する。
func NewSlotUnavailableError(date CalendarDate, t TimeOfDay) *APIError {
	return &APIError{
		Code:     ErrCodeSlotUnavailable,
		Message:  fmt.Sprintf("指定された予約枠は利用できません: %s %s", date, t),
		Category: "schedule",
		Action:   "空き枠の一覧を再読み込みして別の時間を選択してください。",
	}
}

// NewConsentNotFoundError は同意項目未検出エラーを生成する。
func NewConsentNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeConsentNotFound,
		Message:  fmt.Sprintf("指定された同意項目が見つかりません: %s", id),
		Category: "validation",
		Action:   "同意項目の一覧を再読み込みしてください。",
	}
}

// NewBackendUnavailableError はバックエンド通信失敗エラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "サーバーとの通信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSessionStorageError はセッション保存失敗エラーを生成する。
func NewSessionStorageError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionStorage,
		Message:  "ログイン状態を保存できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}
