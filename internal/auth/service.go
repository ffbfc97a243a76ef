// Package auth はログイン、ログアウト、セッション無効化を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/carelink/internal/backend"
	"github.com/hitoshi/carelink/internal/model"
)

// Authenticator はバックエンドの認証APIのインターフェース。
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
}

// SessionStore はクライアント1件分のセッションストアのインターフェース。
type SessionStore interface {
	Current() model.Session
	Establish(ctx context.Context, identity model.Identity, token string) error
	Clear(ctx context.Context) error
}

// Recorder はログイン結果を記録する。
type Recorder interface {
	RecordLogin(result string)
}

// ログイン結果のラベル。
const (
	LoginSuccess      = "success"
	LoginRejected     = "rejected"
	LoginInvalid      = "invalid_request"
	LoginAbandoned    = "abandoned"
	LoginPersistError = "persistence_error"
	LoginBackendError = "backend_error"
)

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	authenticator Authenticator
	recorder      Recorder
	logger        *slog.Logger
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(authenticator Authenticator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		authenticator: authenticator,
		recorder:      recorder,
		logger:        logger,
	}
}

// Login は資格情報をバックエンドで検証し、成功した場合にセッションを確立する。
// 認証に失敗した場合は既存のセッションに一切触れない。
// 応答を待つ間にctxがキャンセルされた場合（リクエストが放棄された場合）は結果を適用しない。
func (s *Service) Login(ctx context.Context, store SessionStore, email, password string) (*model.Identity, error) {
	// 1. 入力検証
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.record(LoginInvalid)
		return nil, model.NewInvalidRequestError("メールアドレスとパスワードは必須です")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		s.record(LoginInvalid)
		return nil, model.NewInvalidRequestError("メールアドレスの形式が正しくありません")
	}

	// 2. バックエンドで認証
	result, err := s.authenticator.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, model.ErrAuthenticationFailure) {
			s.record(LoginRejected)
			s.logger.Info("login rejected", slog.String("email", maskEmail(email)))
			return nil, err
		}
		s.record(LoginBackendError)
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	// 3. 放棄されたリクエストの応答は適用しない
	if err := ctx.Err(); err != nil {
		s.record(LoginAbandoned)
		return nil, fmt.Errorf("login abandoned: %w", err)
	}

	// 4. セッションを確立
	if err := store.Establish(ctx, result.User, result.Token); err != nil {
		s.record(LoginPersistError)
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	s.record(LoginSuccess)
	s.logger.Info("user logged in",
		slog.String("user_id", result.User.ID),
		slog.String("role", result.User.Role.String()),
	)

	identity := result.User
	return &identity, nil
}

// Logout はセッションを解除する。未ログインの場合も成功する。
func (s *Service) Logout(ctx context.Context, store SessionStore) error {
	userID := ""
	if cur := store.Current(); cur.Identity != nil {
		userID = cur.Identity.ID
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	if userID != "" {
		s.logger.Info("user logged out", slog.String("user_id", userID))
	}
	return nil
}

// InvalidateSession はバックエンドが401を返した場合にセッションを解除する。
// 永続化エントリの削除に失敗してもメモリ上のセッションは解除されるため、エラーはログのみとする。
func (s *Service) InvalidateSession(ctx context.Context, store SessionStore) {
	userID := ""
	if cur := store.Current(); cur.Identity != nil {
		userID = cur.Identity.ID
	}

	if err := store.Clear(ctx); err != nil {
		s.logger.Error("failed to clear invalidated session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Warn("session invalidated by backend", slog.String("user_id", userID))
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(result)
	}
}

// maskEmail はログ出力用にメールアドレスのローカル部を伏せる。
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
