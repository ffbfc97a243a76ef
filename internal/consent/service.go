// Package consent はプライバシー同意の参照と更新を提供する。
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/carelink/internal/model"
)

// Backend は同意APIのインターフェース。
type Backend interface {
	ListConsents(ctx context.Context, token, userID string) ([]model.Consent, error)
	UpdateConsent(ctx context.Context, token, id string, granted bool) (*model.Consent, error)
}

// Service はプライバシー同意のサービス層。
type Service struct {
	backend Backend
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(backend Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, logger: logger}
}

// List は利用者自身の同意一覧を目的の昇順で返す。
func (s *Service) List(ctx context.Context, token string, user model.Identity) ([]model.Consent, error) {
	consents, err := s.backend.ListConsents(ctx, token, user.ID)
	if err != nil {
		return nil, fmt.Errorf("同意一覧の取得に失敗しました: %w", err)
	}

	own := make([]model.Consent, 0, len(consents))
	for _, c := range consents {
		if c.UserID == user.ID {
			own = append(own, c)
		}
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Purpose < own[j].Purpose })
	return own, nil
}

// Update は利用者自身の同意状態を更新する。
// 他の利用者の同意や存在しない同意を指定した場合はCONSENT_NOT_FOUNDを返す。
func (s *Service) Update(ctx context.Context, token string, user model.Identity, consentID string, granted bool) (*model.Consent, error) {
	consents, err := s.List(ctx, token, user)
	if err != nil {
		return nil, err
	}

	var current *model.Consent
	for i := range consents {
		if consents[i].ID == consentID {
			current = &consents[i]
			break
		}
	}
	if current == nil {
		return nil, model.NewConsentNotFoundError(consentID)
	}
	if current.Granted == granted {
		return current, nil
	}

	updated, err := s.backend.UpdateConsent(ctx, token, consentID, granted)
	if err != nil {
		return nil, fmt.Errorf("同意状態の更新に失敗しました: %w", err)
	}

	s.logger.Info("consent updated",
		slog.String("user_id", user.ID),
		slog.String("consent_id", consentID),
		slog.String("purpose", updated.Purpose),
		slog.Bool("granted", updated.Granted),
	)
	return updated, nil
}
