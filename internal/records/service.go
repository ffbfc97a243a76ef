// Package records は診療記録の参照を提供する。
package records

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/security"
)

// Backend は診療記録APIのインターフェース。
type Backend interface {
	ListMedicalRecords(ctx context.Context, token, patientID string) ([]model.MedicalRecord, error)
}

// Service は診療記録のサービス層。
type Service struct {
	backend   Backend
	sanitizer security.Sanitizer
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(backend Backend, sanitizer security.Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, sanitizer: sanitizer, logger: logger}
}

// List は患者の診療記録を新しい順に返す。所見はサニタイズ済みHTMLとなる。
// 患者は自身の記録のみ参照でき、医療従事者と管理者は全ての患者の記録を参照できる。
func (s *Service) List(ctx context.Context, token string, viewer model.Identity, patientID string) ([]model.MedicalRecord, error) {
	if patientID == "" {
		return nil, model.NewInvalidRequestError("patientId は必須です")
	}
	if viewer.Role == model.RolePatient && viewer.ID != patientID {
		s.logger.Warn("patient attempted to read another patient's records",
			slog.String("user_id", viewer.ID),
			slog.String("patient_id", patientID),
		)
		return nil, model.NewForbiddenError()
	}

	recs, err := s.backend.ListMedicalRecords(ctx, token, patientID)
	if err != nil {
		return nil, fmt.Errorf("診療記録の取得に失敗しました: %w", err)
	}

	result := make([]model.MedicalRecord, 0, len(recs))
	for _, r := range recs {
		// バックエンドが他の患者の記録を返した場合は除外する
		if r.PatientID != "" && r.PatientID != patientID {
			continue
		}
		r.Notes = s.sanitizer.Sanitize(r.Notes)
		result = append(result, r)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[j].Date.Before(result[i].Date)
	})
	return result, nil
}
