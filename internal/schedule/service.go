package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// Backend は予約機能が利用するバックエンドAPIのインターフェース。
type Backend interface {
	ListProfessionals(ctx context.Context, token string) ([]model.Professional, error)
	GetProfessional(ctx context.Context, token, id string) (*model.Professional, error)
	ListBookedTimes(ctx context.Context, token, professionalID string, date model.CalendarDate) ([]model.TimeOfDay, error)
	ListAppointments(ctx context.Context, token string, filter model.AppointmentFilter) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, token string, a model.Appointment) (*model.Appointment, error)
}

// MeetingLinkValidator はオンライン診療の会議URLを検証する。
type MeetingLinkValidator interface {
	ValidateMeetingURL(rawURL string) error
}

// Recorder は予約枠算出のメトリクスを記録する。
type Recorder interface {
	ObserveSlotComputation(d time.Duration, result string)
}

// Service は予約枠の算出と予約のサービス層。
type Service struct {
	backend  Backend
	links    MeetingLinkValidator
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。linksとrecorderはnilでもよい。
func NewService(backend Backend, links MeetingLinkValidator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  backend,
		links:    links,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// ListProfessionals は医療従事者の一覧を返す。
func (s *Service) ListProfessionals(ctx context.Context, token string) ([]model.Professional, error) {
	pros, err := s.backend.ListProfessionals(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("医療従事者一覧の取得に失敗しました: %w", err)
	}
	return pros, nil
}

// AvailableSlots は医療従事者の指定日の予約可能枠を返す。
// 勤務時間帯の設定が不正な場合はログに記録し、空の結果を返す。
func (s *Service) AvailableSlots(ctx context.Context, token, professionalID string, date model.CalendarDate) ([]model.TimeOfDay, error) {
	start := time.Now()

	pro, err := s.backend.GetProfessional(ctx, token, professionalID)
	if err != nil {
		return nil, fmt.Errorf("医療従事者の取得に失敗しました: %w", err)
	}

	booked, err := s.backend.ListBookedTimes(ctx, token, professionalID, date)
	if err != nil {
		return nil, fmt.Errorf("予約済み時刻の取得に失敗しました: %w", err)
	}

	slots, err := ComputeSlots(pro.Availability, date, BookedSet(booked))
	if errors.Is(err, model.ErrInvalidConfiguration) {
		s.logger.Warn("勤務時間帯の設定が不正なため予約枠なしとして扱います",
			slog.String("professional_id", professionalID),
			slog.String("date", date.String()),
			slog.String("error", err.Error()),
		)
		s.observe(start, "invalid_configuration")
		return []model.TimeOfDay{}, nil
	}
	if err != nil {
		return nil, err
	}

	s.observe(start, "ok")
	return slots, nil
}

// Book は患者の予約を作成する。
// 作成直前に予約枠が空いていることを再確認し、埋まっている場合はSLOT_UNAVAILABLEを返す。
func (s *Service) Book(ctx context.Context, token string, patient model.Identity, req model.BookingRequest) (*model.Appointment, error) {
	if req.ProfessionalID == "" {
		return nil, model.NewInvalidRequestError("professionalId は必須です")
	}
	if req.Date.IsZero() {
		return nil, model.NewInvalidRequestError("date は必須です")
	}
	if req.Date.Before(model.DateOf(s.now())) {
		return nil, model.NewInvalidDateError(req.Date.String())
	}

	slots, err := s.AvailableSlots(ctx, token, req.ProfessionalID, req.Date)
	if err != nil {
		return nil, err
	}
	if !containsTime(slots, req.Time) {
		return nil, model.NewSlotUnavailableError(req.Date, req.Time)
	}

	created, err := s.backend.CreateAppointment(ctx, token, model.Appointment{
		PatientID:      patient.ID,
		ProfessionalID: req.ProfessionalID,
		Date:           req.Date,
		Time:           req.Time,
		Reason:         req.Reason,
		Status:         model.AppointmentStatusScheduled,
		Telemedicine:   req.Telemedicine,
	})
	if err != nil {
		return nil, fmt.Errorf("予約の作成に失敗しました: %w", err)
	}

	s.logger.Info("予約を作成しました",
		slog.String("appointment_id", created.ID),
		slog.String("professional_id", created.ProfessionalID),
		slog.String("date", created.Date.String()),
		slog.String("time", created.Time.String()),
	)

	s.scrubMeetingURL(created)
	return created, nil
}

// Appointments は利用者のロールに応じた予約一覧を日時の昇順で返す。
// 患者は自身の予約、医療従事者は担当する予約、管理者は全ての予約を参照できる。
func (s *Service) Appointments(ctx context.Context, token string, identity model.Identity) ([]model.Appointment, error) {
	var filter model.AppointmentFilter
	switch identity.Role {
	case model.RolePatient:
		filter.PatientID = identity.ID
	case model.RoleProfessional:
		filter.ProfessionalID = identity.ID
	case model.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role for appointments", model.ErrInvalidState)
	}

	appts, err := s.backend.ListAppointments(ctx, token, filter)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}

	for i := range appts {
		s.scrubMeetingURL(&appts[i])
	}
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date.Before(appts[j].Date)
		}
		return appts[i].Time < appts[j].Time
	})
	return appts, nil
}

// Upcoming は本日以降の予約済み（scheduled）の予約を最大limit件返す。limitが0以下の場合は全件。
func (s *Service) Upcoming(ctx context.Context, token string, identity model.Identity, limit int) ([]model.Appointment, error) {
	appts, err := s.Appointments(ctx, token, identity)
	if err != nil {
		return nil, err
	}

	today := model.DateOf(s.now())
	upcoming := []model.Appointment{}
	for _, a := range appts {
		if a.Status != model.AppointmentStatusScheduled || a.Date.Before(today) {
			continue
		}
		upcoming = append(upcoming, a)
		if limit > 0 && len(upcoming) == limit {
			break
		}
	}
	return upcoming, nil
}

// scrubMeetingURL は検証に失敗した会議URLを応答から取り除く。
func (s *Service) scrubMeetingURL(a *model.Appointment) {
	if a.MeetingURL == "" {
		return
	}
	if !a.Telemedicine {
		a.MeetingURL = ""
		return
	}
	if s.links == nil {
		return
	}
	if err := s.links.ValidateMeetingURL(a.MeetingURL); err != nil {
		s.logger.Warn("会議URLが検証に失敗したため除外しました",
			slog.String("appointment_id", a.ID),
			slog.String("error", err.Error()),
		)
		a.MeetingURL = ""
	}
}

func (s *Service) observe(start time.Time, result string) {
	if s.recorder != nil {
		s.recorder.ObserveSlotComputation(time.Since(start), result)
	}
}

func containsTime(slots []model.TimeOfDay, t model.TimeOfDay) bool {
	for _, s := range slots {
		if s == t {
			return true
		}
	}
	return false
}
