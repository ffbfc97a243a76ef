// Package backend は病院ポータルのREST APIを呼び出すクライアントを提供する。
// 認証以外の全てのリクエストに Authorization: Bearer <token> を付与する。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/carelink/internal/model"
)

const (
	// maxResponseSize はレスポンスボディの最大サイズ（1MB）。
	maxResponseSize = 1 << 20
	userAgent       = "carelink/1.0"
)

// ErrNotFound はバックエンドが404を返したことを表す。
var ErrNotFound = errors.New("backend resource not found")

// StatusRecorder はバックエンドの応答ステータスを記録する。
type StatusRecorder interface {
	ObserveBackendResponse(operation string, status int, d time.Duration)
}

// Client はバックエンドREST APIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
	recorder   StatusRecorder
}

// NewClient はClientを生成する。
// limiterがnilの場合は送信レートを制限しない。タイムアウトはhttpClient側で設定する。
func NewClient(httpClient *http.Client, baseURL string, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
		logger:     logger,
	}
}

// SetRecorder は応答ステータスの記録先を設定する。
func (c *Client) SetRecorder(r StatusRecorder) {
	c.recorder = r
}

// LoginResult はログイン成功時の応答。
type LoginResult struct {
	User  model.Identity `json:"user"`
	Token string         `json:"token"`
}

// Login は資格情報を送信し、識別情報とトークンを受け取る。
// 資格情報が拒否された場合（400/401）はErrAuthenticationFailureを返す。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}

	var result LoginResult
	status, err := c.do(ctx, "login", http.MethodPost, "/auth/login", "", nil, body, &result)
	if status == http.StatusUnauthorized || status == http.StatusBadRequest {
		return nil, model.ErrAuthenticationFailure
	}
	if err != nil {
		return nil, err
	}

	if result.Token == "" {
		return nil, fmt.Errorf("%w: login response has no token", model.ErrBackendUnavailable)
	}
	if err := result.User.Validate(); err != nil {
		return nil, fmt.Errorf("%w: login response has invalid user: %v", model.ErrBackendUnavailable, err)
	}
	return &result, nil
}

// ListProfessionals は医療従事者の一覧を取得する。
func (c *Client) ListProfessionals(ctx context.Context, token string) ([]model.Professional, error) {
	pros := []model.Professional{}
	if _, err := c.do(ctx, "list_professionals", http.MethodGet, "/professionals", token, nil, nil, &pros); err != nil {
		return nil, err
	}
	return pros, nil
}

// GetProfessional は医療従事者を1件取得する。
// 存在しない場合はPROFESSIONAL_NOT_FOUNDのAPIErrorを返す。
func (c *Client) GetProfessional(ctx context.Context, token, id string) (*model.Professional, error) {
	var pro model.Professional
	_, err := c.do(ctx, "get_professional", http.MethodGet, "/professionals/"+url.PathEscape(id), token, nil, nil, &pro)
	if errors.Is(err, ErrNotFound) {
		return nil, model.NewProfessionalNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return &pro, nil
}

// ListAppointments は条件に一致する予約を取得する。
func (c *Client) ListAppointments(ctx context.Context, token string, filter model.AppointmentFilter) ([]model.Appointment, error) {
	q := url.Values{}
	if filter.PatientID != "" {
		q.Set("patientId", filter.PatientID)
	}
	if filter.ProfessionalID != "" {
		q.Set("professionalId", filter.ProfessionalID)
	}
	if !filter.Date.IsZero() {
		q.Set("date", filter.Date.String())
	}

	appts := []model.Appointment{}
	if _, err := c.do(ctx, "list_appointments", http.MethodGet, "/appointments", token, q, nil, &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

// ListBookedTimes は医療従事者の指定日の予約済み時刻を取得する。キャンセル済みの予約は含めない。
func (c *Client) ListBookedTimes(ctx context.Context, token, professionalID string, date model.CalendarDate) ([]model.TimeOfDay, error) {
	appts, err := c.ListAppointments(ctx, token, model.AppointmentFilter{ProfessionalID: professionalID, Date: date})
	if err != nil {
		return nil, err
	}

	times := make([]model.TimeOfDay, 0, len(appts))
	for _, a := range appts {
		if a.Status == model.AppointmentStatusCancelled || a.Date != date {
			continue
		}
		times = append(times, a.Time)
	}
	return times, nil
}

// CreateAppointment は予約を作成する。
func (c *Client) CreateAppointment(ctx context.Context, token string, a model.Appointment) (*model.Appointment, error) {
	var created model.Appointment
	if _, err := c.do(ctx, "create_appointment", http.MethodPost, "/appointments", token, nil, a, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListMedicalRecords は患者の診療記録を取得する。
func (c *Client) ListMedicalRecords(ctx context.Context, token, patientID string) ([]model.MedicalRecord, error) {
	q := url.Values{"patientId": {patientID}}

	records := []model.MedicalRecord{}
	if _, err := c.do(ctx, "list_medical_records", http.MethodGet, "/medical-records", token, q, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListConsents は利用者のプライバシー同意の一覧を取得する。
func (c *Client) ListConsents(ctx context.Context, token, userID string) ([]model.Consent, error) {
	q := url.Values{"userId": {userID}}

	consents := []model.Consent{}
	if _, err := c.do(ctx, "list_consents", http.MethodGet, "/consents", token, q, nil, &consents); err != nil {
		return nil, err
	}
	return consents, nil
}

// UpdateConsent は同意状態を更新する。存在しない場合はCONSENT_NOT_FOUNDのAPIErrorを返す。
func (c *Client) UpdateConsent(ctx context.Context, token, id string, granted bool) (*model.Consent, error) {
	body := map[string]bool{"granted": granted}

	var consent model.Consent
	_, err := c.do(ctx, "update_consent", http.MethodPatch, "/consents/"+url.PathEscape(id), token, nil, body, &consent)
	if errors.Is(err, ErrNotFound) {
		return nil, model.NewConsentNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// do はリクエストを送信し、2xxの場合はoutにJSONをデコードする。
// 戻り値のステータスは応答を受け取れなかった場合0になる。
func (c *Client) do(ctx context.Context, operation, method, path, token string, query url.Values, in, out any) (int, error) {
	// 1. 送信レート制限
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("backend rate limiter: %w", err)
	}

	// 2. リクエスト構築
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// 3. 送信
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("backend request %s aborted: %w", operation, ctx.Err())
		}
		c.logger.Error("バックエンドAPIの呼び出しに失敗しました",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		c.observe(operation, 0, start)
		return 0, fmt.Errorf("%w: %s: %v", model.ErrBackendUnavailable, operation, err)
	}
	defer resp.Body.Close()
	c.observe(operation, resp.StatusCode, start)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: failed to read response: %v", model.ErrBackendUnavailable, err)
	}

	// 4. ステータス判定
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return resp.StatusCode, nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			c.logger.Error("バックエンドAPIのレスポンスのパースに失敗しました",
				slog.String("operation", operation),
				slog.String("error", err.Error()),
			)
			return resp.StatusCode, fmt.Errorf("%w: failed to decode %s response: %v", model.ErrBackendUnavailable, operation, err)
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, model.ErrSessionInvalid
	case resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, model.NewForbiddenError()
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return resp.StatusCode, model.NewInvalidRequestError(errorMessage(raw))
	default:
		c.logger.Error("バックエンドAPIがエラーステータスを返しました",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		return resp.StatusCode, fmt.Errorf("%w: %s returned status %d", model.ErrBackendUnavailable, operation, resp.StatusCode)
	}
}

func (c *Client) observe(operation string, status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.ObserveBackendResponse(operation, status, time.Since(start))
	}
}

// errorMessage はエラーレスポンスの {"message": "..."} を取り出す。
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return "バックエンドが要求を拒否しました"
}
