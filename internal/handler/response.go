// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/access"
	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/session"
)

// maxRequestBodySize はJSONリクエストボディの最大サイズ（64KB）。
const maxRequestBodySize = 64 << 10

// SessionInvalidator はバックエンドが401を返したときにセッションを解除する。
type SessionInvalidator interface {
	InvalidateSession(ctx context.Context, store auth.SessionStore)
}

// errorResponder はサービス層のエラーを統一エラーレスポンスに変換する。
// 全ハンドラーが共有する。
type errorResponder struct {
	invalidator SessionInvalidator
	logger      *slog.Logger
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// バックエンドがセッションを無効と判断した場合は、このクライアントのセッションを解除して
// ログイン画面への遷移を指示する。
func (er errorResponder) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrSessionInvalid):
		if store, storeErr := middleware.StoreFromContext(r.Context()); storeErr == nil && er.invalidator != nil {
			// 応答を返した後もセッション解除は完了させる
			er.invalidator.InvalidateSession(context.WithoutCancel(r.Context()), store)
		}
		middleware.WriteRedirectErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError(), access.LoginPath)
		return

	case errors.Is(err, context.Canceled):
		// クライアントが切断済みのため応答は届かない
		er.logger.Info("request abandoned by client",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		return

	case errors.Is(err, model.ErrAuthenticationFailure):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationFailedError())
		return

	case errors.Is(err, model.ErrPersistence):
		er.logger.Error("session storage failure", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSessionStorageError())
		return

	case errors.Is(err, model.ErrBackendUnavailable), errors.Is(err, context.DeadlineExceeded):
		er.logger.Warn("backend unavailable",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnavailableError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		redirect := ""
		if apiErr.Code == model.ErrCodeUnauthorized || apiErr.Code == model.ErrCodeSessionExpired {
			redirect = access.LoginPath
		}
		middleware.WriteRedirectErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr, redirect)
		return
	}

	// 分類できないエラーは内部サーバーエラーとして扱う
	er.logger.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeAuthenticationFailed, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidDate:
		return http.StatusBadRequest
	case model.ErrCodeProfessionalNotFound, model.ErrCodeConsentNotFound:
		return http.StatusNotFound
	case model.ErrCodeSlotUnavailable:
		return http.StatusConflict
	case model.ErrCodeBackendUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeSessionStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
// エンコードに失敗した場合はステータスを書き込む前に500を返す。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(body, '\n'))
}

// decodeJSON はリクエストボディをJSONとしてデコードする。未知のフィールドは拒否する。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidRequestError("JSONの形式が正しくありません")
	}
	return nil
}

// authenticated はガード通過後のリクエストからストアと認証済みセッションを取り出す。
// ガードの外で呼ばれた場合はErrInvalidStateを返す。
func authenticated(r *http.Request) (*session.Store, model.Session, error) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		return nil, model.Session{}, fmt.Errorf("%w: %v", model.ErrInvalidState, err)
	}
	current := store.Current()
	if !current.Authenticated() {
		return nil, model.Session{}, model.NewUnauthorizedError()
	}
	return store, current, nil
}
