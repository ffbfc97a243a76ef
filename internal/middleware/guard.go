package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/access"
	"github.com/hitoshi/carelink/internal/model"
)

// GuardRecorder はアクセス判定の結果を記録する。
type GuardRecorder interface {
	RecordGuardDecision(outcome string)
}

// Guard はロールに基づいてページ・APIへのアクセスを制御する。
type Guard struct {
	recorder GuardRecorder
	logger   *slog.Logger
}

// NewGuard はGuardを生成する。recorderはnilでもよい。
func NewGuard(recorder GuardRecorder, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{recorder: recorder, logger: logger}
}

// RequirePage はページ用のガード。
// 許可されない場合は302でログイン画面または自身のダッシュボードへリダイレクトする。
func (g *Guard) RequirePage(required access.RoleSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.decide(r, required)
			if decision.Outcome != access.Allow {
				http.Redirect(w, r, decision.Target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPI はAPI用のガード。
// 未認証は401、ロール不一致は403を統一エラーフォーマットで返し、redirectに遷移先を含める。
func (g *Guard) RequireAPI(required access.RoleSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.decide(r, required)
			switch decision.Outcome {
			case access.Allow:
				next.ServeHTTP(w, r)
			case access.RedirectToOwnDashboard:
				WriteRedirectErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(), decision.Target)
			default:
				WriteRedirectErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(), decision.Target)
			}
		})
	}
}

// decide は現在のセッションに対する判定を行い、結果を記録する。
// ストアが見つからない場合や不変条件違反はログに残し、ログイン画面へ誘導する。
func (g *Guard) decide(r *http.Request, required access.RoleSet) access.Decision {
	store, err := StoreFromContext(r.Context())
	if err != nil {
		g.logger.Error("access guard without client session",
			slog.String("path", r.URL.Path),
		)
		g.record(access.RedirectToLogin)
		return access.Decision{Outcome: access.RedirectToLogin, Target: access.LoginPath}
	}

	decision, err := access.Decide(required, store.Current())
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, model.ErrInvalidState) {
			level = slog.LevelError
		}
		g.logger.Log(r.Context(), level, "access guard rejected malformed session",
			slog.String("client_id", store.ClientID()),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	g.record(decision.Outcome)
	return decision
}

func (g *Guard) record(outcome access.Outcome) {
	if g.recorder != nil {
		g.recorder.RecordGuardDecision(outcome.String())
	}
}
