package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/access"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Sessions          middleware.StoreOpener
	ClientSession     middleware.ClientSessionConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	GuardRecorder     middleware.GuardRecorder
	StatusRecorder    middleware.HTTPStatusRecorder

	// サービス
	AuthService     AuthServiceInterface
	ScheduleService interface {
		ScheduleServiceInterface
		UpcomingLister
	}
	RecordsService RecordsServiceInterface
	ConsentService ConsentServiceInterface
	Bulletin       BulletinReader

	// 運用エンドポイント
	Health  http.Handler
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → ClientSession → RateLimit(General) → CSRF
//
// /health と /metrics はクライアントセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))

	// --- 運用エンドポイント ---
	if deps.Health != nil {
		r.Method(http.MethodGet, "/health", deps.Health)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	guard := middleware.NewGuard(deps.GuardRecorder, logger)
	authHandler := NewAuthHandler(deps.AuthService, logger)
	dashboardHandler := NewDashboardHandler(deps.ScheduleService, deps.Bulletin, deps.AuthService, logger)
	scheduleHandler := NewScheduleHandler(deps.ScheduleService, deps.AuthService, logger)
	recordsHandler := NewRecordsHandler(deps.RecordsService, deps.AuthService, logger)
	consentHandler := NewConsentHandler(deps.ConsentService, deps.AuthService, logger)

	// --- クライアントセッションが必要なルート ---
	// ミドルウェアスタック: ClientSession → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientSessionMiddleware(deps.Sessions, deps.ClientSession, logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF, logger))

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF, logger).ServeHTTP)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/session", authHandler.Session)
		})

		// ダッシュボード（ページガード: 302リダイレクト）
		r.Get("/dashboard", dashboardHandler.Entry)
		for _, role := range model.AllRoles() {
			path, err := access.DashboardPath(role)
			if err != nil {
				continue
			}
			r.With(guard.RequirePage(access.Roles(role))).Get(path, dashboardHandler.Show)
		}

		// API（APIガード: 401/403 + redirect）
		r.Route("/api", func(r chi.Router) {
			r.Use(guard.RequireAPI(access.AnyRole()))

			r.Get("/professionals", scheduleHandler.ListProfessionals)
			r.Get("/professionals/{id}/slots", scheduleHandler.Slots)

			r.Get("/appointments", scheduleHandler.ListAppointments)
			r.With(guard.RequireAPI(access.Roles(model.RolePatient))).Post("/appointments", scheduleHandler.Book)

			r.Get("/patients/{id}/records", recordsHandler.List)

			r.Get("/consents", consentHandler.List)
			r.Put("/consents/{id}", consentHandler.Update)
		})
	})

	return r
}
