package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/backend"
	"github.com/hitoshi/carelink/internal/bulletin"
	"github.com/hitoshi/carelink/internal/config"
	"github.com/hitoshi/carelink/internal/consent"
	"github.com/hitoshi/carelink/internal/database"
	"github.com/hitoshi/carelink/internal/handler"
	"github.com/hitoshi/carelink/internal/logger"
	"github.com/hitoshi/carelink/internal/metrics"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/records"
	"github.com/hitoshi/carelink/internal/repository"
	"github.com/hitoshi/carelink/internal/schedule"
	"github.com/hitoshi/carelink/internal/security"
	"github.com/hitoshi/carelink/internal/session"
	"github.com/hitoshi/carelink/internal/worker/cleanup"
)

// dbPingTimeout は起動時のDB疎通確認の制限時間。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数（と.env）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_storage", cfg.SessionStorage),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, MigrateDirection(args))
	default:
		return runServe(ctx, cfg)
	}
}

// application はserveモードで組み立てた依存関係を保持する。
type application struct {
	handler     http.Handler
	db          *sql.DB
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンド処理と接続を解放する。
func (a *application) Close() error {
	a.rateLimiter.Stop()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// newApplication は設定から全依存関係をワイヤリングし、HTTPハンドラーを構築する。
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (*application, error) {
	// 1. メトリクス
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. セッション永続化ストレージ
	storage, db, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(storage, session.ManagerConfig{
		Namespace:   cfg.SessionNamespace,
		OnRecovered: collector.RecordRecoveredSession,
	}, log)
	manager.Observe(collector.SessionObserver())
	manager.Observe(sessionLogger(log))

	// 3. セキュリティ
	guard := security.NewLinkGuard(cfg.TelemedicineHosts)

	// 4. バックエンドAPIクライアント
	backendClient := backend.NewClient(
		&http.Client{Timeout: cfg.BackendTimeout},
		cfg.BackendBaseURL,
		rate.NewLimiter(rate.Limit(cfg.BackendRateLimit), cfg.BackendBurst),
		log,
	)
	backendClient.SetRecorder(collector)

	// 5. ドメインサービス
	authService := auth.NewService(backendClient, collector, log)
	scheduleService := schedule.NewService(backendClient, guard, collector, log)
	recordsService := records.NewService(backendClient, security.NewNotesSanitizer(), log)
	consentService := consent.NewService(backendClient, log)
	bulletinService := bulletin.NewService(bulletin.Config{
		FeedURL:    cfg.BulletinFeedURL,
		TTL:        cfg.BulletinTTL,
		MaxEntries: cfg.BulletinMaxEntries,
	}, guard.NewSafeClient(cfg.BulletinTimeout), guard, security.NewPlainTextSanitizer(), log)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), log)

	var checker handler.HealthChecker
	if db != nil {
		checker = db
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   log,
		Sessions: manager,
		ClientSession: middleware.ClientSessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		GuardRecorder:     collector,
		StatusRecorder:    collector,

		AuthService:     authService,
		ScheduleService: scheduleService,
		RecordsService:  recordsService,
		ConsentService:  consentService,
		Bulletin:        bulletinService,

		Health:  handler.NewHealthHandler(checker, log),
		Metrics: metrics.Handler(reg),
	})

	return &application{handler: router, db: db, rateLimiter: rateLimiter}, nil
}

// openStorage はSESSION_STORAGEに応じてセッション永続化ストレージを開く。
// メモリストレージの場合、返す*sql.DBはnilになる。
func openStorage(ctx context.Context, cfg *config.Config) (session.Storage, *sql.DB, error) {
	if !cfg.UsesDatabase() {
		slog.Warn("using in-memory session storage; sessions are lost on restart")
		return session.NewMemoryStorage(), nil, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPostgresStateRepo(db), db, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// rateLimiterConfig は設定値（req/min）をレートリミッターの設定（req/sec）に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlc := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlc.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlc.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rlc.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
		rlc.LoginBurst = cfg.RateLimitLogin
	}
	return rlc
}

// sessionLogger はセッションの遷移を記録するObserverを返す。
func sessionLogger(log *slog.Logger) session.Observer {
	return func(clientID string, s model.Session) {
		if s.Authenticated() {
			log.Info("session established",
				slog.String("client_id", clientID),
				slog.String("user_id", s.Identity.ID),
				slog.String("role", s.Identity.Role.String()),
			)
			return
		}
		log.Info("session cleared", slog.String("client_id", clientID))
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	app, err := newApplication(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// クライアント状態のクリーンアップをCLEANUP_SCHEDULEに従って実行する。
// WORKER_METRICS_PORTが設定されている場合は/metricsを公開する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if !cfg.UsesDatabase() {
		return fmt.Errorf("worker requires SESSION_STORAGE=%s", config.SessionStoragePostgres)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewCleanupJob(repository.NewPostgresStateRepo(db), slog.Default())
	job.RetentionDays = cfg.StateRetentionDays
	job.SetRecorder(collector)

	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("worker starting",
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
		slog.Int("retention_days", cfg.StateRetentionDays),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	if err := job.Start(ctx, cfg.CleanupSchedule); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// directionがMigrateDownの場合は直近の1つを戻し、それ以外は未適用分をすべて適用する。
func runMigrate(cfg *config.Config, direction string) error {
	if !cfg.UsesDatabase() {
		return fmt.Errorf("migrate requires SESSION_STORAGE=%s", config.SessionStoragePostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	var (
		version uint
		err     error
	)
	if direction == MigrateDown {
		version, err = database.RollbackMigration(cfg.DatabaseURL)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
