package app

import (
	"context"
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

	"github.com/hitoshi/padelgate/internal/config"
	"github.com/hitoshi/padelgate/internal/database"
	"github.com/hitoshi/padelgate/internal/gate"
	"github.com/hitoshi/padelgate/internal/handler"
	"github.com/hitoshi/padelgate/internal/logger"
	"github.com/hitoshi/padelgate/internal/metrics"
	"github.com/hitoshi/padelgate/internal/middleware"
	"github.com/hitoshi/padelgate/internal/onboarding"
	"github.com/hitoshi/padelgate/internal/repository"
	"github.com/hitoshi/padelgate/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck と check-routes は軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandCheckRoutes:
		logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))
		return runCheckRoutes(os.Getenv("ROUTE_TABLE_FILE"))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("session_backend", cfg.SessionBackend),
		slog.String("cache_backend", cfg.CacheBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, ParseMigrateAction(rest))
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はゲートサーバーモードで起動する。
// ルートテーブルを検証し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ルートテーブル（不備があれば起動しない）
	table, err := loadRouteTable(cfg.RouteTableFile)
	if err != nil {
		return fmt.Errorf("failed to load route table: %w", err)
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("failed to parse upstream url: %w", err)
	}

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. リポジトリとメトリクス
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. セッション解決とオンボーディング判定
	sessions, err := buildSessionResolver(cfg, sessionRepo)
	if err != nil {
		return err
	}

	cache, closeCache, err := buildStatusCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	resolver := onboarding.NewResolver(profileRepo, table.ProfileKinds, cache, collector)

	if cfg.CacheBackend != config.CacheBackendNone {
		listener := onboarding.NewListener(cfg.DatabaseURL, cfg.ProfileEventsChannel, resolver, collector)
		go listener.Supervise(ctx)
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.WebhookRateLimit))
	defer rateLimiter.Stop()

	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET is not set; /internal/profile-events will reject all requests")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		HealthChecker:   db,
		MetricsHandler:  metrics.Handler(registry),
		ProfileEvents:   resolver,
		WebhookSecret:   cfg.WebhookSecret,
		RateLimiter:     rateLimiter,
		SecurityHeaders: middleware.SecurityHeadersConfig{HSTS: cfg.CookieSecure},
		Table:           table,
		Gate:            gate.New(table, sessions, resolver, collector),
		Upstream:        handler.NewUpstreamProxy(upstream),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gate server starting",
			slog.String("addr", server.Addr),
			slog.String("upstream", upstream.Redacted()),
			slog.Int("routes", len(table.Routes)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down gate server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("gate server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを日次で実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	if cfg.SessionBackend != config.SessionBackendDatabase {
		slog.Info("session backend is not database; cleanup will find nothing to delete",
			slog.String("session_backend", cfg.SessionBackend),
		)
	}

	job := cleanup.NewCleanupJob(db, slog.Default(), cfg.SessionRetentionDays)

	slog.Info("worker starting", slog.Int("retention_days", job.RetentionDays))
	job.Start(ctx, 24*time.Hour)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", action.Name),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action.Name {
	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL, action.Steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", action.Steps))
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}

	return nil
}

// runCheckRoutes はルートテーブルを読み込んで検証結果を出力する。
// デプロイ前に設定ファイルを確認するためのサブコマンド。
func runCheckRoutes(file string) error {
	table, err := loadRouteTable(file)
	if err != nil {
		return fmt.Errorf("route table is invalid: %w", err)
	}

	source := file
	if source == "" {
		source = "embedded default"
	}
	for _, e := range table.Entries() {
		slog.Info("route", slog.String("prefix", e.Prefix), slog.String("category", string(e.Category)))
	}
	slog.Info("route table is valid",
		slog.String("source", source),
		slog.Int("routes", len(table.Routes)),
		slog.Int("profile_kinds", len(table.ProfileKinds)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
