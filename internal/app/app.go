// Package app はアプリケーションの初期化・配線・起動を担当する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/calsync/internal/calendar"
	"github.com/hitoshi/calsync/internal/channel"
	"github.com/hitoshi/calsync/internal/config"
	"github.com/hitoshi/calsync/internal/database"
	"github.com/hitoshi/calsync/internal/handler"
	"github.com/hitoshi/calsync/internal/logger"
	"github.com/hitoshi/calsync/internal/metrics"
	"github.com/hitoshi/calsync/internal/middleware"
	"github.com/hitoshi/calsync/internal/notify"
	"github.com/hitoshi/calsync/internal/repository"
	syncpkg "github.com/hitoshi/calsync/internal/sync"
	"github.com/hitoshi/calsync/internal/worker/syncjob"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

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
		slog.String("calendar_id", cfg.CalendarID),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// wiring は同期に必要な依存一式。serveとworkerで共用する。
type wiring struct {
	coordinator *syncpkg.Coordinator
	chanManager *channel.Manager
	results     *notify.Store
	registry    *prometheus.Registry
	job         *syncjob.Job
}

// buildWiring は同期エンジン・コーディネーター・チャンネル管理の依存を組み立てる。
// ctxはwebhook契機のバックグラウンド同期の寿命を規定し、シャットダウン時に
// キャンセルされる。
func buildWiring(ctx context.Context, cfg *config.Config, db *sql.DB) *wiring {
	store := repository.NewTxSessionStore(db)
	channelRepo := repository.NewPostgresChannelRepo(db)

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	calClient := calendar.NewClient(httpClient, slog.Default(),
		cfg.CalendarAPIURL, cfg.CalendarID, cfg.APIRateLimit)

	engine := syncpkg.NewEngine(store, calClient, slog.Default(),
		cfg.SyncWindowPastDays, cfg.SyncWindowFutureDays, cfg.APIMaxRetries)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	results := notify.NewStore()
	notifier := notify.Multi{notify.NewLogNotifier(slog.Default()), results}

	coordinator := syncpkg.NewCoordinator(ctx, engine, slog.Default(), notifier, collector)

	chanManager := channel.NewManager(calClient, channelRepo, slog.Default(),
		cfg.WebhookBaseURL+"/webhook/calendar", cfg.WebhookSecretToken, cfg.ChannelTTL)

	job := syncjob.NewJob(coordinator, chanManager, slog.Default(),
		cfg.SyncInterval, cfg.ChannelRenewCheck)

	return &wiring{
		coordinator: coordinator,
		chanManager: chanManager,
		results:     results,
		registry:    registry,
		job:         job,
	}
}

// openDatabase はデータベース接続を開き、疎通確認を行う。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// HTTPサーバーに加え、定期同期とチャンネル更新のループも起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// バックグラウンドループと同期パスのライフサイクル
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := buildWiring(ctx, cfg, db)

	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.ManualSyncRate = rate.Limit(float64(cfg.RateLimitManualSync) / 60.0)
	rlCfg.ManualSyncBurst = cfg.RateLimitManualSync
	rateLimiter := middleware.NewRateLimiter(rlCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Sync:        w.coordinator,
		Results:     w.results,
		Verifier:    w.chanManager,
		DB:          db,
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),
		Gatherer:    w.registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 手動同期はパス完了まで待つ
		IdleTimeout:  60 * time.Second,
	}

	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		w.job.Run(ctx)
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	cancel()
	<-jobDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// HTTPサーバーを持たず、定期同期とチャンネル更新のループのみを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := buildWiring(ctx, cfg, db)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// ループをメインgoroutineで実行（ブロッキング）
	w.job.Run(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
