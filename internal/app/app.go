package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/aidaily/internal/analytics"
	"github.com/hitoshi/aidaily/internal/apiclient"
	"github.com/hitoshi/aidaily/internal/config"
	"github.com/hitoshi/aidaily/internal/database"
	"github.com/hitoshi/aidaily/internal/feed"
	"github.com/hitoshi/aidaily/internal/handler"
	"github.com/hitoshi/aidaily/internal/identity"
	"github.com/hitoshi/aidaily/internal/logger"
	"github.com/hitoshi/aidaily/internal/metrics"
	"github.com/hitoshi/aidaily/internal/middleware"
	"github.com/hitoshi/aidaily/internal/modal"
	"github.com/hitoshi/aidaily/internal/model"
	"github.com/hitoshi/aidaily/internal/repository"
	"github.com/hitoshi/aidaily/internal/security"
	"github.com/hitoshi/aidaily/internal/session"
	"github.com/hitoshi/aidaily/internal/sourcecheck"
)

// ErrUnhealthySources はONLINEでないソースがあった場合にfeedcheckが返すエラー。
var ErrUnhealthySources = errors.New("one or more sources are not online")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。wはログの出力先、feedcheckのレポートは標準出力に書き出す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
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
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandFeedcheck:
		return RunFeedcheck(ctx, cfg, os.Stdout, ParseFeedcheckArgs(args[1:]))
	default:
		return runServe(ctx, cfg)
	}
}

// Services はserveモードで組み立てた依存関係。
type Services struct {
	Registry    *prometheus.Registry
	Metrics     *metrics.Collector
	Identity    *identity.GoTrueClient
	Analytics   *analytics.Client
	Store       *session.Store
	API         *apiclient.Client
	Coordinator *modal.Coordinator
	Form        *modal.Form
	Loader      *feed.Loader
	RateLimiter *middleware.RateLimiter
	Router      http.Handler
}

// Close はバックグラウンド処理を持つ依存関係を解放する。
func (s *Services) Close() {
	s.Loader.Close()
	s.Store.Teardown()
	s.RateLimiter.Stop()
}

// NewServices は設定とセッションの保存先から全依存関係を組み立てる。
// storageがnilの場合はメモリに保持する。
func NewServices(cfg *config.Config, storage identity.SessionStorage, log *slog.Logger) *Services {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	idp := identity.NewGoTrueClient(identity.GoTrueConfig{
		BaseURL:          cfg.AuthURL,
		AnonKey:          cfg.AuthAnonKey,
		EmailRedirectURL: cfg.AuthCallbackURL(),
		HTTPClient:       httpClient,
		Storage:          storage,
		Logger:           log,
	})

	tracker := analytics.New(analytics.Config{
		Host:   cfg.AnalyticsHost,
		APIKey: cfg.AnalyticsKey,
		Logger: log,
	})

	store := session.NewStore(idp, session.NewAuthenticator(), tracker, collector, log)
	api := apiclient.NewClient(cfg.APIURL, httpClient, store.Authenticator(), collector, log)

	coordinator := modal.NewCoordinator()
	form := modal.NewForm(idp, coordinator, modal.FormConfig{
		ResendInterval: cfg.ResendInterval,
		Metrics:        collector,
		Logger:         log,
	})
	loader := feed.NewLoader(api, store, coordinator, security.NewTextSanitizer(), log)

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitAuth), log)

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            log,
		Sessions:          store,
		Form:              form,
		Modal:             coordinator,
		Identity:          idp,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:     cfg.BaseURL,
			CallbackURL: cfg.AuthCallbackURL(),
		},
		Loader:  loader,
		Stories: api,
		Metrics: metrics.Handler(registry),
	})

	return &Services{
		Registry:    registry,
		Metrics:     collector,
		Identity:    idp,
		Analytics:   tracker,
		Store:       store,
		API:         api,
		Coordinator: coordinator,
		Form:        form,
		Loader:      loader,
		RateLimiter: limiter,
		Router:      router,
	}
}

// Start はセッションの購読と初回取得を行い、バックグラウンド処理を起動する。
// 返されるWaitGroupはctxのキャンセル後にすべての処理が終了すると完了する。
func (s *Services) Start(ctx context.Context, refreshMargin time.Duration) *sync.WaitGroup {
	s.Store.Subscribe()

	var wg sync.WaitGroup
	wg.Go(func() { s.Store.Initialize(ctx) })
	wg.Go(func() { s.Identity.AutoRefresh(ctx, refreshMargin) })
	wg.Go(func() { s.Analytics.Run(ctx) })
	wg.Go(func() { s.Loader.Run(ctx) })
	return &wg
}

// runServe はクライアント面のHTTPサーバーを起動する。
// DATABASE_URLが設定されている場合はセッションをPostgreSQLに永続化する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	var storage identity.SessionStorage
	if cfg.PersistSessions() {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		slog.Info("database connection established")
		storage = repository.NewPostgresSessionRepo(db, repository.DefaultStorageKey)
	}

	svc := NewServices(cfg, storage, log)
	defer svc.Close()

	bgCtx, cancelBg := context.WithCancel(ctx)
	wg := svc.Start(bgCtx, cfg.TokenRefreshMargin)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      svc.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	cancelBg()
	wg.Wait()

	if serveErr == nil {
		slog.Info("server stopped gracefully")
	}
	return serveErr
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.PersistSessions() {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// RunFeedcheck はニュースソースの疎通を検査し、結果の表をoutに書き出す。
// DATABASE_URLが設定されている場合は結果を記録し、opts.Historyでは記録済みの最新結果を表示する。
// ONLINEでないソースがあった場合はErrUnhealthySourcesを返す。
func RunFeedcheck(ctx context.Context, cfg *config.Config, out io.Writer, opts FeedcheckOptions) error {
	var db *sql.DB
	if cfg.PersistSessions() {
		var err error
		db, err = database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
	}

	if opts.History {
		if db == nil {
			return errors.New("DATABASE_URL is required for feedcheck --history")
		}
		results, err := repository.NewPostgresSourceCheckRepo(db).ListLatest(ctx)
		if err != nil {
			return fmt.Errorf("failed to load source check history: %w", err)
		}
		return sourcecheck.WriteReport(out, results)
	}

	sources := sourcecheck.DefaultSources
	if len(opts.Sources) > 0 {
		sources = sourcecheck.SourcesFromArgs(opts.Sources)
	}

	guard := security.NewSSRFGuard()
	checkCfg := sourcecheck.Config{
		HTTPClient:     guard.Client(cfg.FeedCheckTimeout),
		Validator:      guard,
		Logger:         slog.Default(),
		MaxConcurrency: cfg.FeedCheckMaxConcurrent,
		MaxBodySize:    cfg.FeedCheckMaxSize,
	}
	if db != nil {
		checkCfg.Recorder = repository.NewPostgresSourceCheckRepo(db)
	}
	return checkSources(ctx, sourcecheck.NewChecker(checkCfg), sources, out)
}

// checkSources は検査を実行してレポートを書き出す。
func checkSources(ctx context.Context, checker *sourcecheck.Checker, sources []model.Source, out io.Writer) error {
	slog.Info("checking news sources", slog.Int("count", len(sources)))

	results := checker.CheckAll(ctx, sources)
	if err := sourcecheck.WriteReport(out, results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if !sourcecheck.Healthy(results) {
		return ErrUnhealthySources
	}
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
