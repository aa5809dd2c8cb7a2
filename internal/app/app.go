package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/norkcraft/internal/auth"
	"github.com/hitoshi/norkcraft/internal/config"
	"github.com/hitoshi/norkcraft/internal/database"
	"github.com/hitoshi/norkcraft/internal/handler"
	"github.com/hitoshi/norkcraft/internal/logger"
	"github.com/hitoshi/norkcraft/internal/mail"
	"github.com/hitoshi/norkcraft/internal/metrics"
	"github.com/hitoshi/norkcraft/internal/repository"
	"github.com/hitoshi/norkcraft/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, using info", slog.String("error", err.Error()))
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
			port = "5000"
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
		slog.String("store_driver", cfg.StoreDriver),
		slog.Bool("otp_enforce", cfg.OTPEnforce),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// store はストアドライバーごとのリポジトリと接続のクローズ処理をまとめたもの。
type store struct {
	users  repository.UserRepository
	otps   repository.OTPRepository
	pinger repository.Pinger
	close  func() error

	// otpCleanup は期限切れOTPを定期削除するジョブ。TTLを持たないストアでのみ設定する。
	otpCleanup *cleanup.CleanupJob
}

// openStore はcfg.StoreDriverに対応するストアへ接続し、リポジトリを初期化する。
// 接続はプロセス起動時に1回だけ開き、各リポジトリへ注入する。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		name := cfg.MongoDatabase
		if name == "" {
			name = database.MongoDatabaseName(cfg.MongoURI)
		}
		db := client.Database(name)

		if err := database.EnsureMongoIndexes(ctx, db); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}

		users := repository.NewMongoUserRepo(db)
		return &store{
			users:  users,
			otps:   repository.NewMongoOTPRepo(db),
			pinger: users,
			close: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
				defer cancel()
				return client.Disconnect(ctx)
			},
		}, nil

	case config.DriverPostgres:
		db, err := database.OpenAndPing(ctx, database.WithTimeouts(cfg.DatabaseURL, cfg.StoreTimeout), cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		users := repository.NewPostgresUserRepo(db)
		return &store{
			users:      users,
			otps:       repository.NewPostgresOTPRepo(db),
			pinger:     users,
			close:      db.Close,
			otpCleanup: cleanup.NewCleanupJob(db, slog.Default()),
		}, nil

	case config.DriverBuntDB:
		db, err := database.OpenBunt(cfg.BuntDBPath)
		if err != nil {
			return nil, err
		}
		users := repository.NewBuntUserRepo(db)
		return &store{
			users:  users,
			otps:   repository.NewBuntOTPRepo(db),
			pinger: users,
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// newSender はSMTP認証情報が設定されていればSMTPSenderを、なければDisabledSenderを返す。
func newSender(cfg *config.Config) mail.Sender {
	if !cfg.MailConfigured() {
		slog.Warn("EMAIL_USER or EMAIL_PASSWORD is not set, otp emails will not be delivered")
		return mail.DisabledSender{}
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPassword,
		From:     cfg.EmailFrom,
		Timeout:  cfg.MailTimeout,
	})
}

// newHandler は認証サービス、メトリクス、ルーターをワイヤリングしたhttp.Handlerを返す。
func newHandler(cfg *config.Config, st *store, sender mail.Sender) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	authService := auth.NewService(st.users, st.otps, sender, collector, auth.ServiceConfig{
		PasswordMinLength: cfg.PasswordMinLength,
		EnforceOTP:        cfg.OTPEnforce,
		OTPTTL:            cfg.OTPTTL,
	})

	return handler.NewRouter(&handler.RouterDeps{
		AuthService:       authService,
		HealthChecker:     st.pinger,
		HTTPMetrics:       collector,
		MetricsHandler:    metrics.Handler(reg),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
		StaticDir:         cfg.StaticDir,
	})
}

// runServe はAPIサーバーモードで起動する。
// ストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストア接続
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.close(); err != nil {
			slog.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	slog.Info("store connection established", slog.String("driver", cfg.StoreDriver))

	// 2. ルーターの構築
	router := newHandler(cfg, st, newSender(cfg))

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.MailTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// 4. 期限切れOTPのクリーンアップ
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	if cfg.OTPEnforce && st.otpCleanup != nil {
		go st.otpCleanup.Start(jobCtx, cfg.OTPCleanupInterval)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")
	cancelJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQLドライバーでのみ有効。MongoDBのインデックスはserve起動時に作成される。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.DriverPostgres, cfg.StoreDriver)
	}

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
