package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billoapp/tabz-payments/internal"
	"github.com/billoapp/tabz-payments/internal/core/events"
	credentialpkg "github.com/billoapp/tabz-payments/internal/credential"
	credentialpostgres "github.com/billoapp/tabz-payments/internal/credential/postgres"
	"github.com/billoapp/tabz-payments/internal/mpesa"
	"github.com/billoapp/tabz-payments/internal/payment"
	paymentpostgres "github.com/billoapp/tabz-payments/internal/payment/postgres"
	"github.com/billoapp/tabz-payments/internal/ratelimit"
	ratelimitpostgres "github.com/billoapp/tabz-payments/internal/ratelimit/postgres"
	"github.com/billoapp/tabz-payments/internal/retry"
	"github.com/billoapp/tabz-payments/internal/tabsync"
	"github.com/billoapp/tabz-payments/internal/token"
	"github.com/billoapp/tabz-payments/internal/transport"
	"github.com/billoapp/tabz-payments/internal/transport/rest"
	"github.com/billoapp/tabz-payments/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle payment API requests and provider callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	GormDB         *gorm.DB
	Router         *chi.Mux
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	CallbackQueue  *retry.Queue
	Sweeper        *payment.Sweeper
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	operatorKey := []byte(deps.Config.Security.OperatorJWTKey)
	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.PaymentHandler, deps.WebhookHandler, operatorKey, deps.Logger)

	// Background workers share a lifecycle context with the server.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	deps.CallbackQueue.Start(workerCtx, 4)
	go deps.Sweeper.Run(workerCtx)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr, "environment", deps.Config.Mpesa.Environment)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		cancelWorkers()
		deps.CallbackQueue.Stop()
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.Default()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	// Credential vault
	masterKey, err := config.Security.GetMasterKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load master encryption key: %w", err)
	}
	cipher, err := credentialpkg.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	credentialRepo := credentialpostgres.NewCredentialRepository(gormDB)
	vault := credentialpkg.NewVault(credentialRepo, cipher, lg)

	// Provider client and token cache
	providerClient := mpesa.NewClient(mpesa.ClientConfig{
		Environment: config.Mpesa.Environment,
		PushTimeout: config.Mpesa.PushTimeout,
		AuthTimeout: config.Mpesa.AuthTimeout,
	}, lg)
	tokenManager := token.NewManager(providerClient, lg)

	// Persistence
	transactionRepo := paymentpostgres.NewTransactionRepository(gormDB)
	tabRepo := paymentpostgres.NewTabRepository(gormDB)
	callbackEventRepo := paymentpostgres.NewCallbackEventRepository(gormDB)
	attemptRepo := ratelimitpostgres.NewAttemptRepository(gormDB)

	limiter := ratelimit.NewService(config.RateLimit, attemptRepo, lg)
	outbound := retry.NewOutbound(lg)

	paymentService := payment.NewService(
		transactionRepo,
		tabRepo,
		vault,
		tokenManager,
		providerClient,
		outbound,
		limiter,
		config.Mpesa.Environment,
		lg,
	)

	// Event bus and tab sync
	eventBus := events.NewEventBus(lg)
	syncer := tabsync.NewSyncer(tabRepo, lg)
	syncer.RegisterEventHandlers(eventBus)

	// Callback retry queue; exhausted jobs are flagged for operator review
	callbackQueue := retry.NewQueue(retry.QueueConfig{}, func(ctx context.Context, eventID int64, lastErr error) {
		if err := callbackEventRepo.MarkPermanentlyFailed(ctx, eventID); err != nil {
			lg.Error("failed to flag exhausted callback event", "event_id", eventID, "error", err)
		}
	}, lg)

	baseHandler := transport.NewBaseHandler(lg)
	paymentHandler := payment.NewHandler(baseHandler, paymentService, lg)
	webhookHandler := payment.NewWebhookHandler(
		baseHandler,
		transactionRepo,
		callbackEventRepo,
		eventBus,
		callbackQueue,
		config.Mpesa.CallbackToken,
		lg,
	)

	sweeper := payment.NewSweeper(transactionRepo, eventBus, config.Mpesa.CallbackTimeout, config.Mpesa.SweepInterval, lg)

	return &Dependencies{
		Config:         config,
		DB:             db,
		GormDB:         gormDB,
		Router:         chi.NewRouter(),
		PaymentHandler: paymentHandler,
		WebhookHandler: webhookHandler,
		CallbackQueue:  callbackQueue,
		Sweeper:        sweeper,
		Logger:         lg,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
