package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"storefront-events/internal/auth"
	"storefront-events/internal/config"
	"storefront-events/internal/database"
	httpapi "storefront-events/internal/http"
	"storefront-events/internal/infrastructure/email"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/realtime"
	"storefront-events/internal/repo"
	"storefront-events/internal/service"
	"storefront-events/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	serveMigrate   bool
	serveReconcile bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket endpoint and background workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the schema before serving")
	serveCmd.Flags().BoolVar(&serveReconcile, "reconcile", true, "run the payment reconciliation sweep")
}

// originChecker accepts websocket upgrades from the configured web origins.
// Clients that send no Origin header (mobile apps) are accepted.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}
	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		return err
	}
	dbService := database.New(db, cfg.Postgres.Database)
	defer dbService.Close()

	if serveMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	notifications := repo.NewNotificationRepo(db)
	if cfg.NotificationBackend == config.BackendMongo {
		mdb, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer mdb.Client().Disconnect(context.Background())
		if err := repo.EnsureNotificationIndexes(ctx, mdb); err != nil {
			return err
		}
		notifications = repo.NewMongoNotificationRepo(mdb)
	}

	var mailer email.Mailer
	if cfg.SMTP.Host != "" {
		mailer = email.NewSMTPMailer(cfg.SMTP)
	} else {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
		mailer = email.NewLogMailer(logger)
	}
	emailPool := worker.NewEmailPool(mailer, cfg.EmailWorkers, cfg.EmailQueueSize, logger)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	router := realtime.NewRouter(tokens, logger)
	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	orderRepo := repo.NewOrderRepo(db)
	userRepo := repo.NewUserRepo(db)
	productRepo := repo.NewProductRepo(db)

	dispatcher := service.NewDispatcher(notifications, userRepo, router, emailPool, logger)
	orders := service.NewOrderService(repo.NewTxManager(db), orderRepo, dispatcher, gateway, cfg.CODSurcharge, logger)
	reconciler := service.NewReconciler(gateway, orders, orderRepo, productRepo,
		repo.NewPaymentEventRepo(db), cfg.WebhookTimeout, logger)

	srv := httpapi.NewServer(httpapi.Deps{
		Orders:        orders,
		Checkout:      service.NewCheckoutService(gateway, productRepo, cfg.Currency),
		Webhooks:      reconciler,
		Notifications: service.NewNotificationService(notifications),
		Announcements: service.NewAnnouncementService(userRepo, dispatcher, logger),
		Tokens:        tokens,
		Realtime:      realtime.NewHandler(router, originChecker(cfg.CORSOrigins), logger),
		Health:        dbService,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        logger,
	})

	go emailPool.Run(ctx)
	if serveReconcile && cfg.StripeSecretKey != "" {
		sweeper := worker.NewReconciliationWorker(orderRepo, gateway, orders,
			cfg.ReconcileInterval, cfg.ReconcileStaleAfter, logger)
		go sweeper.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
