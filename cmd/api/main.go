package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/marketbot/backend/internal/approval"
	"github.com/marketbot/backend/internal/auth"
	"github.com/marketbot/backend/internal/escrow"
	"github.com/marketbot/backend/internal/handlers"
	"github.com/marketbot/backend/internal/listings"
	"github.com/marketbot/backend/internal/models"
	"github.com/marketbot/backend/internal/notify"
	"github.com/marketbot/backend/internal/repository"
	"github.com/marketbot/backend/internal/router"
	"github.com/marketbot/backend/internal/sweep"
	"github.com/marketbot/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	admins := cfg.adminSet()

	// Notifications: insert func is set after the River client is created
	// (breaks init cycle).
	var insertMu sync.Mutex
	var insertFn notify.InsertFunc
	notifier := notify.NewQueue(func(ctx context.Context, args notify.SendMessageArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(ctx, args)
	}, logger)

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	escrowRepo := repository.NewEscrowRepo(pool)
	changeRepo := repository.NewChangeRepo(pool)

	// Wallet ledger
	walletSvc := wallet.NewService(pool, accountRepo, txRepo, paymentRepo, notifier,
		cfg.Currencies, cfg.AdminIDs, logger)

	// Approval workflow
	approvalSvc := approval.NewService(changeRepo, admins, notifier, logger)

	// Escrow state machine
	escrowSvc := escrow.NewService(pool, escrowRepo, accountRepo, txRepo, approvalSvc,
		notifier, cfg.Currencies, admins, logger)

	// Auth & listings
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	listingRepo := listings.NewRepository(pool)
	listingSvc := listings.NewService(listingRepo, approvalSvc)
	listingHandler := listings.NewHandler(listingSvc, logger)

	// Appliers run when an admin approves the matching change request.
	approvalSvc.RegisterApplier(models.ChangeDispute, escrowSvc.ApplyDisputeResolution)
	approvalSvc.RegisterApplier(models.ChangeRole, authSvc.ApplyRoleGrant)
	approvalSvc.RegisterApplier(models.ChangeProfile, authSvc.ApplyProfileEdit)
	approvalSvc.RegisterApplier(models.ChangeListing, listingSvc.ApplyPublish)

	// Background workers
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewSendMessageWorker(cfg.BotWebhookURL))
	river.AddWorker(workers, sweep.NewExpirePaymentsWorker(walletSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{sweep.PeriodicJob()},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args notify.SendMessageArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	apiRouter := router.New(router.Deps{
		Auth:     authHandler,
		Wallet:   &handlers.WalletHandler{Wallet: walletSvc, Logger: logger},
		Payments: &handlers.PaymentHandler{Payments: walletSvc, ProviderToken: cfg.ProviderToken, Logger: logger},
		Escrow:   &handlers.EscrowHandler{Escrow: escrowSvc, Logger: logger},
		Changes:  &handlers.ChangeHandler{Approvals: approvalSvc, Logger: logger},
		Listings: listingHandler,

		Validator: authSvc,
		Admins:    admins,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Provider-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (delivers notifications, expires stale payments)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
