package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/creatorledger/internal/catalog"
	"github.com/nkiryanov/creatorledger/internal/db"
	"github.com/nkiryanov/creatorledger/internal/handlers"
	"github.com/nkiryanov/creatorledger/internal/identity"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/metrics"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
	"github.com/nkiryanov/creatorledger/internal/processor/card"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
	"github.com/nkiryanov/creatorledger/internal/repository/postgres"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
	"github.com/nkiryanov/creatorledger/internal/service/eligibility"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
	"github.com/nkiryanov/creatorledger/internal/service/payout"
	"github.com/nkiryanov/creatorledger/internal/service/payoutsweep"
	"github.com/nkiryanov/creatorledger/internal/service/reconciler"
	"github.com/nkiryanov/creatorledger/internal/service/stars"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweep  *payoutsweep.Sweep
	pool   *pgxpool.Pool
	logger logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	if c.IdentitySecret == "" {
		return nil, errors.New("identity secret must be set")
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)
	m := metrics.New()

	// Initialize collaborators clients, every outbound call is observed by metrics
	transport := apiclient.Config{Observer: m}
	cardClient := card.NewClient(card.Config{
		BaseURL:             c.CardAPIURL,
		SecretKey:           c.CardSecretKey,
		WebhookSecret:       c.CardWebhookSecret,
		SubscriptionProduct: c.CardSubscriptionProduct,
		Transport:           transport,
	}, logger)
	walletClient := wallet.NewClient(wallet.Config{
		BaseURL:      c.WalletAPIURL,
		ClientID:     c.WalletClientID,
		ClientSecret: c.WalletClientSecret,
		WebhookID:    c.WalletWebhookID,
		Transport:    transport,
	}, logger)
	catalogClient := catalog.NewClient(catalog.Config{BaseURL: c.CatalogURL, Transport: transport}, logger)

	identityProvider, err := identity.New(identity.Config{
		SecretKey:   c.IdentitySecret,
		AdminEmails: c.AdminEmails,
	}, storage.User())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating identity provider. Err: %w", err)
	}

	// Initialize services
	gate := eligibility.NewGate(eligibility.Config{}, storage.User(), catalogClient, logger)
	ledgerService := ledger.NewService(storage, logger)
	chargeService := charge.NewService(charge.Config{ApplicationFeeRate: c.CardApplicationFeeRate}, storage, cardClient, walletClient, logger)
	payoutManager := payout.NewManager(payout.Config{MinAmount: c.PayoutMinAmount, FeeRate: c.PayoutFeeRate}, storage, gate, walletClient, m, logger)
	starsService := stars.NewService(stars.Config{StarsPerUnit: c.StarsPerUnit}, storage, chargeService, catalogClient, logger)
	reconcilerService := reconciler.New(storage, chargeService, payoutManager, cardClient, walletClient, m, logger)

	sweep := payoutsweep.New(payoutsweep.Config{
		Interval: c.PayoutSweepInterval,
		SLA:      c.PayoutProcessingSLA,
	}, payoutManager, logger)

	router := handlers.NewRouter(handlers.Services{
		Identity:     identityProvider,
		Ledger:       ledgerService,
		Payouts:      payoutManager,
		Stars:        starsService,
		Charges:      chargeService,
		Monetization: gate,
		Webhooks:     reconcilerService,
		Metrics:      m.Handler(),
	}, logger)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    router,
		sweep:      sweep,
		pool:       pool,
		logger:     logger,
	}, nil
}

// Run starts http server and the payout sweep, both stop gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.pool.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweepStopped := s.sweep.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweepStopped

	return err
}
