package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/handlers/middleware"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/repository"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
	"github.com/nkiryanov/creatorledger/internal/service/eligibility"
	"github.com/nkiryanov/creatorledger/internal/service/stars"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Services the HTTP surface is a thin wrapper over
type Services struct {
	Identity     identityService
	Ledger       ledgerService
	Payouts      payoutService
	Stars        starsService
	Charges      chargeService
	Monetization monetizationService
	Webhooks     webhookService

	// Exposition of the metrics registry, not mounted if nil
	Metrics http.Handler
}

func NewRouter(s Services, logger logger.Logger) http.Handler {
	authMiddleware := middleware.AuthMiddleware(s.Identity)
	adminMiddleware := middleware.AdminMiddleware(s.Identity)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}
	withAdmin := func(h http.Handler) http.Handler {
		return chain(h, authMiddleware, adminMiddleware)
	}

	api := http.NewServeMux()

	api.Handle("GET /balance", withAuth(handleBalance(s.Ledger, logger)))
	api.Handle("GET /transactions", withAuth(handleListTransactions(s.Ledger, logger)))
	api.Handle("GET /payouts", withAuth(handleListPayouts(s.Payouts, logger)))
	api.Handle("POST /payouts", withAuth(handleRequestPayout(s.Payouts, logger)))
	api.Handle("GET /monetization", withAuth(handleMonetization(s.Monetization, logger)))
	api.Handle("GET /monetization/profile", withAuth(handleProfile()))
	api.Handle("PUT /monetization/profile", withAuth(handleUpdateProfile(s.Monetization, logger)))
	api.Handle("GET /stars", withAuth(handleStarsWallet(s.Stars, logger)))
	api.Handle("POST /stars/purchase", withAuth(handleStarsPurchase(s.Stars, logger)))
	api.Handle("POST /stars/donate", withAuth(handleStarsDonate(s.Stars, logger)))
	api.Handle("POST /tips", withAuth(handleTip(s.Charges, logger)))
	api.Handle("POST /subscriptions", withAuth(handleSubscribe(s.Charges, logger)))

	api.Handle("POST /admin/payouts/{id}/approve", withAdmin(handleApprovePayout(s.Payouts, logger)))
	api.Handle("POST /admin/payouts/{id}/reject", withAdmin(handleRejectPayout(s.Payouts, logger)))
	api.Handle("PUT /admin/creators/{id}/monetization", withAdmin(handleSetMonetization(s.Monetization, logger)))
	api.Handle("POST /admin/creators/{id}/payout-receiver/verify", withAdmin(handleVerifyPayoutReceiver(s.Monetization, logger)))
	api.Handle("POST /admin/transactions/{id}/refund", withAdmin(handleRefund(s.Ledger, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("POST /webhooks/card", handleCardWebhook(s.Webhooks, logger))
	root.Handle("POST /webhooks/wallet", handleWalletWebhook(s.Webhooks, logger))
	if s.Metrics != nil {
		root.Handle("GET /metrics", s.Metrics)
	}

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type identityService interface {
	// Get request and return user if it authenticated or error
	Authenticate(ctx context.Context, r *http.Request) (models.User, error)
	IsAdmin(user models.User) bool
}

type ledgerService interface {
	GetBalance(ctx context.Context, creatorID uuid.UUID) (models.Balance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)

	// Has to return applied=false if the transaction was refunded before
	Refund(ctx context.Context, id uuid.UUID) (models.Transaction, bool, error)
}

type payoutService interface {
	RequestPayout(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.PayoutRequest, error)
	ListPayouts(ctx context.Context, creatorID uuid.UUID, statuses []string, limit int, offset int) ([]models.PayoutRequest, error)

	// Approve the pending request and hand it to the processor
	Submit(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (models.PayoutRequest, error)
}

type starsService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (stars.Wallet, error)
	Purchase(ctx context.Context, payer models.User, amount decimal.Decimal, processor string) (charge.Checkout, error)
	Donate(ctx context.Context, donor models.User, p stars.DonateParams) (models.Transaction, error)
}

type chargeService interface {
	Tip(ctx context.Context, payer models.User, p charge.TipParams) (charge.Checkout, error)
	Subscribe(ctx context.Context, payer models.User, creatorID uuid.UUID, amount decimal.Decimal) (charge.Checkout, error)
}

type monetizationService interface {
	Evaluate(ctx context.Context, creatorID uuid.UUID) (eligibility.Decision, error)
	SetOverride(ctx context.Context, creatorID uuid.UUID, override *bool) (models.User, error)
	UpdateProfile(ctx context.Context, creatorID uuid.UUID, u eligibility.ProfileUpdate) (models.User, error)
	VerifyPayoutReceiver(ctx context.Context, creatorID uuid.UUID) (models.User, error)
}

type webhookService interface {
	// Both return a processing outcome.
	// Errors wrapping apperrors.ErrInvalidSignature or apperrors.ErrMalformedEvent reject the callback
	HandleCard(ctx context.Context, payload []byte, signature string) (string, error)
	HandleWallet(ctx context.Context, header http.Header, payload []byte) (string, error)
}
