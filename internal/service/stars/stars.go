// Package stars is the wallet of the virtual currency.
// Stars are bought through a processor and donated to creators without one.
package stars

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/catalog"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/repository"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
)

var defaultStarsPerUnit = decimal.NewFromInt(100)

type chargeInitiator interface {
	StarsPurchase(ctx context.Context, payer models.User, amount decimal.Decimal, stars decimal.Decimal, processor string) (charge.Checkout, error)
}

type catalogClient interface {
	VideoOwner(ctx context.Context, videoID string) (string, error)
	StreamOwner(ctx context.Context, streamID string) (string, error)
}

type Config struct {
	StarsPerUnit decimal.Decimal
}

type Wallet struct {
	Stars           decimal.Decimal
	SettlementValue decimal.Decimal
	StarsPerUnit    decimal.Decimal
}

type Service struct {
	storage repository.Storage
	ledger  *ledger.Ledger

	charges chargeInitiator
	catalog catalogClient
	rate    money.StarsRate

	logger logger.Logger
}

func NewService(cfg Config, storage repository.Storage, charges chargeInitiator, catalog catalogClient, l logger.Logger) *Service {
	if !cfg.StarsPerUnit.IsPositive() {
		cfg.StarsPerUnit = defaultStarsPerUnit
	}

	return &Service{
		storage: storage,
		ledger:  ledger.NewService(storage, l),
		charges: charges,
		catalog: catalog,
		rate:    money.StarsRate{PerUnit: cfg.StarsPerUnit},
		logger:  l,
	}
}

func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (Wallet, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}

	return Wallet{
		Stars:           user.StarsBalance,
		SettlementValue: s.rate.ToSettlement(user.StarsBalance),
		StarsPerUnit:    s.rate.PerUnit,
	}, nil
}

// Purchase opens a pending stars purchase for the settlement amount
func (s *Service) Purchase(ctx context.Context, payer models.User, amount decimal.Decimal, processor string) (charge.Checkout, error) {
	if err := money.Validate(amount); err != nil {
		return charge.Checkout{}, err
	}
	return s.charges.StarsPurchase(ctx, payer, amount, s.rate.ToStars(amount), processor)
}

type DonateParams struct {
	CreatorID uuid.UUID
	Stars     decimal.Decimal
	VideoID   string
	StreamID  string
}

// Donate moves stars of the donor to the creator balance at the fixed rate.
// The debit of the donor and the credit of the creator commit together
func (s *Service) Donate(ctx context.Context, donor models.User, p DonateParams) (models.Transaction, error) {
	var t models.Transaction

	if err := money.Validate(p.Stars); err != nil {
		return t, err
	}
	if donor.ID == p.CreatorID {
		return t, apperrors.ErrSelfDonation
	}

	if !s.rate.SettlesExactly(p.Stars) {
		return t, fmt.Errorf("%w: stars must convert to whole cents at %s per unit", apperrors.ErrInvalidAmount, s.rate.PerUnit)
	}
	settlement := s.rate.ToSettlement(p.Stars)
	if !settlement.IsPositive() {
		return t, fmt.Errorf("%w: donation is worth less than %s", apperrors.ErrInvalidAmount, money.String(decimal.New(1, -money.Places)))
	}

	creator, err := s.storage.User().GetUserByID(ctx, p.CreatorID)
	if err != nil {
		return t, err
	}
	if err := s.checkContext(ctx, creator, p); err != nil {
		return t, err
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		if _, err := st.User().DebitStars(ctx, donor.ID, p.Stars); err != nil {
			return err
		}

		var err error
		t, err = s.ledger.WithStorage(st).Record(ctx, ledger.Entry{
			Kind:          models.TransactionStarsDonation,
			BeneficiaryID: creator.ID,
			PayerID:       donor.ID,
			Amount:        settlement,
			Stars:         &p.Stars,
			VideoID:       p.VideoID,
			StreamID:      p.StreamID,
		})
		return err
	})
	if err != nil {
		return t, err
	}

	s.logger.Info("Stars donated", "transaction_id", t.ID, "donor_id", donor.ID, "creator_id", creator.ID, "stars", p.Stars)
	return t, nil
}

// Donation context, if given, must belong to the creator
func (s *Service) checkContext(ctx context.Context, creator models.User, p DonateParams) error {
	check := func(owner string, err error) error {
		switch {
		case errors.Is(err, catalog.ErrContentNotFound):
			return apperrors.ErrDonationContext
		case err != nil:
			return fmt.Errorf("can't resolve donation context: %w", err)
		case owner != creator.ExternalID:
			return apperrors.ErrDonationContext
		}
		return nil
	}

	if p.VideoID != "" {
		if err := check(s.catalog.VideoOwner(ctx, p.VideoID)); err != nil {
			return err
		}
	}
	if p.StreamID != "" {
		if err := check(s.catalog.StreamOwner(ctx, p.StreamID)); err != nil {
			return err
		}
	}
	return nil
}
