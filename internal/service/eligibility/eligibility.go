package eligibility

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/repository"
)

const (
	defaultMinAge           = 18
	defaultMinPublicContent = 1
)

// Reasons a creator can not monetize
const (
	ReasonBirthdateMissing   = "birthdate_missing"
	ReasonUnderage           = "underage"
	ReasonNotEnoughContent   = "not_enough_content"
	ReasonPayoutUnverified   = "payout_account_unverified"
	ReasonCatalogUnavailable = "catalog_unavailable"
	ReasonDisabledByAdmin    = "disabled_by_admin"
)

type catalogClient interface {
	PublicContentCount(ctx context.Context, creatorExternalID string) (int, error)
}

type Config struct {
	MinAge           int
	MinPublicContent int
}

type Decision struct {
	CanMonetize bool
	Overridden  bool     // admin override decided, checks were skipped
	Reasons     []string // empty when CanMonetize
}

type Gate struct {
	userRepo repository.UserRepo
	catalog  catalogClient

	minAge           int
	minPublicContent int

	now    func() time.Time
	logger logger.Logger
}

func NewGate(cfg Config, userRepo repository.UserRepo, catalog catalogClient, l logger.Logger) *Gate {
	if cfg.MinAge <= 0 {
		cfg.MinAge = defaultMinAge
	}
	if cfg.MinPublicContent <= 0 {
		cfg.MinPublicContent = defaultMinPublicContent
	}

	return &Gate{
		userRepo:         userRepo,
		catalog:          catalog,
		minAge:           cfg.MinAge,
		minPublicContent: cfg.MinPublicContent,
		now:              time.Now,
		logger:           l,
	}
}

func (g *Gate) Evaluate(ctx context.Context, creatorID uuid.UUID) (Decision, error) {
	user, err := g.userRepo.GetUserByID(ctx, creatorID)
	if err != nil {
		return Decision{}, err
	}
	return g.Check(ctx, user), nil
}

// Check never fails: an unreachable catalog means not eligible
func (g *Gate) Check(ctx context.Context, user models.User) Decision {
	if user.MonetizationOverride != nil {
		d := Decision{CanMonetize: *user.MonetizationOverride, Overridden: true}
		if !d.CanMonetize {
			d.Reasons = []string{ReasonDisabledByAdmin}
		}
		return d
	}

	var reasons []string

	switch {
	case user.Birthdate == nil:
		reasons = append(reasons, ReasonBirthdateMissing)
	case age(*user.Birthdate, g.now()) < g.minAge:
		reasons = append(reasons, ReasonUnderage)
	}

	if user.PayoutReceiver == "" || !user.PayoutVerified {
		reasons = append(reasons, ReasonPayoutUnverified)
	}

	count, err := g.catalog.PublicContentCount(ctx, user.ExternalID)
	switch {
	case err != nil:
		g.logger.Warn("Content catalog unavailable, creator treated as not eligible", "user_id", user.ID, "error", err)
		reasons = append(reasons, ReasonCatalogUnavailable)
	case count < g.minPublicContent:
		reasons = append(reasons, ReasonNotEnoughContent)
	}

	return Decision{CanMonetize: len(reasons) == 0, Reasons: reasons}
}

// Nil override returns the creator to computed eligibility
func (g *Gate) SetOverride(ctx context.Context, creatorID uuid.UUID, override *bool) (models.User, error) {
	user, err := g.userRepo.SetMonetizationOverride(ctx, creatorID, override)
	if err != nil {
		return user, err
	}

	g.logger.Info("Monetization override changed", "user_id", creatorID, "override", override)
	return user, nil
}

// Nil fields are left as they are
type ProfileUpdate struct {
	Birthdate      *time.Time
	PayoutReceiver *string
	CardAccountID  *string
}

// UpdateProfile stores monetization details the creator provides.
// A changed payout receiver is unverified until an admin verifies it
func (g *Gate) UpdateProfile(ctx context.Context, creatorID uuid.UUID, u ProfileUpdate) (models.User, error) {
	user, err := g.userRepo.GetUserByID(ctx, creatorID)
	if err != nil {
		return user, err
	}
	if u.Birthdate != nil && !u.Birthdate.Before(g.now()) {
		return user, apperrors.ErrInvalidBirthdate
	}

	p := profileOf(user)
	if u.Birthdate != nil {
		p.Birthdate = u.Birthdate
	}
	if u.PayoutReceiver != nil && *u.PayoutReceiver != p.PayoutReceiver {
		p.PayoutReceiver = *u.PayoutReceiver
		p.PayoutVerified = false
	}
	if u.CardAccountID != nil {
		p.CardAccountID = *u.CardAccountID
	}

	user, err = g.userRepo.UpdateMonetizationProfile(ctx, creatorID, p)
	if err != nil {
		return user, err
	}

	g.logger.Info("Monetization profile updated", "user_id", creatorID, "payout_verified", user.PayoutVerified)
	return user, nil
}

// VerifyPayoutReceiver marks the current payout receiver as verified.
// It fails with ErrPayoutNoDestination if the creator has none
func (g *Gate) VerifyPayoutReceiver(ctx context.Context, creatorID uuid.UUID) (models.User, error) {
	user, err := g.userRepo.GetUserByID(ctx, creatorID)
	switch {
	case err != nil:
		return user, err
	case user.PayoutReceiver == "":
		return user, apperrors.ErrPayoutNoDestination
	case user.PayoutVerified:
		return user, nil
	}

	p := profileOf(user)
	p.PayoutVerified = true

	user, err = g.userRepo.UpdateMonetizationProfile(ctx, creatorID, p)
	if err != nil {
		return user, err
	}

	g.logger.Info("Payout receiver verified", "user_id", creatorID)
	return user, nil
}

func profileOf(u models.User) models.MonetizationProfile {
	return models.MonetizationProfile{
		Birthdate:      u.Birthdate,
		PayoutReceiver: u.PayoutReceiver,
		PayoutVerified: u.PayoutVerified,
		CardAccountID:  u.CardAccountID,
	}
}

// Full years between birthdate and now
func age(birthdate time.Time, now time.Time) int {
	years := now.Year() - birthdate.Year()
	if now.Month() < birthdate.Month() || (now.Month() == birthdate.Month() && now.Day() < birthdate.Day()) {
		years--
	}
	return years
}
