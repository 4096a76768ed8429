package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/service/eligibility"
)

type monetizationView struct {
	CreatorID   uuid.UUID `json:"creator_id"`
	CanMonetize bool      `json:"can_monetize"`
	Overridden  bool      `json:"overridden"`
	Reasons     []string  `json:"reasons"`
}

func newMonetizationView(creatorID uuid.UUID, d eligibility.Decision) monetizationView {
	reasons := d.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return monetizationView{
		CreatorID:   creatorID,
		CanMonetize: d.CanMonetize,
		Overridden:  d.Overridden,
		Reasons:     reasons,
	}
}

const birthdateLayout = time.DateOnly

type profileView struct {
	Birthdate      *string `json:"birthdate"`
	PayoutReceiver string  `json:"payout_receiver"`
	PayoutVerified bool    `json:"payout_verified"`
	CardAccountID  string  `json:"card_account_id"`
}

func newProfileView(u models.User) profileView {
	v := profileView{
		PayoutReceiver: u.PayoutReceiver,
		PayoutVerified: u.PayoutVerified,
		CardAccountID:  u.CardAccountID,
	}
	if u.Birthdate != nil {
		b := u.Birthdate.Format(birthdateLayout)
		v.Birthdate = &b
	}
	return v
}

func handleProfile() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}
		render.JSON(w, newProfileView(user))
	})
}

// Absent fields are left as they are
func handleUpdateProfile(monetizationService monetizationService, l logger.Logger) http.Handler {
	type request struct {
		Birthdate      *string `json:"birthdate" validate:"omitempty,datetime=2006-01-02"`
		PayoutReceiver *string `json:"payout_receiver" validate:"omitempty,email"`
		CardAccountID  *string `json:"card_account_id" validate:"omitempty,max=255"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		update := eligibility.ProfileUpdate{PayoutReceiver: data.PayoutReceiver, CardAccountID: data.CardAccountID}
		if data.Birthdate != nil {
			b, err := time.Parse(birthdateLayout, *data.Birthdate)
			if err != nil {
				render.FieldErrors(w, map[string]string{"birthdate": "Value must be a date in 2006-01-02 format"})
				return
			}
			update.Birthdate = &b
		}

		user, err = monetizationService.UpdateProfile(r.Context(), user.ID, update)

		switch err {
		case nil:
			render.JSON(w, newProfileView(user))
		default:
			serviceError(w, err, l, "Failed to update monetization profile")
		}
	})
}

func handleVerifyPayoutReceiver(monetizationService monetizationService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, _ := userctx.FromContext(r.Context())

		id, ok := pathID(w, r)
		if !ok {
			return
		}

		user, err := monetizationService.VerifyPayoutReceiver(r.Context(), id)

		switch err {
		case nil:
			l.Info("Payout receiver verified", "creator_id", id, "admin_id", admin.ID)
			render.JSON(w, newProfileView(user))
		default:
			serviceError(w, err, l, "Failed to verify payout receiver")
		}
	})
}

func handleMonetization(monetizationService monetizationService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		d, err := monetizationService.Evaluate(r.Context(), user.ID)

		switch err {
		case nil:
			render.JSON(w, newMonetizationView(user.ID, d))
		default:
			serviceError(w, err, l, "Failed to evaluate monetization")
		}
	})
}

// Body {"can_monetize": true|false|null}, null clears the override
func handleSetMonetization(monetizationService monetizationService, l logger.Logger) http.Handler {
	type request struct {
		CanMonetize *bool `json:"can_monetize"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, _ := userctx.FromContext(r.Context())

		id, ok := pathID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		_, err = monetizationService.SetOverride(r.Context(), id, data.CanMonetize)
		if err != nil {
			serviceError(w, err, l, "Failed to set monetization override")
			return
		}
		override := "cleared"
		if data.CanMonetize != nil {
			override = strconv.FormatBool(*data.CanMonetize)
		}
		l.Info("Monetization override changed", "creator_id", id, "override", override, "admin_id", admin.ID)

		d, err := monetizationService.Evaluate(r.Context(), id)

		switch err {
		case nil:
			render.JSON(w, newMonetizationView(id, d))
		default:
			serviceError(w, err, l, "Failed to evaluate monetization")
		}
	})
}
