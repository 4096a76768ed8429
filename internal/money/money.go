// Package money keeps settlement currency arithmetic in one place.
// Amounts are decimals with 2 fraction digits; rounding is half-up.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
)

const Places = 2

// Round to settlement precision, half away from zero
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Validate checks the amount is positive and has no more than 2 fraction digits
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() || !d.Equal(d.Round(Places)) {
		return apperrors.ErrInvalidAmount
	}
	return nil
}

// Split computes the platform fee and the remainder that goes to the creator.
// fee + net is exactly amount.
func Split(amount decimal.Decimal, feeRate decimal.Decimal) (fee decimal.Decimal, net decimal.Decimal) {
	fee = Round(amount.Mul(feeRate))
	net = amount.Sub(fee)
	return fee, net
}

// Minor units used by processors that charge in cents
func ToMinor(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -Places)
}

// String renders the amount the way API responses and processors expect ("10.50")
func String(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Stars conversion at a fixed rate of stars per settlement unit
type StarsRate struct {
	PerUnit decimal.Decimal
}

// ToSettlement never rounds up, a fraction of a cent stays with the stars
func (r StarsRate) ToSettlement(stars decimal.Decimal) decimal.Decimal {
	return stars.Div(r.PerUnit).Truncate(Places)
}

// SettlesExactly reports whether stars convert to a whole number of cents
func (r StarsRate) SettlesExactly(stars decimal.Decimal) bool {
	v := stars.Div(r.PerUnit)
	return v.Equal(v.Truncate(Places))
}

func (r StarsRate) ToStars(amount decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(r.PerUnit))
}
