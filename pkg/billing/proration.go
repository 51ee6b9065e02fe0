package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidProrationInput = errors.New("invalid proration input")

// Proration is the quote for switching plans mid-period.
type Proration struct {
	Credit            int64           `json:"credit"`
	Charge            int64           `json:"charge"`
	RemainingFraction decimal.Decimal `json:"remaining_fraction"`
}

// Prorate computes the unused credit of the current period and the charge for
// the new plan:
//
//	remainingFraction = clamp((periodEnd - now) / (periodEnd - periodStart), 0, 1)
//	credit            = round(oldAmount * remainingFraction)
//	charge            = max(0, newAmount - credit)
//
// Amounts are minor units. Rounding is half away from zero.
func Prorate(oldAmount, newAmount int64, periodStart, periodEnd, now time.Time) (*Proration, error) {
	if oldAmount < 0 || newAmount < 0 {
		return nil, ErrInvalidProrationInput
	}
	if !periodEnd.After(periodStart) {
		return nil, ErrInvalidProrationInput
	}

	total := decimal.NewFromInt(periodEnd.Sub(periodStart).Nanoseconds())
	remaining := decimal.NewFromInt(periodEnd.Sub(now).Nanoseconds())
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if remaining.GreaterThan(total) {
		remaining = total
	}

	credit := decimal.NewFromInt(oldAmount).Mul(remaining).Div(total).Round(0).IntPart()
	charge := newAmount - credit
	if charge < 0 {
		charge = 0
	}

	return &Proration{
		Credit:            credit,
		Charge:            charge,
		RemainingFraction: remaining.Div(total).Round(6),
	}, nil
}
