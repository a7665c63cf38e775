package commission

import (
	"adledger/internal/apperr"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute returns round(amount * ratePercent / 100, 2), rounding half-up.
//
// A zero or negative rate means no commission. A rate above 100 is rejected.
func Compute(amount, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if ratePercent.GreaterThan(hundred) {
		return decimal.Zero, apperr.Validation("commission rate %s exceeds 100", ratePercent)
	}
	if !ratePercent.IsPositive() || !amount.IsPositive() {
		return decimal.Zero, nil
	}
	// Round is half away from zero, which is half-up for positive values.
	return amount.Mul(ratePercent).Shift(-2).Round(2), nil
}

// Split returns the commission and the remainder (amount - commission).
func Split(amount, ratePercent decimal.Decimal) (fee, net decimal.Decimal, err error) {
	fee, err = Compute(amount, ratePercent)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return fee, amount.Sub(fee), nil
}

// ValidateRate checks a percentage before it is stored on a request.
func ValidateRate(ratePercent decimal.Decimal) error {
	if ratePercent.GreaterThan(hundred) {
		return apperr.Validation("commission rate %s exceeds 100", ratePercent)
	}
	return nil
}
