// Package money computes VAT breakdowns for invoice amounts.
//
// Figures are carried at full precision through every step and only the
// final subtotal, VAT and total are rounded to two decimals.
package money

import (
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept on final figures
const Precision int32 = 2

var (
	hundred = decimal.NewFromInt(100)
	// Tolerance is the largest allowed gap between total and subtotal+vat
	Tolerance = decimal.New(1, -Precision)
)

// Breakdown is the rounded result of a VAT computation
type Breakdown struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	VATPercentage decimal.Decimal `json:"vat_percentage"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	Total         decimal.Decimal `json:"total"`
}

// Round rounds half away from zero to two decimals. For the non-negative
// amounts handled here that is round-half-up.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Precision)
}

// ComputeFromTaxExclusive treats amount as the net subtotal and adds VAT on top.
func ComputeFromTaxExclusive(subtotal, vatPercentage decimal.Decimal) (Breakdown, error) {
	if err := validate(subtotal, vatPercentage); err != nil {
		return Breakdown{}, err
	}

	vat := subtotal.Mul(vatPercentage).Div(hundred)
	total := subtotal.Add(vat)

	return Breakdown{
		Subtotal:      Round(subtotal),
		VATPercentage: vatPercentage,
		VATAmount:     Round(vat),
		Total:         Round(total),
	}, nil
}

// ComputeFromTaxInclusive treats amount as the gross total and extracts the VAT from it.
func ComputeFromTaxInclusive(total, vatPercentage decimal.Decimal) (Breakdown, error) {
	if err := validate(total, vatPercentage); err != nil {
		return Breakdown{}, err
	}

	divisor := decimal.NewFromInt(1).Add(vatPercentage.Div(hundred))
	subtotal := total.Div(divisor)
	vat := total.Sub(subtotal)

	return Breakdown{
		Subtotal:      Round(subtotal),
		VATPercentage: vatPercentage,
		VATAmount:     Round(vat),
		Total:         Round(total),
	}, nil
}

// Compute picks the inclusive or exclusive computation.
func Compute(amount, vatPercentage decimal.Decimal, pricesIncludeVAT bool) (Breakdown, error) {
	if pricesIncludeVAT {
		return ComputeFromTaxInclusive(amount, vatPercentage)
	}
	return ComputeFromTaxExclusive(amount, vatPercentage)
}

// IsConsistent reports whether total equals subtotal plus VAT within one minor unit.
func (b Breakdown) IsConsistent() bool {
	return b.Total.Sub(b.Subtotal.Add(b.VATAmount)).Abs().LessThanOrEqual(Tolerance)
}

func validate(amount, vatPercentage decimal.Decimal) error {
	if amount.IsNegative() {
		return ierr.NewError("amount must not be negative").
			WithHint("Amount must be zero or greater").
			WithReportableDetails(map[string]any{
				"amount": amount.String(),
				"step":   "compute_amounts",
			}).
			Mark(ierr.ErrValidation)
	}
	if vatPercentage.IsNegative() || vatPercentage.GreaterThan(hundred) {
		return ierr.NewError("vat percentage out of range").
			WithHint("VAT percentage must be between 0 and 100").
			WithReportableDetails(map[string]any{
				"vat_percentage": vatPercentage.String(),
				"step":           "compute_amounts",
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
