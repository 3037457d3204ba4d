// Package validator reconciles the arithmetic of a structured invoice.
//
// Validation is deterministic and never fails: declared totals that disagree
// with the values computed from the line items are overwritten, every
// monetary field is rounded, and each correction is recorded as a note in the
// returned report. A missing tax amount is derived from the tax rate before
// the grand total is checked; that derivation fills a gap and is not noted.
// Notes are ordered by the checks that produce them:
//
//  1. subtotal against the sum of line totals
//  2. grand total against subtotal + tax - discount
package validator

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"finscribe/internal/errkind"
	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

// Note codes. Every note starts with one of them.
const (
	NoteSubtotalMismatch   = "subtotal_mismatch"
	NoteGrandTotalMismatch = "grand_total_mismatch"
	NoteMalformedInvoice   = "malformed_invoice"
)

// epsilon absorbs binary float noise in tolerance comparisons.
const epsilon = 1e-9

// Options configures the validator.
type Options struct {
	// Tolerance is the largest difference between declared and computed totals
	// that is still accepted.
	Tolerance float64
	// Precision is the number of decimals monetary fields are rounded to.
	Precision int
}

// DefaultOptions returns a tolerance of one cent and two-decimal rounding.
func DefaultOptions() Options {
	return Options{Tolerance: 0.01, Precision: 2}
}

// Validator checks and repairs invoice arithmetic.
type Validator struct {
	opts Options
	log  zerolog.Logger
}

// New creates a Validator.
func New(opts Options) *Validator {
	return &Validator{
		opts: opts,
		log:  logger.WithComponent("validator"),
	}
}

// Validate returns a corrected copy of inv and the validation report. The
// input is left untouched. Validating an already consistent invoice changes
// nothing beyond rounding.
func (v *Validator) Validate(inv models.Invoice) (models.Invoice, models.ValidationReport) {
	out := inv.Clone()
	notes := []string{}
	fs := &out.FinancialSummary

	// Line totals are rounded before summing so a second pass over the output
	// sums exactly the same values.
	for i := range out.LineItems {
		item := &out.LineItems[i]
		item.LineTotal = v.round(item.LineTotal)
	}

	// 1. Subtotal against line items.
	computedSubtotal := 0.0
	for _, item := range out.LineItems {
		computedSubtotal += item.LineTotal.Float()
	}
	if v.mismatch(computedSubtotal, fs.Subtotal.Float()) {
		notes = append(notes, fmt.Sprintf("%s: declared %s, computed %s",
			NoteSubtotalMismatch, v.format(fs.Subtotal.Float()), v.format(computedSubtotal)))
		v.log.Debug().
			Float64("declared", fs.Subtotal.Float()).
			Float64("computed", computedSubtotal).
			Msg("Subtotal corrected from line items")
		fs.Subtotal = models.Amount(computedSubtotal)
	}

	// 2. Tax from rate.
	if fs.TaxAmount == 0 && fs.TaxRate > 0 {
		fs.TaxAmount = models.Amount(fs.Subtotal.Float() * fs.TaxRate.Float())
	}

	// 3. Grand total.
	computedGrand := v.round(fs.Subtotal).Float() + v.round(fs.TaxAmount).Float() - v.round(fs.DiscountAmount).Float()
	if v.mismatch(computedGrand, fs.GrandTotal.Float()) {
		notes = append(notes, fmt.Sprintf("%s: declared %s, computed %s",
			NoteGrandTotalMismatch, v.format(fs.GrandTotal.Float()), v.format(computedGrand)))
		v.log.Debug().
			Float64("declared", fs.GrandTotal.Float()).
			Float64("computed", computedGrand).
			Msg("Grand total corrected")
		fs.GrandTotal = models.Amount(computedGrand)
	}

	// 4. Rounding.
	v.roundAll(&out)

	report := models.ValidationReport{
		ArithmeticValid: len(notes) == 0,
		Notes:           notes,
	}

	v.log.Info().
		Float64("subtotal", fs.Subtotal.Float()).
		Float64("tax", fs.TaxAmount.Float()).
		Float64("grand_total", fs.GrandTotal.Float()).
		Bool("arithmetic_valid", report.ArithmeticValid).
		Strs("notes", notes).
		Msg("Invoice arithmetic validated")

	return out, report
}

// ValidateJSON decodes an invoice and validates it. Undecodable input yields
// an empty invoice and a report with arithmetic_valid=false and a single
// malformed_invoice note.
func (v *Validator) ValidateJSON(data []byte) (models.Invoice, models.ValidationReport) {
	inv, err := Decode(data)
	if err != nil {
		v.log.Warn().Err(err).Msg("Invoice could not be decoded")
		return models.Invoice{}, models.ValidationReport{
			ArithmeticValid: false,
			Notes:           []string{fmt.Sprintf("%s: %v", NoteMalformedInvoice, err)},
		}
	}
	return v.Validate(inv)
}

// Decode parses an invoice leniently. Only input that is not a JSON object at
// all is rejected, as errkind.MalformedInput.
func Decode(data []byte) (models.Invoice, error) {
	var inv models.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return models.Invoice{}, errkind.Wrap(errkind.MalformedInput, "Decode", err, "invoice is not a JSON object")
	}
	return inv, nil
}

func (v *Validator) mismatch(computed, declared float64) bool {
	return math.Abs(computed-declared) > v.opts.Tolerance+epsilon
}

func (v *Validator) roundAll(inv *models.Invoice) {
	for i := range inv.LineItems {
		item := &inv.LineItems[i]
		item.UnitPrice = v.round(item.UnitPrice)
		item.LineTotal = v.round(item.LineTotal)
	}
	fs := &inv.FinancialSummary
	fs.Subtotal = v.round(fs.Subtotal)
	fs.TaxAmount = v.round(fs.TaxAmount)
	fs.DiscountAmount = v.round(fs.DiscountAmount)
	fs.GrandTotal = v.round(fs.GrandTotal)
}

func (v *Validator) round(a models.Amount) models.Amount {
	return models.Amount(Round(a.Float(), v.opts.Precision))
}

func (v *Validator) format(x float64) string {
	return fmt.Sprintf("%.*f", v.opts.Precision, Round(x, v.opts.Precision))
}

// Round rounds x half away from zero to the given number of decimals.
func Round(x float64, decimals int) float64 {
	p := math.Pow10(decimals)
	r := math.Round(x*p) / p
	if r == 0 {
		// Avoid -0 in output.
		return 0
	}
	return r
}
