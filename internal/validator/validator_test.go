package validator

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finscribe/pkg/models"
)

func groceryItems() []models.LineItem {
	return []models.LineItem{
		{Description: "Milk", Quantity: 1, UnitPrice: 2.99, LineTotal: 2.99},
		{Description: "Bread", Quantity: 1, UnitPrice: 1.99, LineTotal: 1.99},
	}
}

func TestValidate_CorrectsSubtotalAndGrandTotal(t *testing.T) {
	inv := models.Invoice{
		LineItems: groceryItems(),
		FinancialSummary: models.FinancialSummary{
			Subtotal:   3.98,
			TaxAmount:  0.40,
			GrandTotal: 5.28,
			Currency:   "USD",
		},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.Equal(t, models.Amount(4.98), out.FinancialSummary.Subtotal)
	assert.Equal(t, models.Amount(5.38), out.FinancialSummary.GrandTotal)
	assert.Equal(t, models.Amount(0.40), out.FinancialSummary.TaxAmount)
	assert.False(t, report.ArithmeticValid)
	require.Len(t, report.Notes, 2)
	assert.True(t, strings.HasPrefix(report.Notes[0], NoteSubtotalMismatch))
	assert.True(t, strings.HasPrefix(report.Notes[1], NoteGrandTotalMismatch))
	assert.Equal(t, "subtotal_mismatch: declared 3.98, computed 4.98", report.Notes[0])

	assert.Equal(t, models.Amount(3.98), inv.FinancialSummary.Subtotal, "input is not mutated")
}

func TestValidate_ConsistentInvoiceUnchanged(t *testing.T) {
	inv := models.Invoice{
		LineItems: groceryItems(),
		FinancialSummary: models.FinancialSummary{
			Subtotal:   4.98,
			TaxAmount:  0.40,
			GrandTotal: 5.38,
		},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.Equal(t, inv, out)
	assert.True(t, report.ArithmeticValid)
	assert.Empty(t, report.Notes)
	assert.NotNil(t, report.Notes)
}

func TestValidate_Idempotent(t *testing.T) {
	v := New(DefaultOptions())
	inv := models.Invoice{
		LineItems: []models.LineItem{
			{Quantity: 3, UnitPrice: 0.3333, LineTotal: 1.0049},
			{Quantity: 1, UnitPrice: 1.005, LineTotal: 1.005},
		},
		FinancialSummary: models.FinancialSummary{Subtotal: 7, TaxRate: 0.0725, DiscountAmount: 0.115, GrandTotal: 1},
	}

	first, r1 := v.Validate(inv)
	second, r2 := v.Validate(first)

	assert.False(t, r1.ArithmeticValid)
	assert.Equal(t, first, second)
	assert.True(t, r2.ArithmeticValid)
	assert.Empty(t, r2.Notes)
}

func TestValidate_TaxFromRate(t *testing.T) {
	inv := models.Invoice{
		LineItems:        []models.LineItem{{Quantity: 1, UnitPrice: 100, LineTotal: 100}},
		FinancialSummary: models.FinancialSummary{Subtotal: 100, TaxRate: 0.19, GrandTotal: 119},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.Equal(t, models.Amount(19), out.FinancialSummary.TaxAmount)
	assert.True(t, report.ArithmeticValid, report.Notes)
	assert.Empty(t, report.Notes)
}

func TestValidate_TaxRateIsAFraction(t *testing.T) {
	inv := models.Invoice{
		LineItems:        []models.LineItem{{LineTotal: 100}},
		FinancialSummary: models.FinancialSummary{Subtotal: 100, TaxRate: 19, GrandTotal: 119},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.Equal(t, models.Amount(1900), out.FinancialSummary.TaxAmount)
	assert.Equal(t, models.Amount(2000), out.FinancialSummary.GrandTotal)
	require.Len(t, report.Notes, 1)
	assert.True(t, strings.HasPrefix(report.Notes[0], NoteGrandTotalMismatch))
}

func TestValidate_DeclaredTaxWinsOverRate(t *testing.T) {
	inv := models.Invoice{
		LineItems:        []models.LineItem{{LineTotal: 100}},
		FinancialSummary: models.FinancialSummary{Subtotal: 100, TaxAmount: 7, TaxRate: 0.19, GrandTotal: 107},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.Equal(t, models.Amount(7), out.FinancialSummary.TaxAmount)
	assert.True(t, report.ArithmeticValid)
}

func TestValidate_Discount(t *testing.T) {
	inv := models.Invoice{
		LineItems:        []models.LineItem{{LineTotal: 50}, {LineTotal: 50}},
		FinancialSummary: models.FinancialSummary{Subtotal: 100, TaxAmount: 10, DiscountAmount: 15, GrandTotal: 110},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.Equal(t, models.Amount(95), out.FinancialSummary.GrandTotal)
	require.Len(t, report.Notes, 1)
	assert.True(t, strings.HasPrefix(report.Notes[0], NoteGrandTotalMismatch))
}

func TestValidate_WithinTolerance(t *testing.T) {
	inv := models.Invoice{
		LineItems:        groceryItems(),
		FinancialSummary: models.FinancialSummary{Subtotal: 4.97, TaxAmount: 0.40, GrandTotal: 5.37},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.True(t, report.ArithmeticValid)
	assert.Equal(t, models.Amount(4.97), out.FinancialSummary.Subtotal, "differences within tolerance are kept")
}

func TestValidate_ZeroLineTotalsKept(t *testing.T) {
	inv := models.Invoice{
		LineItems:        []models.LineItem{{Description: "Sample", Quantity: 2, UnitPrice: 5, LineTotal: 0}},
		FinancialSummary: models.FinancialSummary{Subtotal: 0, TaxAmount: 0, GrandTotal: 0},
	}

	out, report := New(DefaultOptions()).Validate(inv)

	assert.True(t, report.ArithmeticValid)
	assert.Empty(t, report.Notes)
	assert.Equal(t, models.Amount(0), out.LineItems[0].LineTotal)
	assert.Equal(t, models.Amount(0), out.FinancialSummary.Subtotal)
	assert.Equal(t, models.Amount(0), out.FinancialSummary.GrandTotal)
}

func TestValidate_ZeroDecimalCurrency(t *testing.T) {
	v := New(Options{Tolerance: 1, Precision: 0})
	inv := models.Invoice{
		LineItems:        []models.LineItem{{LineTotal: 1200}, {LineTotal: 800}},
		FinancialSummary: models.FinancialSummary{Subtotal: 2000, TaxAmount: 200.4, GrandTotal: 2200, Currency: "JPY"},
	}

	out, report := v.Validate(inv)

	assert.True(t, report.ArithmeticValid, report.Notes)
	assert.Equal(t, models.Amount(200), out.FinancialSummary.TaxAmount)
}

func TestValidateJSON_LenientFields(t *testing.T) {
	raw := []byte(`{
		"vendor": "Corner Shop",
		"line_items": [
			{"description": "Milk", "quantity": "1", "unit_price": "2,99", "line_total": "2,99"},
			{"description": "Bread", "quantity": 1, "unit_price": 1.99, "line_total": "$1.99"}
		],
		"financial_summary": {"subtotal": "n/a", "tax_amount": "0.40", "grand_total": null}
	}`)

	out, report := New(DefaultOptions()).ValidateJSON(raw)

	assert.Equal(t, "Corner Shop", out.Vendor.Name)
	assert.Equal(t, models.Amount(4.98), out.FinancialSummary.Subtotal)
	assert.Equal(t, models.Amount(5.38), out.FinancialSummary.GrandTotal)
	assert.Len(t, report.Notes, 2)
}

func TestValidateJSON_Malformed(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2,3]`, ``} {
		out, report := New(DefaultOptions()).ValidateJSON([]byte(raw))

		assert.Equal(t, models.Invoice{}, out)
		assert.False(t, report.ArithmeticValid)
		require.Len(t, report.Notes, 1)
		assert.True(t, strings.HasPrefix(report.Notes[0], NoteMalformedInvoice))
	}
}

func TestValidate_ToleranceInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	v := New(DefaultOptions())

	for i := 0; i < 200; i++ {
		var items []models.LineItem
		for j := 0; j < rng.Intn(8); j++ {
			items = append(items, models.LineItem{LineTotal: models.Amount(rng.Float64() * 500)})
		}
		inv := models.Invoice{
			LineItems: items,
			FinancialSummary: models.FinancialSummary{
				Subtotal:       models.Amount(rng.Float64() * 1000),
				TaxAmount:      models.Amount(rng.Float64() * 100),
				DiscountAmount: models.Amount(rng.Float64() * 20),
				GrandTotal:     models.Amount(rng.Float64() * 1000),
			},
		}

		out, _ := v.Validate(inv)

		sum := 0.0
		for _, item := range out.LineItems {
			sum += item.LineTotal.Float()
		}
		fs := out.FinancialSummary
		assert.LessOrEqual(t, math.Abs(sum-fs.Subtotal.Float()), 0.01+1e-9)
		assert.LessOrEqual(t, math.Abs(fs.Subtotal.Float()+fs.TaxAmount.Float()-fs.DiscountAmount.Float()-fs.GrandTotal.Float()), 0.01+1e-9)

		_, again := v.Validate(out)
		assert.True(t, again.ArithmeticValid, again.Notes)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.01, Round(1.005000001, 2))
	assert.Equal(t, 0.0, Round(-0.001, 2))
	assert.Equal(t, 3.0, Round(2.5, 0))
}
