package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"580.00", 580},
		{"7.303,08", 7303.08},
		{"1,234.56", 1234.56},
		{"1234,5", 1234.5},
		{"1,234", 1234},
		{"€ 12,99", 12.99},
		{"$4.98", 4.98},
		{"(12.00)", -12},
		{"-3.50", -3.5},
		{"19%", 19},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ParseAmount("n/a")
	assert.Error(t, err)
}

func TestAmount_UnmarshalJSON_Lenient(t *testing.T) {
	var item LineItem
	err := json.Unmarshal([]byte(`{"description":"Widget","quantity":"2","unit_price":null,"line_total":"abc"}`), &item)
	require.NoError(t, err)

	assert.Equal(t, "Widget", item.Description)
	assert.Equal(t, Amount(2), item.Quantity)
	assert.Equal(t, Amount(0), item.UnitPrice)
	assert.Equal(t, Amount(0), item.LineTotal)
}

func TestAmount_UnmarshalJSON_ObjectDefaultsToZero(t *testing.T) {
	var fs FinancialSummary
	err := json.Unmarshal([]byte(`{"subtotal":{"value":3},"grand_total":true,"tax_amount":0.4}`), &fs)
	require.NoError(t, err)

	assert.Equal(t, Amount(0), fs.Subtotal)
	assert.Equal(t, Amount(0), fs.GrandTotal)
	assert.InDelta(t, 0.4, fs.TaxAmount.Float(), 1e-9)
}

func TestParty_UnmarshalJSON(t *testing.T) {
	var inv Invoice
	err := json.Unmarshal([]byte(`{"vendor":"ACME GmbH","client":{"name":"Globex","tax_id":"DE123"}}`), &inv)
	require.NoError(t, err)

	assert.Equal(t, "ACME GmbH", inv.Vendor.Name)
	assert.Equal(t, "Globex", inv.Client.Name)
	assert.Equal(t, "DE123", inv.Client.TaxID)
}

func TestInvoice_CloneIsIndependent(t *testing.T) {
	orig := Invoice{LineItems: []LineItem{{Description: "a", LineTotal: 1}}}
	cp := orig.Clone()
	cp.LineItems[0].LineTotal = 5

	assert.Equal(t, Amount(1), orig.LineItems[0].LineTotal)
}

func TestParseRegionType(t *testing.T) {
	assert.Equal(t, RegionKeyValue, ParseRegionType("key_value"))
	assert.Equal(t, RegionKeyValue, ParseRegionType("KV"))
	assert.Equal(t, RegionTable, ParseRegionType("Table"))
	assert.Equal(t, RegionUnknown, ParseRegionType("figure"))

	var r RecognitionRegion
	require.NoError(t, json.Unmarshal([]byte(`{"text":"x","type":"page_footer","confidence":0.9}`), &r))
	assert.Equal(t, RegionFooter, r.Type)
}

func TestRecognitionResult_IsEmpty(t *testing.T) {
	var nilResult *RecognitionResult
	assert.True(t, nilResult.IsEmpty())
	assert.True(t, (&RecognitionResult{Text: "  \n"}).IsEmpty())
	assert.False(t, (&RecognitionResult{Text: "Invoice"}).IsEmpty())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusValid, StatusFor(ValidationReport{ArithmeticValid: true}))
	assert.Equal(t, StatusCorrected, StatusFor(ValidationReport{Notes: []string{"x"}}))
}
