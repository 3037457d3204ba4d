package models

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Amount is a monetary or rate value. It decodes leniently: JSON numbers,
// numeric strings in English or German notation, and strings carrying
// currency symbols are accepted; null, empty and non-numeric values decode to 0.
type Amount float64

// Float returns the amount as float64.
func (a Amount) Float() float64 { return float64(a) }

var reAmountNoise = regexp.MustCompile(`[^0-9.,\-]`)

// UnmarshalJSON implements lenient decoding.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*a = 0
		return nil
	}
	switch v := raw.(type) {
	case float64:
		*a = Amount(finite(v))
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			*a = 0
			return nil
		}
		*a = Amount(parsed)
	default:
		*a = 0
	}
	return nil
}

// ParseAmount parses an amount string handling both German (1.234,56) and
// English (1,234.56) formats, currency symbols and accounting parentheses.
func ParseAmount(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	negative := strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")")
	cleaned = reAmountNoise.ReplaceAllString(cleaned, "")

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The separator that comes last is the decimal separator.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	if negative && v > 0 {
		v = -v
	}
	return finite(v), nil
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Party is a vendor or client. It decodes from either a bare name string or
// an object.
type Party struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

// UnmarshalJSON accepts "ACME GmbH" as well as {"name": "ACME GmbH", ...}.
func (p *Party) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = Party{Name: strings.TrimSpace(name)}
		return nil
	}
	type plain Party
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		*p = Party{}
		return nil
	}
	*p = Party(obj)
	return nil
}

// LineItem is a single billed position.
type LineItem struct {
	Description string `json:"description"`
	Quantity    Amount `json:"quantity"`
	UnitPrice   Amount `json:"unit_price"`
	LineTotal   Amount `json:"line_total"`
}

// FinancialSummary carries the declared totals of an invoice.
type FinancialSummary struct {
	Subtotal  Amount `json:"subtotal"`
	TaxAmount Amount `json:"tax_amount"`
	// TaxRate is optional; 0 means absent.
	TaxRate Amount `json:"tax_rate,omitempty"`
	// DiscountAmount is optional; 0 means absent.
	DiscountAmount Amount `json:"discount_amount,omitempty"`
	GrandTotal     Amount `json:"grand_total"`
	Currency       string `json:"currency"`
}

// Invoice is the structured financial record produced by enrichment.
type Invoice struct {
	InvoiceNumber    string           `json:"invoice_number,omitempty"`
	InvoiceDate      string           `json:"invoice_date,omitempty"`
	DueDate          string           `json:"due_date,omitempty"`
	Vendor           Party            `json:"vendor"`
	Client           Party            `json:"client"`
	LineItems        []LineItem       `json:"line_items"`
	FinancialSummary FinancialSummary `json:"financial_summary"`
}

// Clone returns a deep copy of the invoice.
func (inv Invoice) Clone() Invoice {
	out := inv
	if inv.LineItems != nil {
		out.LineItems = make([]LineItem, len(inv.LineItems))
		copy(out.LineItems, inv.LineItems)
	}
	return out
}

// ValidationReport is paired 1:1 with a validated invoice. Notes are ordered
// by the sequence of checks performed.
type ValidationReport struct {
	ArithmeticValid bool     `json:"arithmetic_valid"`
	Notes           []string `json:"notes"`
}

// EnrichmentResult is the output of an enrichment provider.
type EnrichmentResult struct {
	StructuredData   Invoice            `json:"structured_data"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
	ModelVersion     string             `json:"model_version"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
	Status           string             `json:"status"`
}
