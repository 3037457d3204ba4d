// Package connectors pushes validated invoices to accounting and export
// destinations.
//
// Connectors:
//   - sheets: appends rows to a Google Sheets worksheet
//   - jsonl: appends JSON lines to a local file or stdout
package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finscribe/pkg/models"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidSheetURL    = errors.New("invalid Google Sheets URL format")
)

// Record is one processed document handed to a connector.
type Record struct {
	DocID   string                   `json:"doc_id"`
	Source  string                   `json:"source,omitempty"`
	Invoice *models.Invoice          `json:"invoice,omitempty"`
	Report  *models.ValidationReport `json:"validation,omitempty"`
	Status  string                   `json:"status"`
	Error   string                   `json:"error,omitempty"`
}

// Document names the record in exports: the source file when known,
// otherwise the document ID.
func (r Record) Document() string {
	if r.Source != "" {
		return r.Source
	}
	return r.DocID
}

// Pusher is the push capability.
type Pusher interface {
	Name() string
	Push(ctx context.Context, records []Record) error
}

// PushError wraps connector failures with the connector name.
type PushError struct {
	Connector string
	Op        string
	Err       error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("connector[%s]: %s failed: %v", e.Connector, e.Op, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// normalizeCurrency standardizes currency codes to ISO 4217 where the symbol
// or name is unambiguous.
func normalizeCurrency(currency string) string {
	normalized := strings.ToUpper(strings.TrimSpace(currency))

	switch normalized {
	case "":
		return ""
	case "€", "EURO", "EUROS", "EUR":
		return "EUR"
	case "$", "DOLLAR", "DOLLARS", "USD", "US$":
		return "USD"
	case "£", "POUND", "POUNDS", "GBP":
		return "GBP"
	case "¥", "YEN", "JPY":
		return "JPY"
	case "CHF", "FRANKEN", "SWISS FRANC":
		return "CHF"
	default:
		return normalized
	}
}
