package models

import "encoding/json"

// Status values reported by the remote validation service.
const (
	StatusValid           = "valid"
	StatusCorrected       = "corrected"
	StatusUnrepresentable = "unrepresentable"
	StatusFailed          = "failed"
)

// ValidationRequest is the request body of the remote validation service.
// At least one of OCRText or OCRJSON must be set.
type ValidationRequest struct {
	DocID   string          `json:"doc_id,omitempty"`
	OCRText string          `json:"ocr_text,omitempty"`
	OCRJSON json.RawMessage `json:"ocr_json,omitempty"`
}

// CorrectedInvoice is a validated invoice together with its report.
type CorrectedInvoice struct {
	Invoice
	Validation ValidationReport `json:"validation"`
}

// ValidationResponse is the response body of the remote validation service.
type ValidationResponse struct {
	DocID     string            `json:"doc_id"`
	Status    string            `json:"status"`
	Corrected *CorrectedInvoice `json:"corrected,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// StatusFor derives the service status from a validation report.
func StatusFor(report ValidationReport) string {
	if report.ArithmeticValid {
		return StatusValid
	}
	return StatusCorrected
}
