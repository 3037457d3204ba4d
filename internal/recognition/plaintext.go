package recognition

import (
	"context"
	"strings"
	"time"

	"finscribe/pkg/models"
)

const (
	plainTextName = "plaintext"
	tesseractName = "tesseract"
)

// PlainText accepts documents that already are UTF-8 text, such as e-mailed
// receipts or exported OCR text. The text becomes fallback text only, so the
// structurer applies its raw-text rules to it.
type PlainText struct{}

// NewPlainText creates the provider.
func NewPlainText() *PlainText { return &PlainText{} }

func (PlainText) Name() string { return plainTextName }

func (PlainText) ModelVersion() string { return "plaintext-v1" }

func (p PlainText) Parse(_ context.Context, document []byte) (*models.RecognitionResult, error) {
	const op = "Parse"
	start := time.Now()

	if err := checkSize(plainTextName, op, document); err != nil {
		return nil, err
	}
	if DetectMIME(document) != MIMEText {
		return nil, wrapError(plainTextName, op, ErrUnsupportedFormat, "not UTF-8 text")
	}
	text := strings.TrimSpace(string(document))
	if text == "" {
		return nil, wrapError(plainTextName, op, ErrEmptyDocument, "")
	}
	return finish(&models.RecognitionResult{Text: text, PageCount: 1}, p, start), nil
}
