//go:build !tesseract

package recognition

import "finscribe/internal/config"

// NewTesseract reports ErrNotBuilt. Build with -tags tesseract (requires
// libtesseract) to enable local OCR.
func NewTesseract(config.TesseractSection) (Provider, error) {
	return nil, wrapError(tesseractName, "NewTesseract", ErrNotBuilt, "rebuild with -tags tesseract")
}
