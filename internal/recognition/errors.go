package recognition

import (
	"errors"
	"fmt"
)

// Common recognition errors
var (
	// ErrDocumentTooLarge is returned when a document exceeds the provider's
	// synchronous size limit (20MB for the Google APIs).
	ErrDocumentTooLarge = errors.New("document exceeds the maximum size (20MB)")

	// ErrUnsupportedFormat is returned when the bytes are not a PDF or an image
	// format the provider accepts.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrRecognitionFailed is returned when the remote service rejects or fails
	// the request.
	ErrRecognitionFailed = errors.New("recognition failed")

	// ErrMissingCredentials is returned when a provider has no credentials
	// configured.
	ErrMissingCredentials = errors.New("missing provider credentials")

	// ErrInvalidConfiguration is returned for incomplete provider settings.
	ErrInvalidConfiguration = errors.New("invalid provider configuration")

	// ErrTooManyPages is returned when a PDF has more pages than synchronous
	// processing allows.
	ErrTooManyPages = errors.New("document has too many pages (maximum 5 pages for synchronous processing)")

	// ErrEmptyDocument is returned when the document contains no readable text.
	ErrEmptyDocument = errors.New("document contains no readable text")

	// ErrQuotaExceeded is returned when the provider reports exhausted quota.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrNotBuilt is returned by providers compiled out of this binary.
	ErrNotBuilt = errors.New("provider not included in this build")
)

// RecognitionError wraps errors with the provider and the failed operation.
type RecognitionError struct {
	// Provider is the registry name of the provider (e.g., "google-vision").
	Provider string

	// Op is the operation that failed (e.g., "Parse", "NewAzure").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *RecognitionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("recognition[%s]: %s failed: %s: %v", e.Provider, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("recognition[%s]: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

func (e *RecognitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps err as a RecognitionError if it isn't already one.
func wrapError(provider, op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return err
	}

	return &RecognitionError{
		Provider: provider,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}
