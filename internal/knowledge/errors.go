package knowledge

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the error taxonomy. Callers classify with
// errors.Is; detail travels in the wrap message.
var (
	// ErrUnsupportedFormat rejects inputs whose detected format has no
	// extractor (including binary-unknown).
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionFailed marks an extractor failure. Extraction is all or
	// nothing: a failed item never produces partial chunks.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmbeddingFailed marks embedding failure after retries, or a
	// dimension mismatch.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreWrite marks a store write failure; use StoreWriteError to
	// carry the store name.
	ErrStoreWrite = errors.New("store write failed")

	// ErrTimeout marks a deadline hit anywhere in the pipeline.
	ErrTimeout = errors.New("operation timed out")

	// ErrValidation marks malformed caller input; maps to HTTP 400.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing job, document, or session; maps to 404.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an optimistic-concurrency collision; callers retry
	// the operation once before surfacing it.
	ErrConflict = errors.New("conflict")
)

// StoreWriteError wraps ErrStoreWrite with the failing store's name so the
// orchestrator can choose the right compensation path.
type StoreWriteError struct {
	// Store is "rv", "vi", or "gr".
	Store string
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed (%s): %v", e.Store, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStoreWrite) match wrapped StoreWriteErrors.
func (e *StoreWriteError) Is(target error) bool { return target == ErrStoreWrite }

// NewStoreWriteError wraps err as a write failure of the named store.
func NewStoreWriteError(store string, err error) error {
	return &StoreWriteError{Store: store, Err: err}
}

// FailedStore extracts the store name from a write failure, or "".
func FailedStore(err error) string {
	var swe *StoreWriteError
	if errors.As(err, &swe) {
		return swe.Store
	}
	return ""
}

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Extractionf wraps ErrExtractionFailed with a formatted reason.
func Extractionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExtractionFailed, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted subject.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
