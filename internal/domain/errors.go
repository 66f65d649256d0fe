package domain

import (
	"errors"
	"fmt"
)

// Failure sentinels. Every error returned by the pipeline matches exactly
// one of these with errors.Is.
var (
	ErrEnvironmentUnsupported  = errors.New("environment unsupported: no rendering backend available")
	ErrDecryptionFailed        = errors.New("decryption failed")
	ErrRenderFailed            = errors.New("render failed")
	ErrExtractionFailed        = errors.New("extraction failed")
	ErrMalformedExtraction     = errors.New("malformed extraction")
	ErrUnclassifiedTransaction = errors.New("unclassified transaction")
	ErrEmptyStatement          = errors.New("empty statement")
	ErrCancelled               = errors.New("cancelled")

	// ErrInvalidSettings is a caller error detected before any stage runs.
	ErrInvalidSettings = errors.New("invalid settings")
)

// DecryptionError reports a missing or wrong password on an encrypted document.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	if e.Err == nil {
		return ErrDecryptionFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrDecryptionFailed, e.Err)
}

func (e *DecryptionError) Unwrap() error        { return e.Err }
func (e *DecryptionError) Is(target error) bool { return target == ErrDecryptionFailed }

// RenderError reports a page that could not be rasterized.
// Page is 1-based; 0 means the document itself could not be opened.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("%s: open document: %v", ErrRenderFailed, e.Err)
	}
	return fmt.Sprintf("%s: page %d: %v", ErrRenderFailed, e.Page, e.Err)
}

func (e *RenderError) Unwrap() error        { return e.Err }
func (e *RenderError) Is(target error) bool { return target == ErrRenderFailed }

// ExtractionError carries the upstream cause of a failed extraction call.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrExtractionFailed, e.Err)
}

func (e *ExtractionError) Unwrap() error        { return e.Err }
func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }

// MalformedExtractionError reports a response that does not satisfy the
// extraction schema. Raw holds the offending response text, if any.
type MalformedExtractionError struct {
	Reason string
	Raw    string
}

func (e *MalformedExtractionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedExtraction, e.Reason)
}

func (e *MalformedExtractionError) Is(target error) bool { return target == ErrMalformedExtraction }

// UnclassifiedTransactionError identifies the transaction that has no valid
// taxonomy category. Index is its 0-based position in extraction order.
type UnclassifiedTransactionError struct {
	Index       int
	Transaction RawTransaction
}

func (e *UnclassifiedTransactionError) Error() string {
	name := "<none>"
	if e.Transaction.Category != nil {
		name = fmt.Sprintf("%q", e.Transaction.Category.Name)
	}
	return fmt.Sprintf("%s: item %d (%s) has category %s", ErrUnclassifiedTransaction, e.Index, e.Transaction, name)
}

func (e *UnclassifiedTransactionError) Is(target error) bool {
	return target == ErrUnclassifiedTransaction
}

// CancelledError reports a caller-initiated abort or timeout.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	if e.Err == nil {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled, e.Err)
}

func (e *CancelledError) Unwrap() error        { return e.Err }
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// ErrorKind maps err to a stable identifier for logs, API responses,
// metrics and the run ledger.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrEnvironmentUnsupported):
		return "environment_unsupported"
	case errors.Is(err, ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, ErrRenderFailed):
		return "render_failed"
	case errors.Is(err, ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, ErrMalformedExtraction):
		return "malformed_extraction"
	case errors.Is(err, ErrUnclassifiedTransaction):
		return "unclassified_transaction"
	case errors.Is(err, ErrEmptyStatement):
		return "empty_statement"
	case errors.Is(err, ErrInvalidSettings):
		return "invalid_settings"
	default:
		return "internal"
	}
}

// IsRetryable reports whether a caller may retry the same request.
// Only upstream extraction failures qualify; everything else would fail
// the same way again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExtractionFailed) && !errors.Is(err, ErrCancelled)
}
