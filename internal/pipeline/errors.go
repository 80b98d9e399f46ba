package pipeline

import (
	"errors"
	"fmt"
)

// ExtractionError is returned by the extraction stage. Kind and UserMessage
// are safe to persist and return to callers; Err keeps the provider error
// for logs.
type ExtractionError struct {
	Kind        ErrorKind
	UserMessage string
	Retryable   bool
	Err         error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.UserMessage, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.UserMessage)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func newValidationError(kind ErrorKind, msg string) *ExtractionError {
	return &ExtractionError{Kind: kind, UserMessage: msg}
}

// AsExtractionError reports whether err carries an *ExtractionError.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var target *ExtractionError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsValidationKind reports whether kind is detected locally before any
// provider call.
func IsValidationKind(kind ErrorKind) bool {
	switch kind {
	case KindEmptyFile, KindFileSizeExceeded, KindInvalidDocument:
		return true
	}
	return false
}
