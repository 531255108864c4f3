package chat

import (
	"github.com/pkg/errors"
)

// ValidationError rejects a submission before any tree mutation, so no
// rollback is ever needed for it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidationError reports whether err is a pre-mutation rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	ErrSessionClosed = errors.New("session is closed")
)

// Rollback reasons, one per trigger site.
const (
	reasonTransport = "transport"
	reasonProtocol  = "protocol"
)
