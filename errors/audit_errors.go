// errors/audit_errors.go
package errors

import "errors"

var (
	ErrTamperDetected   = errors.New("audit entry integrity violation")
	ErrEntryNotFound    = errors.New("audit entry not found")
	ErrInvalidEntry     = errors.New("invalid audit entry")
	ErrMissingSecret    = errors.New("audit secret not configured")
	ErrInvalidQueryData = errors.New("invalid audit query")
)
