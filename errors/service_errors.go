// errors/service_errors.go
package errors

import "errors"

var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrIntegration        = errors.New("integration failure")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidPagination  = errors.New("invalid pagination parameters")
)
