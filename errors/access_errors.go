// errors/access_errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest          = errors.New("invalid access request")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrSubscriptionUnverified  = errors.New("subscription could not be verified")
	ErrSubscriptionInactive    = errors.New("subscription is not active")
	ErrResourceNotFound        = errors.New("resource not found")
	ErrTokenExpired            = errors.New("refresh token expired")
	ErrTokenTampered           = errors.New("refresh token tampered")
	ErrGrantExpired            = errors.New("access grant expired")
	ErrGrantInvalid            = errors.New("access grant invalid")
)

// RateLimitError carries the remaining wait before the subject's window
// resets. errors.Is(err, ErrRateLimitExceeded) matches it.
type RateLimitError struct {
	SubjectID  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many access requests, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
