// resilience/classifier.go
package resilience

import (
	"context"
	"errors"
	"strings"
	"time"

	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
)

// ErrorKind buckets a failure for propagation policy decisions.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindRateLimit          ErrorKind = "rate_limit"
	KindSubscription       ErrorKind = "subscription_unverified"
	KindTamper             ErrorKind = "tamper_detected"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindTimeout            ErrorKind = "timeout"
	KindNotFound           ErrorKind = "not_found"
	KindIntegration        ErrorKind = "integration"
)

// Classification describes how one failure should be treated: whether the
// system can recover on its own, whether a retry is worthwhile, and how
// loudly to escalate.
type Classification struct {
	Kind        ErrorKind
	Severity    model.Severity
	Recoverable bool
	Retryable   bool
}

// ServiceError is one classified failure retained for observability. It is
// kept in a bounded per-component buffer and never persisted.
type ServiceError struct {
	Kind        ErrorKind      `json:"kind"`
	Message     string         `json:"message"`
	Severity    model.Severity `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Retryable   bool           `json:"retryable"`
	Component   string         `json:"component"`
	Operation   string         `json:"operation,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// classificationRules maps message fragments to classifications. Rules are
// evaluated in order; the first rule with a matching fragment wins.
var classificationRules = []struct {
	fragments   []string
	kind        ErrorKind
	severity    model.Severity
	recoverable bool
	retryable   bool
}{
	{
		fragments: []string{"tamper", "integrity", "checksum"},
		kind:      KindTamper,
		severity:  model.SeverityCritical,
	},
	{
		fragments: []string{"audit", "security"},
		kind:      KindIntegration,
		severity:  model.SeverityCritical,
	},
	{
		fragments: []string{"payment", "transaction"},
		kind:      KindIntegration,
		severity:  model.SeverityHigh,
	},
	{
		fragments: []string{"unauthorized", "forbidden", "authorization"},
		kind:      KindIntegration,
		severity:  model.SeverityHigh,
	},
	{
		fragments:   []string{"rate limit", "too many"},
		kind:        KindRateLimit,
		severity:    model.SeverityMedium,
		recoverable: true,
	},
	{
		fragments: []string{"not found", "no such", "does not exist"},
		kind:      KindNotFound,
		severity:  model.SeverityLow,
	},
	{
		fragments: []string{"validation", "invalid", "malformed", "missing"},
		kind:      KindValidation,
		severity:  model.SeverityMedium,
	},
	{
		fragments:   []string{"connection reset", "connection refused", "broken pipe", "unavailable"},
		kind:        KindServiceUnavailable,
		severity:    model.SeverityLow,
		recoverable: true,
		retryable:   true,
	},
	{
		fragments:   []string{"timeout", "timed out", "deadline exceeded"},
		kind:        KindTimeout,
		severity:    model.SeverityLow,
		recoverable: true,
		retryable:   true,
	},
	{
		fragments:   []string{"network", "dial tcp", "dns", "eof"},
		kind:        KindIntegration,
		severity:    model.SeverityLow,
		recoverable: true,
	},
}

// Classify is a pure function from an error to its classification. Typed
// sentinels are matched first; anything else falls through to the message
// rule table.
func Classify(err error) Classification {
	switch {
	case errors.Is(err, aegis_errors.ErrTamperDetected):
		return Classification{Kind: KindTamper, Severity: model.SeverityCritical}
	case errors.Is(err, aegis_errors.ErrRateLimitExceeded):
		return Classification{Kind: KindRateLimit, Severity: model.SeverityMedium, Recoverable: true}
	case errors.Is(err, aegis_errors.ErrSubscriptionUnverified),
		errors.Is(err, aegis_errors.ErrSubscriptionInactive):
		return Classification{Kind: KindSubscription, Severity: model.SeverityHigh}
	case errors.Is(err, aegis_errors.ErrResourceNotFound):
		return Classification{Kind: KindNotFound, Severity: model.SeverityLow}
	case errors.Is(err, aegis_errors.ErrServiceUnavailable):
		return Classification{Kind: KindServiceUnavailable, Severity: model.SeverityLow, Recoverable: true, Retryable: true}
	case errors.Is(err, aegis_errors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Classification{Kind: KindTimeout, Severity: model.SeverityLow, Recoverable: true, Retryable: true}
	case errors.Is(err, aegis_errors.ErrUnauthorized):
		return Classification{Kind: KindIntegration, Severity: model.SeverityHigh}
	case errors.Is(err, aegis_errors.ErrInvalidRequest):
		return Classification{Kind: KindValidation, Severity: model.SeverityMedium}
	}
	return classifyMessage(err.Error())
}

func classifyMessage(message string) Classification {
	lowered := strings.ToLower(message)
	for _, rule := range classificationRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(lowered, fragment) {
				return Classification{
					Kind:        rule.kind,
					Severity:    rule.severity,
					Recoverable: rule.recoverable,
					Retryable:   rule.retryable,
				}
			}
		}
	}
	return Classification{Kind: KindIntegration, Severity: model.SeverityLow}
}
