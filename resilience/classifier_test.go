package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
)

func TestClassifyMessageTable(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Classification
	}{
		{
			name:    "tampering is critical",
			message: "entry checksum mismatch detected",
			want:    Classification{Kind: KindTamper, Severity: model.SeverityCritical},
		},
		{
			name:    "audit failures are critical",
			message: "audit backend rejected write",
			want:    Classification{Kind: KindIntegration, Severity: model.SeverityCritical},
		},
		{
			name:    "payment failures are high",
			message: "payment gateway declined transaction",
			want:    Classification{Kind: KindIntegration, Severity: model.SeverityHigh},
		},
		{
			name:    "authorization text is high",
			message: "upstream returned 403 forbidden",
			want:    Classification{Kind: KindIntegration, Severity: model.SeverityHigh},
		},
		{
			name:    "rate limiting is recoverable",
			message: "rate limit exceeded for subject",
			want:    Classification{Kind: KindRateLimit, Severity: model.SeverityMedium, Recoverable: true},
		},
		{
			name:    "not found is terminal",
			message: "resource not found",
			want:    Classification{Kind: KindNotFound, Severity: model.SeverityLow},
		},
		{
			name:    "validation is medium",
			message: "invalid duration hint",
			want:    Classification{Kind: KindValidation, Severity: model.SeverityMedium},
		},
		{
			name:    "connection reset is retryable",
			message: "read tcp: connection reset by peer",
			want:    Classification{Kind: KindServiceUnavailable, Severity: model.SeverityLow, Recoverable: true, Retryable: true},
		},
		{
			name:    "timeout is retryable",
			message: "request timed out after 5s",
			want:    Classification{Kind: KindTimeout, Severity: model.SeverityLow, Recoverable: true, Retryable: true},
		},
		{
			name:    "network trouble is recoverable",
			message: "dial tcp 10.0.0.1:443: no route to host network is down",
			want:    Classification{Kind: KindIntegration, Severity: model.SeverityLow, Recoverable: true},
		},
		{
			name:    "unknown defaults to low integration",
			message: "something odd happened",
			want:    Classification{Kind: KindIntegration, Severity: model.SeverityLow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(errors.New(tt.message))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyPrefersTypedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("calling billing: %w", aegis_errors.ErrRateLimitExceeded)
	got := Classify(wrapped)
	assert.Equal(t, KindRateLimit, got.Kind)
	assert.Equal(t, model.SeverityMedium, got.Severity)
	assert.True(t, got.Recoverable)

	got = Classify(aegis_errors.ErrTamperDetected)
	assert.Equal(t, KindTamper, got.Kind)
	assert.Equal(t, model.SeverityCritical, got.Severity)

	got = Classify(aegis_errors.ErrSubscriptionUnverified)
	assert.Equal(t, KindSubscription, got.Kind)
	assert.Equal(t, model.SeverityHigh, got.Severity)

	got = Classify(context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, got.Kind)
	assert.True(t, got.Retryable)

	got = Classify(fmt.Errorf("media-signer: %w", aegis_errors.ErrResourceNotFound))
	assert.Equal(t, KindNotFound, got.Kind)
	assert.False(t, got.Retryable)
}

func TestClassifyRateLimitErrorValue(t *testing.T) {
	err := &aegis_errors.RateLimitError{SubjectID: "user-1", RetryAfter: 42 * time.Second}
	got := Classify(err)
	assert.Equal(t, KindRateLimit, got.Kind)
	assert.True(t, got.Recoverable)
}
