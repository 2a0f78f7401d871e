// audit/model.go
package audit

import (
	"time"

	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
)

// Kind tags the payload variant an Entry carries.
type Kind string

const (
	KindApprovalAction     Kind = "approval_action"
	KindPaymentTransaction Kind = "payment_transaction"
	KindSubscriptionChange Kind = "subscription_change"
	KindSecurityViolation  Kind = "security_violation"
	KindSystemEvent        Kind = "system_event"
)

// Valid reports whether k is one of the known entry kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindApprovalAction, KindPaymentTransaction, KindSubscriptionChange,
		KindSecurityViolation, KindSystemEvent:
		return true
	}
	return false
}

// Violation types recorded on security_violation entries.
const (
	ViolationExcessiveRequests   = "excessive_requests"
	ViolationInvalidSubscription = "invalid_subscription"
	ViolationURLTampering        = "url_tampering"
	ViolationExpiredURL          = "expired_url"
	ViolationIntegrityFailure    = "integrity_failure"
	ViolationServiceFailure      = "service_failure"
)

// Subject types stamped on the entry envelope.
const (
	SubjectTypeUser      = "user"
	SubjectTypeAnonymous = "anonymous"
	SubjectTypeSystem    = "system"
)

// Entry is one audit record: a common envelope plus exactly one
// kind-specific payload. Entries are append-only; the checksum is computed
// at creation and never recomputed on the stored copy, so any later change
// to a stored entry shows up during verification.
type Entry struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	SubjectID   string    `json:"subject_id,omitempty"`
	SubjectType string    `json:"subject_type,omitempty"`
	Checksum    string    `json:"integrity_checksum,omitempty"`

	Approval     *ApprovalPayload     `json:"approval,omitempty"`
	Payment      *PaymentPayload      `json:"payment,omitempty"`
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
	Violation    *ViolationPayload    `json:"violation,omitempty"`
	System       *SystemPayload       `json:"system,omitempty"`
}

// ApprovalPayload records a client decision on a review video.
type ApprovalPayload struct {
	VideoID       string `json:"video_id"`
	Action        string `json:"action"` // e.g. "approved", "rejected", "comment"
	ReviewerEmail string `json:"reviewer_email,omitempty"`
	Details       string `json:"details,omitempty"`
}

// PaymentPayload records the outcome of a payment operation.
type PaymentPayload struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Provider      string `json:"provider,omitempty"`
}

// SubscriptionPayload records a tier transition for a subject.
type SubscriptionPayload struct {
	PreviousTier model.Tier `json:"previous_tier,omitempty"`
	NewTier      model.Tier `json:"new_tier"`
	Active       bool       `json:"active"`
}

// ViolationPayload records a security violation.
type ViolationPayload struct {
	ViolationType         string         `json:"violation_type"`
	Severity              model.Severity `json:"severity"`
	Description           string         `json:"description"`
	ResourceID            string         `json:"resource_id,omitempty"`
	SourceIP              string         `json:"source_ip,omitempty"`
	RequiresInvestigation bool           `json:"requires_investigation"`
}

// SystemPayload records an operational event from a component.
type SystemPayload struct {
	Component  string            `json:"component"`
	Event      string            `json:"event"`
	ResourceID string            `json:"resource_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Validate checks that the entry carries exactly the payload its kind
// announces.
func (e *Entry) Validate() error {
	if !e.Kind.Valid() {
		return aegis_errors.ErrInvalidEntry
	}
	payloads := 0
	if e.Approval != nil {
		payloads++
	}
	if e.Payment != nil {
		payloads++
	}
	if e.Subscription != nil {
		payloads++
	}
	if e.Violation != nil {
		payloads++
	}
	if e.System != nil {
		payloads++
	}
	if payloads != 1 {
		return aegis_errors.ErrInvalidEntry
	}
	var matched bool
	switch e.Kind {
	case KindApprovalAction:
		matched = e.Approval != nil
	case KindPaymentTransaction:
		matched = e.Payment != nil
	case KindSubscriptionChange:
		matched = e.Subscription != nil
	case KindSecurityViolation:
		matched = e.Violation != nil
	case KindSystemEvent:
		matched = e.System != nil
	}
	if !matched {
		return aegis_errors.ErrInvalidEntry
	}
	return nil
}

// ResourceID returns the kind-specific resource identifier the entry refers
// to: the video for approvals, the transaction for payments, and so on.
// Subscription changes are keyed by subject, not resource, and return "".
func (e *Entry) ResourceID() string {
	switch e.Kind {
	case KindApprovalAction:
		if e.Approval != nil {
			return e.Approval.VideoID
		}
	case KindPaymentTransaction:
		if e.Payment != nil {
			return e.Payment.TransactionID
		}
	case KindSubscriptionChange:
		return ""
	case KindSecurityViolation:
		if e.Violation != nil {
			return e.Violation.ResourceID
		}
	case KindSystemEvent:
		if e.System != nil {
			return e.System.ResourceID
		}
	}
	return ""
}

// Severity returns the entry's severity, which only violations carry.
func (e *Entry) Severity() model.Severity {
	if e.Kind == KindSecurityViolation && e.Violation != nil {
		return e.Violation.Severity
	}
	return ""
}

// QueryFilter narrows a QueryEntries call. Zero values mean "no filter".
type QueryFilter struct {
	SubjectID  string
	Kind       Kind
	StartTime  time.Time
	EndTime    time.Time
	ResourceID string
	Severity   model.Severity
	Offset     int
	Limit      int
}

// VerificationResult reports an integrity check on a single entry.
type VerificationResult struct {
	EntryID  string `json:"entry_id"`
	IsValid  bool   `json:"is_valid"`
	Tampered bool   `json:"tampered"`
}

// BatchIntegrityReport summarizes a full-log verification pass.
type BatchIntegrityReport struct {
	ProcessedCount int      `json:"processed_count"`
	FailedCount    int      `json:"failed_count"`
	Errors         []string `json:"errors,omitempty"`
}

// Statistics aggregates the stored log for dashboards.
type Statistics struct {
	TotalEntries int                    `json:"total_entries"`
	ByKind       map[Kind]int           `json:"by_kind"`
	BySeverity   map[model.Severity]int `json:"by_severity"`
	OldestEntry  *time.Time             `json:"oldest_entry,omitempty"`
	NewestEntry  *time.Time             `json:"newest_entry,omitempty"`
}
