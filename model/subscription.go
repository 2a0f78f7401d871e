// model/subscription.go
package model

import "time"

// Subscription is the billing state the platform reports for a subject.
type Subscription struct {
	SubjectID  string    `json:"subject_id"`
	Tier       Tier      `json:"tier"`
	IsActive   bool      `json:"is_active"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}
