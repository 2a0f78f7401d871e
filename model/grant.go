// model/grant.go
package model

import "time"

// Tier is a subscription level on the framelane platform.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// AccessRequest asks the issuer for a grant on a protected resource.
// SubjectID empty means anonymous (shared-link viewers).
// DurationHint is the expected viewing duration in seconds.
type AccessRequest struct {
	ResourceID   string `json:"resource_id" binding:"required"`
	SubjectID    string `json:"subject_id,omitempty"`
	DurationHint int    `json:"duration_hint,omitempty"`
	LocationHint string `json:"location_hint,omitempty"`
}

// AccessGrant is a time-bounded permission to fetch a protected resource.
// Grants are immutable once issued; a refresh supersedes the grant rather
// than mutating it.
type AccessGrant struct {
	ResourceID    string    `json:"resource_id"`
	SubjectID     string    `json:"subject_id,omitempty"` // empty = anonymous
	SignedLocator string    `json:"signed_locator"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	TierRequired  Tier      `json:"tier_required"`
	TierVerified  bool      `json:"tier_verified"`
	RefreshToken  string    `json:"refresh_token"`
}

// ExpiresIn returns the remaining validity relative to now.
func (g *AccessGrant) ExpiresIn(now time.Time) time.Duration {
	return g.ExpiresAt.Sub(now)
}

// Expired reports whether the grant is past its expiry at now.
func (g *AccessGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}
