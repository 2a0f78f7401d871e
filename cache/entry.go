// cache/entry.go
package cache

import "time"

// Entry kinds. Every kind shares the same unified TTL so related facts
// expire on the same clock.
const (
	KindSubscription = "subscription"
	KindAccess       = "access"
	KindGeneric      = "generic"
)

// Entry is the envelope stored for every cached value. Entries are owned
// by the cache; callers only ever see the value.
type Entry struct {
	Key       string        `json:"key"`
	Value     interface{}   `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Kind      string        `json:"kind"`
}

func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// BeyondGrace reports whether the entry is too old even for stale reads.
func (e *Entry) BeyondGrace(now time.Time, grace time.Duration) bool {
	return now.After(e.ExpiresAt().Add(grace))
}

func (e *Entry) structurallyValid() bool {
	return e.Key != "" && e.Value != nil && e.TTL > 0 && !e.CreatedAt.IsZero()
}
