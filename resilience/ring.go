// resilience/ring.go
package resilience

import "time"

// errorRing retains the most recent errors for one component, dropping the
// oldest once capacity is reached. Not safe for concurrent use; callers
// hold the orchestrator lock.
type errorRing struct {
	buf  []ServiceError
	next int
	full bool
}

func newErrorRing(capacity int) *errorRing {
	return &errorRing{buf: make([]ServiceError, capacity)}
}

func (r *errorRing) append(err ServiceError) {
	r.buf[r.next] = err
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns retained errors oldest first.
func (r *errorRing) snapshot() []ServiceError {
	if !r.full {
		out := make([]ServiceError, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]ServiceError, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *errorRing) countSince(cutoff time.Time) int {
	count := 0
	for _, err := range r.snapshot() {
		if !err.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

func (r *errorRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}
