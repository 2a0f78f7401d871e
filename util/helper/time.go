// util/helper/time.go
package helper_util

import "time"

// ParseTime parses an RFC3339 timestamp from a query parameter; empty input
// yields the zero time, which query filters treat as "unbounded".
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
