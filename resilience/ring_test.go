package resilience

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringError(n int, ts time.Time) ServiceError {
	return ServiceError{Message: "e" + strconv.Itoa(n), Timestamp: ts}
}

func TestErrorRingDropsOldestFirst(t *testing.T) {
	r := newErrorRing(3)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		r.append(ringError(i, base.Add(time.Duration(i)*time.Second)))
	}

	out := r.snapshot()
	require.Len(t, out, 3)
	assert.Equal(t, "e3", out[0].Message)
	assert.Equal(t, "e4", out[1].Message)
	assert.Equal(t, "e5", out[2].Message)
	assert.Equal(t, 3, r.len())
}

func TestErrorRingPartialFill(t *testing.T) {
	r := newErrorRing(3)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r.append(ringError(1, base))
	r.append(ringError(2, base.Add(time.Second)))

	out := r.snapshot()
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].Message)
	assert.Equal(t, "e2", out[1].Message)
	assert.Equal(t, 2, r.len())
}

func TestErrorRingCountSince(t *testing.T) {
	r := newErrorRing(5)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r.append(ringError(i, base.Add(time.Duration(i)*time.Minute)))
	}

	assert.Equal(t, 5, r.countSince(base))
	assert.Equal(t, 2, r.countSince(base.Add(3*time.Minute)))
	assert.Equal(t, 0, r.countSince(base.Add(10*time.Minute)))
}
