package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActivityID_MonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	generated := make([]string, 100)
	for i := range generated {
		generated[i] = NewActivityID(at)
	}
	assert.True(t, sort.StringsAreSorted(generated))

	seen := map[string]bool{}
	for _, id := range generated {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewActivityID_CarriesTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 30, 15, 0, time.UTC)
	parsed, err := ulid.Parse(NewActivityID(at))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), parsed.Time())
}
