package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_SetAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	err := store.Set(ctx, "k1", []byte("hello"), 0)
	require.NoError(t, err)

	val, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), val)
}

func TestInMemoryStore_KeyNotFound(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "k1", []byte("data"), 0)
	_ = store.Delete(ctx, "k1")

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestInMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewInMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", []byte("data"), time.Minute))

	now = now.Add(59 * time.Second)
	_, err := store.Get(ctx, "k1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestActivityPatterns_RoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	type report struct {
		DailyAverage   float64 `json:"daily_average"`
		MostActiveHour int     `json:"most_active_hour"`
	}
	in := report{DailyAverage: 12.5, MostActiveHour: 9}
	require.NoError(t, PutActivityPatterns(ctx, store, "user-1", 7, in))

	var out report
	require.NoError(t, GetActivityPatterns(ctx, store, "user-1", 7, &out))
	assert.Equal(t, in, out)

	var other report
	assert.ErrorIs(t, GetActivityPatterns(ctx, store, "user-1", 30, &other), ErrMiss)

	require.NoError(t, InvalidateActivityPatterns(ctx, store, "user-1", 7))
	assert.ErrorIs(t, GetActivityPatterns(ctx, store, "user-1", 7, &out), ErrMiss)
}
