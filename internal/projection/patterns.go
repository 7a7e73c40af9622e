package projection

import (
	"context"
	"fmt"
	"time"
)

// PatternsTTL bounds how stale a cached activity-pattern report may be.
const PatternsTTL = 5 * time.Minute

func patternsKey(userID string, days int) string {
	return fmt.Sprintf("projection:activity_patterns:%s:%d", userID, days)
}

// PutActivityPatterns caches a user's activity-pattern report for a look-back window.
func PutActivityPatterns(ctx context.Context, store Store, userID string, days int, report interface{}) error {
	return SetJSON(ctx, store, patternsKey(userID, days), report, PatternsTTL)
}

// GetActivityPatterns loads a cached report into dest. It returns ErrMiss when absent.
func GetActivityPatterns(ctx context.Context, store Store, userID string, days int, dest interface{}) error {
	return GetJSON(ctx, store, patternsKey(userID, days), dest)
}

// InvalidateActivityPatterns drops a cached report.
func InvalidateActivityPatterns(ctx context.Context, store Store, userID string, days int) error {
	return store.Delete(ctx, patternsKey(userID, days))
}
