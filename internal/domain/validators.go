package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	reasonRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)
)

// ValidateToken checks that an opaque session token was supplied.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token is required")
	}
	if len(token) > 512 {
		return fmt.Errorf("token exceeds 512 characters")
	}
	return nil
}

// ValidateID checks that a required identifier is set.
func ValidateID(name string, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// ValidateReason checks a termination reason tag (snake_case, 2-64 chars).
func ValidateReason(reason string) error {
	if reason == "" {
		return fmt.Errorf("reason is required")
	}
	if !reasonRegex.MatchString(reason) {
		return fmt.Errorf("invalid reason format: %s", reason)
	}
	return nil
}

// ValidateExtension checks an explicit session extension in hours.
func ValidateExtension(hours int) error {
	if hours <= 0 || hours > 72 {
		return fmt.Errorf("extension must be between 1 and 72 hours, got %d", hours)
	}
	return nil
}

// ValidateWindowDays checks the look-back window for pattern reports.
func ValidateWindowDays(days int) error {
	if days <= 0 || days > 365 {
		return fmt.Errorf("days must be between 1 and 365, got %d", days)
	}
	return nil
}
