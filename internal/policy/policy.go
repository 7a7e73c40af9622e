package policy

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/atis/platform/internal/domain"
	"gopkg.in/yaml.v3"
)

// InitialPenalties are subtracted from 100 when a session is created.
type InitialPenalties struct {
	UntrustedDevice int `yaml:"untrusted_device"`
	NewDevice       int `yaml:"new_device"`
	IPMismatch      int `yaml:"ip_mismatch"`
	CountryMismatch int `yaml:"country_mismatch"`
	OffHours        int `yaml:"off_hours"`
	FailedLogin     int `yaml:"failed_login"`     // per recent failure
	FailedLoginCap  int `yaml:"failed_login_cap"` // ceiling of the failure term
}

// ActivityPenalties are added to an activity's base risk.
type ActivityPenalties struct {
	IPMismatch        int `yaml:"ip_mismatch"`
	ErrorStatus       int `yaml:"error_status"`
	AuthFailure       int `yaml:"auth_failure"` // on top of ErrorStatus for 401/403
	CountryMismatch   int `yaml:"country_mismatch"`
	OffHours          int `yaml:"off_hours"`
	SuspiciousPayload int `yaml:"suspicious_payload"`
	FastResponse      int `yaml:"fast_response"`
	Flooding          int `yaml:"flooding"`
}

// Policy holds every tunable of the risk scorer and the session state machine.
// Thresholds are policy inputs: a lower session score means less trust.
type Policy struct {
	SuspiciousThreshold int `yaml:"suspicious_threshold"`
	HijackThreshold     int `yaml:"hijack_threshold"`
	SuspicionPenalty    int `yaml:"suspicion_penalty"`

	Initial  InitialPenalties  `yaml:"initial"`
	Activity ActivityPenalties `yaml:"activity"`

	BaseRisk        map[domain.ActivityType]int `yaml:"base_risk"`
	DefaultBaseRisk int                         `yaml:"default_base_risk"`

	SuspiciousPatterns []string `yaml:"suspicious_patterns"`

	FloodWindow    time.Duration `yaml:"flood_window"`
	FloodThreshold int           `yaml:"flood_threshold"`
	FastResponseMs int           `yaml:"fast_response_ms"`
	NewDeviceAge   time.Duration `yaml:"new_device_age"`

	// Hours strictly below OffHoursBefore or strictly above OffHoursAfter count as off hours.
	OffHoursBefore int `yaml:"off_hours_before"`
	OffHoursAfter  int `yaml:"off_hours_after"`
}

// DefaultPolicy returns the built-in scoring policy.
func DefaultPolicy() *Policy {
	return &Policy{
		SuspiciousThreshold: 60,
		HijackThreshold:     50,
		SuspicionPenalty:    20,
		Initial: InitialPenalties{
			UntrustedDevice: 20,
			NewDevice:       15,
			IPMismatch:      10,
			CountryMismatch: 25,
			OffHours:        10,
			FailedLogin:     5,
			FailedLoginCap:  30,
		},
		Activity: ActivityPenalties{
			IPMismatch:        20,
			ErrorStatus:       15,
			AuthFailure:       25,
			CountryMismatch:   30,
			OffHours:          10,
			SuspiciousPayload: 25,
			FastResponse:      15,
			Flooding:          30,
		},
		BaseRisk: map[domain.ActivityType]int{
			domain.ActivityLogin:          10,
			domain.ActivityLogout:         5,
			domain.ActivityHeartbeat:      0,
			domain.ActivityAPICall:        5,
			domain.ActivityPageView:       0,
			domain.ActivityDownload:       15,
			domain.ActivityUpload:         20,
			domain.ActivityPasswordChange: 30,
			domain.ActivitySettingsChange: 25,
			domain.ActivitySecurityEvent:  50,
		},
		DefaultBaseRisk:    10,
		SuspiciousPatterns: slices.Clone(defaultSuspiciousPatterns),
		FloodWindow:        5 * time.Minute,
		FloodThreshold:     50,
		FastResponseMs:     50,
		NewDeviceAge:       24 * time.Hour,
		OffHoursBefore:     6,
		OffHoursAfter:      23,
	}
}

// LoadPolicy reads a YAML policy file over the defaults. Keys absent from the
// file keep their default values. An empty path returns the defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Validate rejects policies that cannot produce meaningful scores.
func (p *Policy) Validate() error {
	for name, v := range map[string]int{
		"suspicious_threshold": p.SuspiciousThreshold,
		"hijack_threshold":     p.HijackThreshold,
		"suspicion_penalty":    p.SuspicionPenalty,
		"default_base_risk":    p.DefaultBaseRisk,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be within [0,100], got %d", name, v)
		}
	}
	for t, v := range p.BaseRisk {
		if domain.ParseActivityType(string(t)) == domain.ActivityUnknown {
			return fmt.Errorf("base_risk: unknown activity type %q", t)
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("base_risk[%s] must be within [0,100], got %d", t, v)
		}
	}
	if p.FloodWindow <= 0 || p.FloodThreshold <= 0 {
		return fmt.Errorf("flood_window and flood_threshold must be positive")
	}
	if p.OffHoursBefore < 0 || p.OffHoursAfter > 23 || p.OffHoursBefore > p.OffHoursAfter {
		return fmt.Errorf("off hours must satisfy 0 <= before <= after <= 23")
	}
	return nil
}

// Clone returns an independent copy of the policy.
func (p *Policy) Clone() *Policy {
	c := *p
	c.BaseRisk = maps.Clone(p.BaseRisk)
	c.SuspiciousPatterns = slices.Clone(p.SuspiciousPatterns)
	return &c
}

// BaseRiskFor returns the base risk of an activity type, falling back to the default.
func (p *Policy) BaseRiskFor(t domain.ActivityType) int {
	if v, ok := p.BaseRisk[t]; ok {
		return v
	}
	return p.DefaultBaseRisk
}

// IsOffHours reports whether the wall-clock hour of now is outside business hours.
func (p *Policy) IsOffHours(now time.Time) bool {
	h := now.Hour()
	return h < p.OffHoursBefore || h > p.OffHoursAfter
}
