package policy

import (
	"time"

	"github.com/atis/platform/internal/domain"
)

// RiskLevel classifies a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ClassifyRisk buckets an activity risk score.
func ClassifyRisk(score int) RiskLevel {
	switch {
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// InitialScoreInput holds the raw inputs for scoring a new session.
type InitialScoreInput struct {
	Device             *domain.Device
	Context            domain.RequestContext
	RecentFailedLogins int
	Now                time.Time
}

// ScoreResult holds an evaluated score and the factors that moved it.
type ScoreResult struct {
	Score int      `json:"score"`
	Flags []string `json:"flags,omitempty"`
}

// InitialSecurityScore computes the trust score of a new session. It starts at
// 100 and subtracts a penalty per risk signal. Signals whose inputs are absent
// are skipped.
func (p *Policy) InitialSecurityScore(in InitialScoreInput) ScoreResult {
	score := 100
	var flags []string

	if d := in.Device; d != nil {
		if !d.IsTrusted {
			score -= p.Initial.UntrustedDevice
			flags = append(flags, "untrusted_device")
		}
		if !d.RegisteredAt.IsZero() && d.Age(in.Now) < p.NewDeviceAge {
			score -= p.Initial.NewDevice
			flags = append(flags, "new_device")
		}
		if in.Context.IP != "" && d.LastIP != "" && in.Context.IP != d.LastIP {
			score -= p.Initial.IPMismatch
			flags = append(flags, "ip_mismatch")
		}
		if in.Context.Country != "" && d.LastCountry != "" && in.Context.Country != d.LastCountry {
			score -= p.Initial.CountryMismatch
			flags = append(flags, "country_mismatch")
		}
	}

	if p.IsOffHours(in.Now) {
		score -= p.Initial.OffHours
		flags = append(flags, "off_hours")
	}

	if in.RecentFailedLogins > 0 {
		score -= min(p.Initial.FailedLoginCap, p.Initial.FailedLogin*in.RecentFailedLogins)
		flags = append(flags, "recent_failed_logins")
	}

	return ScoreResult{Score: domain.ClampScore(score), Flags: flags}
}

// TrustLevel labels a session security score for dashboards.
func TrustLevel(score int) string {
	switch {
	case score >= 80:
		return "high"
	case score >= 60:
		return "medium"
	case score >= 40:
		return "low"
	default:
		return "critical"
	}
}
