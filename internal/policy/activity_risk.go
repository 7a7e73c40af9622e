package policy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/atis/platform/internal/domain"
)

// ActivityRiskInput holds the raw inputs for scoring one activity.
type ActivityRiskInput struct {
	Type    domain.ActivityType
	Context domain.RequestContext
	Session *domain.Session
	Device  *domain.Device
	// RecentActivityCount is the number of activities already recorded for the
	// session inside the flood window, excluding the one being scored.
	RecentActivityCount int
	Now                 time.Time
}

// ActivityRisk is the evaluated risk of one activity.
type ActivityRisk struct {
	Score      int      `json:"score"`
	Flags      []string `json:"flags,omitempty"`
	Suspicious bool     `json:"suspicious"`
}

// ActivityRiskScore computes the risk of a single activity: the type's base
// risk plus a penalty for every anomaly signal, clamped to [0,100].
func (p *Policy) ActivityRiskScore(in ActivityRiskInput) ActivityRisk {
	score := p.BaseRiskFor(in.Type)
	var flags []string
	ctx := in.Context

	if s := in.Session; s != nil && ctx.IP != "" && s.IPAddress != "" && ctx.IP != s.IPAddress {
		score += p.Activity.IPMismatch
		flags = append(flags, "ip_mismatch")
	}

	if ctx.Status != nil && *ctx.Status >= 400 {
		score += p.Activity.ErrorStatus
		flags = append(flags, "error_status")
		if *ctx.Status == http.StatusUnauthorized || *ctx.Status == http.StatusForbidden {
			score += p.Activity.AuthFailure
			flags = append(flags, "auth_failure")
		}
	}

	if d := in.Device; d != nil && ctx.Country != "" && d.LastCountry != "" && ctx.Country != d.LastCountry {
		score += p.Activity.CountryMismatch
		flags = append(flags, "country_mismatch")
	}

	if p.IsOffHours(in.Now) {
		score += p.Activity.OffHours
		flags = append(flags, "off_hours")
	}

	if p.MatchesSuspiciousPattern(ctx.Snapshot) {
		score += p.Activity.SuspiciousPayload
		flags = append(flags, "suspicious_payload")
	}

	if ctx.ResponseTimeMs != nil && *ctx.ResponseTimeMs < p.FastResponseMs {
		score += p.Activity.FastResponse
		flags = append(flags, "fast_response")
	}

	// The activity being scored counts towards the window.
	if in.RecentActivityCount+1 > p.FloodThreshold {
		score += p.Activity.Flooding
		flags = append(flags, "flooding")
	}

	score = domain.ClampScore(score)
	return ActivityRisk{
		Score:      score,
		Flags:      flags,
		Suspicious: score >= p.SuspiciousThreshold || ctx.Suspicious,
	}
}

var defaultSuspiciousPatterns = []string{
	// script injection
	"<script", "</script", "javascript:", "vbscript:", "eval(", "document.cookie",
	// sql injection
	"union select", "union all select", "drop table", "insert into", "delete from",
	"' or '1'='1", "' or 1=1", "; drop ", "xp_cmdshell",
	// path traversal
	"../", `..\`, "%2e%2e%2f", "%2e%2e/", "/etc/passwd",
	// xss attribute triggers
	"onerror=", "onload=", "onclick=", "onmouseover=", "onfocus=",
}

// MatchesSuspiciousPattern reports whether the serialized payload contains any
// configured pattern, case-insensitively.
func (p *Policy) MatchesSuspiciousPattern(payload map[string]any) bool {
	if len(payload) == 0 {
		return false
	}
	text := serializePayload(payload)
	for _, pattern := range p.SuspiciousPatterns {
		if pattern != "" && strings.Contains(text, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// serializePayload renders the payload as lower-cased JSON without HTML escaping,
// so markup survives for pattern matching.
func serializePayload(payload map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return ""
	}
	return strings.ToLower(buf.String())
}
