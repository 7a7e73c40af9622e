package domain

import (
	"fmt"
	"net"
)

// RequestContext is the typed set of request signals supplied by the caller for
// session creation, activity touches and activity scoring. Every field is
// optional unless an operation says otherwise; absent values skip the checks
// that depend on them.
type RequestContext struct {
	IP               string `json:"ip,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	Country          string `json:"country,omitempty"`
	City             string `json:"city,omitempty"`
	AcceptLanguage   string `json:"accept_language,omitempty"`
	AcceptEncoding   string `json:"accept_encoding,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`

	Endpoint       string         `json:"endpoint,omitempty"`
	Method         string         `json:"method,omitempty"`
	Status         *int           `json:"status,omitempty"`
	ResponseTimeMs *int           `json:"response_time_ms,omitempty"`
	Snapshot       map[string]any `json:"request_snapshot,omitempty"`
	Suspicious     bool           `json:"suspicious,omitempty"`
	Description    string         `json:"description,omitempty"`

	LoginMethod   string `json:"login_method,omitempty"`
	TwoFactorUsed *bool  `json:"two_factor_used,omitempty"`
	SessionType   string `json:"session_type,omitempty"`
}

// Validate checks the shape of supplied values at the boundary.
func (c RequestContext) Validate() error {
	if c.IP != "" && net.ParseIP(c.IP) == nil {
		return fmt.Errorf("invalid ip address: %s", c.IP)
	}
	if c.Status != nil && (*c.Status < 100 || *c.Status > 599) {
		return fmt.Errorf("status must be a valid HTTP status, got %d", *c.Status)
	}
	if c.ResponseTimeMs != nil && *c.ResponseTimeMs < 0 {
		return fmt.Errorf("response_time_ms must not be negative, got %d", *c.ResponseTimeMs)
	}
	if len(c.Country) > 2 {
		return fmt.Errorf("country must be an ISO 3166 alpha-2 code, got %q", c.Country)
	}
	if len(c.UserAgent) > 1024 {
		return fmt.Errorf("user_agent exceeds 1024 characters")
	}
	return nil
}

// SecurityKeys returns the context keys persisted into a session's security context.
func (c RequestContext) SecurityKeys() SecurityContext {
	out := SecurityContext{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("country", c.Country)
	set("city", c.City)
	set("login_method", c.LoginMethod)
	set("session_type", c.SessionType)
	set("timezone", c.Timezone)
	set("accept_language", c.AcceptLanguage)
	if c.TwoFactorUsed != nil {
		out["two_factor_used"] = *c.TwoFactorUsed
	}
	return out
}
