package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/atis/platform/internal/domain"
	ua "github.com/mileusna/useragent"
)

// Fingerprint hashes the device and network signals of a request. Equal inputs
// always produce the same hash.
func Fingerprint(ctx domain.RequestContext) string {
	components := []string{
		ctx.UserAgent,
		ctx.IP,
		ctx.AcceptLanguage,
		ctx.AcceptEncoding,
		ctx.ScreenResolution,
		ctx.Timezone,
	}
	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}

// UserAgentInfo is the coarse classification of a user-agent string.
type UserAgentInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"`
}

// ClassifyUserAgent extracts browser, OS and device class from a User-Agent header.
func ClassifyUserAgent(userAgent string) UserAgentInfo {
	if userAgent == "" {
		return UserAgentInfo{Browser: "unknown", OS: "unknown", DeviceType: "unknown"}
	}

	parsed := ua.Parse(userAgent)
	info := UserAgentInfo{
		Browser:    strings.TrimSpace(parsed.Name),
		OS:         strings.TrimSpace(parsed.OS),
		DeviceType: "desktop",
	}
	if info.Browser == "" {
		info.Browser = "unknown"
	}
	if info.OS == "" {
		info.OS = "unknown"
	}

	switch {
	case parsed.Bot:
		info.DeviceType = "bot"
	case parsed.Tablet:
		info.DeviceType = "tablet"
	case parsed.Mobile:
		info.DeviceType = "mobile"
	}
	return info
}
