package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_IsValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestLoadPolicy_EmptyPathReturnsDefaults(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicy_OverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
suspicious_threshold: 70
hijack_threshold: 40
base_risk:
  upload: 35
flood_window: 2m
activity:
  flooding: 40
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 70, p.SuspiciousThreshold)
	assert.Equal(t, 40, p.HijackThreshold)
	assert.Equal(t, 35, p.BaseRiskFor(domain.ActivityUpload))
	assert.Equal(t, 50, p.BaseRiskFor(domain.ActivitySecurityEvent))
	assert.Equal(t, 2*time.Minute, p.FloodWindow)
	assert.Equal(t, 40, p.Activity.Flooding)
	assert.Equal(t, 20, p.Activity.IPMismatch)
	assert.Equal(t, 20, p.SuspicionPenalty)
}

func TestLoadPolicy_RejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"threshold out of range": "suspicious_threshold: 120\n",
		"unknown activity type":  "base_risk:\n  teleport: 10\n",
		"zero flood threshold":   "flood_threshold: 0\n",
		"malformed yaml":         "suspicious_threshold: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadPolicy(path)
			require.Error(t, err)
		})
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy file")
}

func TestPolicy_CloneIsIndependent(t *testing.T) {
	p := DefaultPolicy()
	c := p.Clone()
	c.BaseRisk[domain.ActivityLogin] = 99
	c.SuspiciousPatterns[0] = "changed"
	assert.Equal(t, 10, p.BaseRisk[domain.ActivityLogin])
	assert.Equal(t, "<script", p.SuspiciousPatterns[0])
}

func TestIsOffHours(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.IsOffHours(at(0)))
	assert.True(t, p.IsOffHours(at(5)))
	assert.False(t, p.IsOffHours(at(6)))
	assert.False(t, p.IsOffHours(at(14)))
	assert.False(t, p.IsOffHours(at(23)))
}

func TestFingerprint(t *testing.T) {
	base := domain.RequestContext{
		UserAgent:        "Mozilla/5.0",
		IP:               "10.0.0.1",
		AcceptLanguage:   "az-AZ",
		AcceptEncoding:   "gzip",
		ScreenResolution: "1920x1080",
		Timezone:         "Asia/Baku",
	}

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Fingerprint(base), Fingerprint(base))
		assert.Len(t, Fingerprint(base), 64)
	})

	t.Run("ip change alters hash", func(t *testing.T) {
		other := base
		other.IP = "10.0.0.2"
		assert.NotEqual(t, Fingerprint(base), Fingerprint(other))
	})

	t.Run("non-fingerprint fields ignored", func(t *testing.T) {
		other := base
		other.Country = "TR"
		other.Endpoint = "/api/schools"
		assert.Equal(t, Fingerprint(base), Fingerprint(other))
	})
}

func TestClassifyUserAgent(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		info := ClassifyUserAgent("")
		assert.Equal(t, "unknown", info.Browser)
		assert.Equal(t, "unknown", info.DeviceType)
	})

	t.Run("desktop chrome", func(t *testing.T) {
		info := ClassifyUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		assert.Equal(t, "Chrome", info.Browser)
		assert.Equal(t, "Windows", info.OS)
		assert.Equal(t, "desktop", info.DeviceType)
	})

	t.Run("iphone", func(t *testing.T) {
		info := ClassifyUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
		assert.Equal(t, "mobile", info.DeviceType)
		assert.Equal(t, "iOS", info.OS)
	})
}
