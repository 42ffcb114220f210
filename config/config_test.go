package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "automod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadComplete(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, `
host: https://pds.example.com
port: 443
handle: moderator.example.com
password: app-password
did: did:plc:moderator
service_did: did:plc:labeler
dry_run: true
use_token: true
number_of_threads: 8
queue_limit: 256
url_redirect_limit: 7
uri_host_prefix: "www."
whitelist_uris:
  - example.com
  - bsky.app
image_factor: 4
video_factor: 5
record_factor: 6
link_factor: 7
metrics_listen: ":9100"
log_level: debug
account_cache_size: 1000
redirect_rate_limit: 2.5
rules:
  - name: badware
    keywords: [malware, phishing]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal("https://pds.example.com:443", cfg.BaseURL())
	assert.True(cfg.DryRun)
	assert.True(cfg.UseToken)
	assert.Equal(8, cfg.NumberOfThreads)
	assert.Equal(7, cfg.URLRedirectLimit)
	assert.Equal([]string{"example.com", "bsky.app"}, cfg.WhitelistURIs)
	assert.Equal(5, cfg.VideoFactor)
	assert.Equal(2.5, cfg.RedirectRateLimit)
	require.Len(t, cfg.Rules, 1)
	assert.Equal("badware", cfg.Rules[0].Name)
}

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, `
host: https://pds.example.com
handle: moderator.example.com
password: app-password
service_did: did:plc:labeler
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal("https://pds.example.com", cfg.BaseURL())
	assert.Equal(4, cfg.NumberOfThreads)
	assert.Equal(1024, cfg.QueueLimit)
	assert.Equal(5, cfg.URLRedirectLimit)
	assert.Equal(4, cfg.ImageFactor)
	assert.Equal("info", cfg.LogLevel)
}

func TestLoadMissingMandatory(t *testing.T) {
	for name, content := range map[string]string{
		"host":        "handle: h\npassword: p\nservice_did: d\n",
		"handle":      "host: h\npassword: p\nservice_did: d\n",
		"password":    "host: h\nhandle: h\nservice_did: d\n",
		"service_did": "host: h\nhandle: h\npassword: p\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoadBadFactor(t *testing.T) {
	path := writeConfig(t, `
host: https://pds.example.com
handle: moderator.example.com
password: app-password
service_did: did:plc:labeler
image_factor: 1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image_factor")
}

func TestLoadUnparseable(t *testing.T) {
	_, err := Load(writeConfig(t, "host: [unclosed"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
