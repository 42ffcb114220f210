// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pef-moderation/firehose-automod/automod/matcher"
)

// Config is the full daemon configuration surface.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Handle     string `yaml:"handle"`
	Password   string `yaml:"password"`
	Did        string `yaml:"did"`
	ServiceDid string `yaml:"service_did"`

	DryRun   bool `yaml:"dry_run"`
	UseToken bool `yaml:"use_token"`

	NumberOfThreads  int `yaml:"number_of_threads"`
	QueueLimit       int `yaml:"queue_limit"`
	URLRedirectLimit int `yaml:"url_redirect_limit"`

	URIHostPrefix string   `yaml:"uri_host_prefix"`
	WhitelistURIs []string `yaml:"whitelist_uris"`

	ImageFactor  int `yaml:"image_factor"`
	VideoFactor  int `yaml:"video_factor"`
	RecordFactor int `yaml:"record_factor"`
	LinkFactor   int `yaml:"link_factor"`

	MetricsListen     string         `yaml:"metrics_listen"`
	LogLevel          string         `yaml:"log_level"`
	AccountCacheSize  int            `yaml:"account_cache_size"`
	RedirectRateLimit float64        `yaml:"redirect_rate_limit"`
	Rules             []matcher.Rule `yaml:"rules"`
}

// Load reads and validates the YAML file at path. Missing mandatory options
// are errors; the daemon treats them as fatal at startup.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NumberOfThreads == 0 {
		c.NumberOfThreads = 4
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = 1024
	}
	if c.URLRedirectLimit == 0 {
		c.URLRedirectLimit = 5
	}
	if c.ImageFactor == 0 {
		c.ImageFactor = 4
	}
	if c.VideoFactor == 0 {
		c.VideoFactor = 4
	}
	if c.RecordFactor == 0 {
		c.RecordFactor = 4
	}
	if c.LinkFactor == 0 {
		c.LinkFactor = 4
	}
	if c.MetricsListen == "" {
		c.MetricsListen = ":2471"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks mandatory options and numeric sanity.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("host is required")
	case c.Handle == "":
		return fmt.Errorf("handle is required")
	case c.Password == "":
		return fmt.Errorf("password is required")
	case c.ServiceDid == "":
		return fmt.Errorf("service_did is required")
	}
	if c.NumberOfThreads < 1 {
		return fmt.Errorf("number_of_threads must be positive")
	}
	if c.QueueLimit < 1 {
		return fmt.Errorf("queue_limit must be positive")
	}
	if c.URLRedirectLimit < 1 {
		return fmt.Errorf("url_redirect_limit must be positive")
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"image_factor", c.ImageFactor},
		{"video_factor", c.VideoFactor},
		{"record_factor", c.RecordFactor},
		{"link_factor", c.LinkFactor},
	} {
		if f.value < 2 {
			return fmt.Errorf("%s must be at least 2", f.name)
		}
	}
	return nil
}

// BaseURL joins host and port into the XRPC base URL. A zero port means the
// host already carries any needed port.
func (c *Config) BaseURL() string {
	if c.Port == 0 {
		return c.Host
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
