package gateway

import "time"

// Config holds the sidecar's listen and auth settings.
type Config struct {
	// Bind is the host:port to listen on. Defaults to loopback.
	Bind string `yaml:"bind"`

	// Auth protects /status and /metrics when configured. The context
	// endpoints stay public: they expose only what the user already
	// published for their own dashboard.
	Auth AuthConfig `yaml:"auth"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero fields in place. WriteTimeout is deliberately left
// alone: a server-wide write deadline would sever long-lived websockets.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8420"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig supports a bearer token, basic credentials, or both.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured reports whether any credential is set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
