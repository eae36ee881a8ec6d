package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"esiaclient/esia"
)

// DefaultSessionTTL bounds how long a browser session keeps its ESIA tokens.
const DefaultSessionTTL = time.Hour

// Config captures the relying party configuration loaded from YAML and environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	ESIA   esia.Config  `yaml:"esia"`
}

// ServerConfig controls listener, TLS, and cookie concerns.
type ServerConfig struct {
	PublicURL       string        `yaml:"public_url"`
	DevListenAddr   string        `yaml:"dev_listen_addr"`
	HTTPListenAddr  string        `yaml:"http_listen_addr"`
	HTTPSListenAddr string        `yaml:"https_listen_addr"`
	DevMode         bool          `yaml:"dev_mode"`
	CookieDomain    string        `yaml:"cookie_domain"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	CacheDir   string   `yaml:"cache_dir"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	esiaCfg := esia.DefaultConfig()
	esiaCfg.RedirectURL = "http://127.0.0.1:8080/callback"
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SessionTTL:      DefaultSessionTTL,
			TLS: TLSConfig{
				CacheDir:   ".autocert",
				HSTSMaxAge: 31536000,
			},
		},
		ESIA: esiaCfg,
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"ESIA_SERVER_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"ESIA_SERVER_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"ESIA_SERVER_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"ESIA_SERVER_SESSION_TTL":     func(v string) { cfg.Server.SessionTTL = parseDuration(v, cfg.Server.SessionTTL) },
		"ESIA_SERVER_TLS_DOMAINS":     func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"ESIA_SERVER_TLS_EMAIL":       func(v string) { cfg.Server.TLS.Email = v },
		"ESIA_CLIENT_ID":              func(v string) { cfg.ESIA.ClientID = v },
		"ESIA_REDIRECT_URL":           func(v string) { cfg.ESIA.RedirectURL = v },
		"ESIA_PRIVATE_KEY_PATH":       func(v string) { cfg.ESIA.PrivateKeyPath = v },
		"ESIA_PRIVATE_KEY_PASSWORD":   func(v string) { cfg.ESIA.PrivateKeyPassword = v },
		"ESIA_CERT_PATH":              func(v string) { cfg.ESIA.CertPath = v },
		"ESIA_PORTAL_URL":             func(v string) { cfg.ESIA.PortalURL = v },
		"ESIA_SCOPE":                  func(v string) { cfg.ESIA.Scope = strings.Fields(v) },
		"ESIA_USE_CLI":                func(v string) { cfg.ESIA.UseCLI = parseBool(v, cfg.ESIA.UseCLI) },
		"ESIA_OPENSSL_PATH":           func(v string) { cfg.ESIA.OpenSSLPath = v },
		"ESIA_TMP_PATH":               func(v string) { cfg.ESIA.TmpPath = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the server section and delegates the
// client section to esia.Config.Validate.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.SessionTTL <= 0 {
		slog.Error("Invalid session TTL", "field", "server.session_ttl", "value", c.Server.SessionTTL)
		return fmt.Errorf("server.session_ttl must be positive, got: %s", c.Server.SessionTTL)
	}

	if err := c.ESIA.Validate(); err != nil {
		slog.Error("Invalid ESIA configuration", "error", err)
		return fmt.Errorf("esia: %w", err)
	}

	if !strings.HasPrefix(c.ESIA.RedirectURL, "http://") && !strings.HasPrefix(c.ESIA.RedirectURL, "https://") {
		slog.Error("Invalid redirect URL", "field", "esia.redirectUrl", "value", c.ESIA.RedirectURL, "reason", "must be a valid HTTP(S) URL")
		return fmt.Errorf("esia.redirectUrl must start with http:// or https://, got: %s", c.ESIA.RedirectURL)
	}

	return nil
}

// CallbackPath returns the path component of the ESIA redirect URL, which
// is where the router mounts the callback handler.
func (c Config) CallbackPath() string {
	rest := c.ESIA.RedirectURL
	if idx := strings.Index(rest, "://"); idx != -1 {
		rest = rest[idx+3:]
	}
	if idx := strings.Index(rest, "/"); idx != -1 {
		path := rest[idx:]
		if q := strings.IndexAny(path, "?#"); q != -1 {
			path = path[:q]
		}
		if path != "" && path != "/" {
			return path
		}
	}
	return "/callback"
}
