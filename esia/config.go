package esia

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"

	"esiaclient/errors"
)

// Defaults applied by DefaultConfig.
const (
	DefaultPortalURL      = "http://esia-portal1.test.gosuslugi.ru/"
	DefaultTokenURLPath   = "aas/oauth2/te"
	DefaultCodeURLPath    = "aas/oauth2/ac"
	DefaultPersonURLPath  = "rs/prns"
	DefaultTmpPath        = "/var/tmp"
	DefaultResponseType   = "code"
	DefaultAccessType     = "offline"
	DefaultRequestTimeout = 30 * time.Second
	DefaultConcurrency    = 4
)

// DefaultScope is requested when no scope is configured.
var DefaultScope = []string{"fullname", "birthdate", "gender", "email", "mobile", "id_doc", "snils", "inn"}

// Config holds the client settings. Keys follow the names used by ESIA
// integration guides so existing configuration maps can be reused.
type Config struct {
	ClientID           string        `yaml:"clientId" koanf:"clientId"`
	RedirectURL        string        `yaml:"redirectUrl" koanf:"redirectUrl"`
	PrivateKeyPath     string        `yaml:"privateKeyPath" koanf:"privateKeyPath"`
	CertPath           string        `yaml:"certPath" koanf:"certPath"`
	PrivateKeyPassword string        `yaml:"privateKeyPassword" koanf:"privateKeyPassword"`
	UseCLI             bool          `yaml:"useCli" koanf:"useCli"`
	OpenSSLPath        string        `yaml:"opensslPath,omitempty" koanf:"opensslPath"`
	SignTimeout        time.Duration `yaml:"signTimeout,omitempty" koanf:"signTimeout"`
	PortalURL          string        `yaml:"portalUrl" koanf:"portalUrl"`
	TokenURLPath       string        `yaml:"tokenUrlPath" koanf:"tokenUrlPath"`
	CodeURLPath        string        `yaml:"codeUrlPath" koanf:"codeUrlPath"`
	PersonURLPath      string        `yaml:"personUrlPath" koanf:"personUrlPath"`
	Scope              []string      `yaml:"scope" koanf:"scope"`
	TmpPath            string        `yaml:"tmpPath" koanf:"tmpPath"`
	ResponseType       string        `yaml:"responseType" koanf:"responseType"`
	AccessType         string        `yaml:"accessType" koanf:"accessType"`
	RequestTimeout     time.Duration `yaml:"requestTimeout,omitempty" koanf:"requestTimeout"`
	Concurrency        int           `yaml:"concurrency,omitempty" koanf:"concurrency"`

	// Session seed, usually restored from a previous exchange.
	OID            string `yaml:"oid,omitempty" koanf:"oid"`
	Token          string `yaml:"token,omitempty" koanf:"token"`
	RefreshToken   string `yaml:"refreshToken,omitempty" koanf:"refreshToken"`
	TokenExpiresIn int64  `yaml:"tokenExpiresIn,omitempty" koanf:"tokenExpiresIn"`
}

// DefaultConfig returns a Config with every optional setting populated.
func DefaultConfig() Config {
	return Config{
		PortalURL:      DefaultPortalURL,
		TokenURLPath:   DefaultTokenURLPath,
		CodeURLPath:    DefaultCodeURLPath,
		PersonURLPath:  DefaultPersonURLPath,
		Scope:          append([]string(nil), DefaultScope...),
		TmpPath:        DefaultTmpPath,
		ResponseType:   DefaultResponseType,
		AccessType:     DefaultAccessType,
		RequestTimeout: DefaultRequestTimeout,
		Concurrency:    DefaultConcurrency,
	}
}

// NewConfig overlays a flat key-value map on the defaults and validates the
// result. Unknown keys are ignored.
func NewConfig(values map[string]any) (Config, error) {
	cfg := DefaultConfig()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
		return Config{}, errors.NewConfigurationError("cannot load configuration map", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.NewConfigurationError("cannot decode configuration map", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that have no sensible default.
func (c Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"clientId", c.ClientID},
		{"redirectUrl", c.RedirectURL},
		{"privateKeyPath", c.PrivateKeyPath},
		{"certPath", c.CertPath},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.NewConfigurationError("please provide "+r.key, nil)
		}
	}
	if len(c.Scope) == 0 {
		return errors.NewConfigurationError("please provide scope", nil)
	}
	if c.PortalURL == "" {
		return errors.NewConfigurationError("please provide portalUrl", nil)
	}
	if c.Concurrency < 0 {
		return errors.NewConfigurationError(fmt.Sprintf("concurrency must not be negative, got %d", c.Concurrency), nil)
	}
	return nil
}

// ScopeString joins the scope list with single spaces.
func (c Config) ScopeString() string {
	return strings.Join(c.Scope, " ")
}

// CodeURL is the authorization endpoint.
func (c Config) CodeURL() string {
	return c.PortalURL + c.CodeURLPath
}

// TokenURL is the token endpoint.
func (c Config) TokenURL() string {
	return c.PortalURL + c.TokenURLPath
}

// PersonURL is the person resource of the subject oid.
func (c Config) PersonURL(oid string) (string, error) {
	if oid == "" {
		return "", errors.NewConfigurationError("no ESIA subject id (oid), exchange a code first", nil)
	}
	return c.PortalURL + c.PersonURLPath + "/" + oid, nil
}

// InitialSession returns the session seeded by the token fields.
func (c Config) InitialSession() Session {
	return Session{
		AccessToken:  c.Token,
		RefreshToken: c.RefreshToken,
		ExpiresIn:    c.TokenExpiresIn,
		OID:          c.OID,
	}
}
