// Package esia is a client for the ESIA OAuth2 provider (the Russian
// Unified Identification and Authentication System).
//
// A Client builds signed authorization URLs, exchanges authorization codes
// and refresh tokens, and reads the person resources of the authenticated
// subject. Its Session is updated by ExchangeCode and Refresh; a Client must
// not be used for concurrent exchanges.
package esia

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"esiaclient/errors"
	"esiaclient/signer"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one ESIA portal on behalf of one relying party.
type Client struct {
	cfg         Config
	signer      signer.Signer
	http        Doer
	logger      *slog.Logger
	now         func() time.Time
	random      io.Reader
	concurrency int

	session Session
}

// Option customises a Client.
type Option func(*Client)

// WithSigner replaces the signer derived from the configuration.
func WithSigner(s signer.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRandom sets the entropy source used for state values.
func WithRandom(r io.Reader) Option {
	return func(c *Client) { c.random = r }
}

// New validates cfg and builds a Client. Unless WithSigner is given, the
// signer is built from the key material settings, which must exist.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		now:         time.Now,
		random:      rand.Reader,
		concurrency: cfg.Concurrency,
		session:     cfg.InitialSession(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.http == nil {
		hc := cleanhttp.DefaultPooledClient()
		hc.Timeout = cfg.RequestTimeout
		c.http = hc
	}
	if c.signer == nil {
		s, err := signer.New(signer.Options{
			CertPath:           cfg.CertPath,
			PrivateKeyPath:     cfg.PrivateKeyPath,
			PrivateKeyPassword: cfg.PrivateKeyPassword,
			TmpPath:            cfg.TmpPath,
			OpenSSLPath:        cfg.OpenSSLPath,
			Timeout:            cfg.SignTimeout,
			Logger:             c.logger,
		}, cfg.UseCLI)
		if err != nil {
			return nil, err
		}
		c.signer = s
	}
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	return c.session
}

// SetSession replaces the session, e.g. with one restored from storage.
func (c *Client) SetSession(s Session) {
	c.session = s
}

func (c *Client) sign(ctx context.Context, message string) (string, error) {
	start := time.Now()
	sig, err := c.signer.Sign(ctx, message)
	signDuration.WithLabelValues(outcomeOf(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("Failed to sign client secret", "error", err)
		if !errors.Is(err, errors.ErrSignFailure) {
			err = errors.NewSignFailure("signer failed", err)
		}
		return "", err
	}
	return sig, nil
}
