package esia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"esiaclient/errors"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.FixedZone("MSK", 3*60*60))

type stubSigner struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *stubSigner) Sign(_ context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return "c2lnbmF0dXJl", nil
}

func (s *stubSigner) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[len(s.messages)-1]
}

func testConfig(portal string) Config {
	cfg := DefaultConfig()
	cfg.ClientID = "INSP03211"
	cfg.RedirectURL = "http://my-site.com/response.php"
	cfg.PrivateKeyPath = "/nonexistent/key.pem"
	cfg.CertPath = "/nonexistent/cert.pem"
	cfg.PortalURL = portal
	return cfg
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *stubSigner) {
	t.Helper()
	s := &stubSigner{}
	base := []Option{
		WithSigner(s),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	c, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return c, s
}

// fakeJWT builds an unsigned token whose payload uses padded standard base64.
func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return "eyJhbGciOiJSUzI1NiJ9." + base64.StdEncoding.EncodeToString(payload) + ".c2ln"
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
}
