package esia

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format ESIA signs and expects.
const TimestampLayout = "2006.01.02 15:04:05 -0700"

// AuthorizationRequest is a signed redirect to the provider. State must be
// kept by the caller to check the callback.
type AuthorizationRequest struct {
	URL       string
	State     string
	Timestamp string
}

// param is one form field. Order matters to the provider, so fields are
// kept in slices rather than url.Values.
type param struct {
	key, value string
}

func encodeForm(params []param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// FormatTimestamp renders t in the ESIA timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// SignatureMessage is the string signed into client_secret.
func SignatureMessage(scope, timestamp, clientID, state string) string {
	return scope + timestamp + clientID + state
}

// clientSecret generates a timestamp and a state and signs them.
func (c *Client) clientSecret(ctx context.Context) (secret, timestamp, state string, err error) {
	timestamp = FormatTimestamp(c.now())
	state, err = NewState(c.random)
	if err != nil {
		c.logger.Error("Failed to generate state", "error", err)
		return "", "", "", err
	}
	secret, err = c.sign(ctx, SignatureMessage(c.cfg.ScopeString(), timestamp, c.cfg.ClientID, state))
	if err != nil {
		return "", "", "", err
	}
	return secret, timestamp, state, nil
}

// NewAuthorizationRequest builds a signed authorization URL with a fresh state.
func (c *Client) NewAuthorizationRequest(ctx context.Context) (AuthorizationRequest, error) {
	secret, timestamp, state, err := c.clientSecret(ctx)
	if err != nil {
		return AuthorizationRequest{}, err
	}

	query := encodeForm([]param{
		{"client_id", c.cfg.ClientID},
		{"client_secret", secret},
		{"redirect_uri", c.cfg.RedirectURL},
		{"scope", c.cfg.ScopeString()},
		{"response_type", c.cfg.ResponseType},
		{"state", state},
		{"access_type", c.cfg.AccessType},
		{"timestamp", timestamp},
	})

	c.logger.Debug("Built authorization URL", "state", state, "timestamp", timestamp)
	return AuthorizationRequest{
		URL:       c.cfg.CodeURL() + "?" + query,
		State:     state,
		Timestamp: timestamp,
	}, nil
}

// AuthorizationURL returns the URL to redirect the user agent to.
func (c *Client) AuthorizationURL(ctx context.Context) (string, error) {
	req, err := c.NewAuthorizationRequest(ctx)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
