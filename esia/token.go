package esia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"esiaclient/errors"
)

const formContentType = "application/x-www-form-urlencoded"

// ExchangeCode trades an authorization code for tokens, stores the new
// session and returns it.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Session, error) {
	secret, timestamp, state, err := c.clientSecret(ctx)
	if err != nil {
		return Session{}, err
	}

	// The provider expects refresh_token to carry the state on code exchange.
	form := []param{
		{"client_id", c.cfg.ClientID},
		{"code", code},
		{"grant_type", "authorization_code"},
		{"client_secret", secret},
		{"state", state},
		{"redirect_uri", c.cfg.RedirectURL},
		{"scope", c.cfg.ScopeString()},
		{"timestamp", timestamp},
		{"token_type", "Bearer"},
		{"refresh_token", state},
	}
	return c.requestToken(ctx, "exchange_code", form)
}

// Refresh trades the stored refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	if c.session.RefreshToken == "" {
		return Session{}, errors.NewConfigurationError("no refresh token, exchange a code first", nil)
	}

	secret, timestamp, state, err := c.clientSecret(ctx)
	if err != nil {
		return Session{}, err
	}

	form := []param{
		{"client_id", c.cfg.ClientID},
		{"refresh_token", c.session.RefreshToken},
		{"grant_type", "refresh_token"},
		{"client_secret", secret},
		{"state", state},
		{"redirect_uri", c.cfg.RedirectURL},
		{"scope", c.cfg.ScopeString()},
		{"timestamp", timestamp},
		{"token_type", "Bearer"},
	}
	return c.requestToken(ctx, "refresh", form)
}

func (c *Client) requestToken(ctx context.Context, op string, form []param) (Session, error) {
	payload, err := c.send(ctx, op, http.MethodPost, c.cfg.TokenURL(), strings.NewReader(encodeForm(form)), formContentType)
	if err != nil {
		return Session{}, err
	}

	s, err := c.parseTokenResponse(payload)
	if err != nil {
		c.logger.Error("Invalid token response", "operation", op, "error", err)
		return Session{}, err
	}

	c.session = s
	c.logger.Info("ESIA token obtained", "operation", op, "oid", s.OID, "expires_in", s.ExpiresIn)
	return s, nil
}

func (c *Client) parseTokenResponse(payload any) (Session, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Session{}, errors.NewRequestFailed("token response is not a JSON object", 0, nil)
	}

	access, _ := obj["access_token"].(string)
	if access == "" {
		return Session{}, errors.NewRequestFailed("token response has no access_token", 0, nil)
	}
	refresh, _ := obj["refresh_token"].(string)

	expiresIn, err := parseExpiresIn(obj["expires_in"])
	if err != nil {
		return Session{}, errors.NewRequestFailed("token response has invalid expires_in", 0, err)
	}

	sub, err := ExtractUnverifiedClaim(access, SubjectClaim)
	if err != nil {
		return Session{}, errors.NewRequestFailed("cannot read subject from access token", 0, err)
	}

	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		OID:          claimString(sub),
		ObtainedAt:   c.now(),
	}, nil
}

func parseExpiresIn(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		return int64(f), err
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
