package esia

import (
	"time"

	"golang.org/x/oauth2"
)

// Session is the mutable part of a client: the tokens of the last exchange
// and the subject they belong to.
type Session struct {
	AccessToken  string `json:"access_token,omitempty" yaml:"token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty" yaml:"refreshToken,omitempty"`
	// ExpiresIn is the lifetime in seconds as supplied by the provider.
	ExpiresIn int64  `json:"expires_in,omitempty" yaml:"tokenExpiresIn,omitempty"`
	OID       string `json:"oid,omitempty" yaml:"oid,omitempty"`
	// ObtainedAt is zero for sessions restored from configuration.
	ObtainedAt time.Time `json:"obtained_at,omitempty" yaml:"-"`
}

// Expiry returns the absolute expiry, or the zero time when unknown.
func (s Session) Expiry() time.Time {
	if s.ObtainedAt.IsZero() || s.ExpiresIn <= 0 {
		return time.Time{}
	}
	return s.ObtainedAt.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// Valid reports whether an access token is present and not known to be expired at now.
func (s Session) Valid(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	exp := s.Expiry()
	return exp.IsZero() || now.Before(exp)
}

// OAuth2Token converts the session for use with golang.org/x/oauth2.
func (s Session) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry(),
	}
	return tok.WithExtra(map[string]any{"oid": s.OID, "expires_in": s.ExpiresIn})
}
