// Package mockesia is a local stand-in for the ESIA provider. It accepts
// signed authorization and token requests, issues RS256 access tokens and
// serves person resources, which is enough to run the whole client flow
// without access to the ESIA test portal.
package mockesia

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"esiaclient/esia"
)

// Defaults for Options.
const (
	DefaultOID       = "1000299654"
	DefaultTokenTTL  = time.Hour
	DefaultClockSkew = time.Hour
	codeTTL          = 5 * time.Minute
	refreshTTL       = 24 * time.Hour
)

// Options configure a Provider. Zero values fall back to fixtures.
type Options struct {
	// ClientID is the only client accepted. Empty accepts any.
	ClientID string
	// RedirectURLs restricts redirect_uri. Empty accepts any.
	RedirectURLs []string
	// TrustedCert pins the certificate that must have signed client_secret.
	TrustedCert *x509.Certificate
	// OID is the subject every authorization resolves to.
	OID         string
	Person      map[string]any
	Collections map[string][]map[string]any
	// Issuer is written into the iss claim.
	Issuer    string
	TokenTTL  time.Duration
	ClockSkew time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// grant is what an authorization code or refresh token stands for.
type grant struct {
	OID         string
	Scope       string
	RedirectURL string
}

// Provider holds the issued codes and tokens of a mock ESIA portal.
type Provider struct {
	opts   Options
	key    *rsa.PrivateKey
	signer jose.Signer
	codes  *cache.Cache
	tokens *cache.Cache
	logger *slog.Logger
}

// New creates a Provider with a fresh signing key.
func New(opts Options) (*Provider, error) {
	if opts.OID == "" {
		opts.OID = DefaultOID
	}
	if opts.Person == nil {
		opts.Person = DefaultPerson()
	}
	if opts.Collections == nil {
		opts.Collections = DefaultCollections()
	}
	if opts.Issuer == "" {
		opts.Issuer = "http://esia-portal1.test.gosuslugi.ru/"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = DefaultClockSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("create jose signer: %w", err)
	}

	return &Provider{
		opts:   opts,
		key:    key,
		signer: sig,
		codes:  cache.New(codeTTL, time.Minute),
		tokens: cache.New(refreshTTL, 10*time.Minute),
		logger: opts.Logger,
	}, nil
}

// accessClaims are the claims of an issued access token.
type accessClaims struct {
	jwt.Claims
	SbjID    any    `json:"urn:esia:sbj_id"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	SID      string `json:"urn:esia:sid"`
}

func (p *Provider) issueAccessToken(g grant, clientID string) (string, error) {
	now := p.opts.Now()
	claims := accessClaims{
		Claims: jwt.Claims{
			Issuer:    p.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(p.opts.TokenTTL)),
		},
		SbjID:    subjectValue(g.OID),
		Scope:    g.Scope,
		ClientID: clientID,
		SID:      uuid.NewString(),
	}
	return jwt.Signed(p.signer).Claims(claims).CompactSerialize()
}

// subjectValue renders numeric oids as JSON numbers, as the real portal does.
func subjectValue(oid string) any {
	if n, err := strconv.ParseInt(oid, 10, 64); err == nil {
		return n
	}
	return oid
}

// subjectOf validates an access token and returns its subject.
func (p *Provider) subjectOf(raw string) (string, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return "", err
	}
	var claims accessClaims
	if err := tok.Claims(&p.key.PublicKey, &claims); err != nil {
		return "", err
	}
	if err := claims.Claims.ValidateWithLeeway(jwt.Expected{Issuer: p.opts.Issuer, Time: p.opts.Now()}, 0); err != nil {
		return "", err
	}
	return subjectString(claims.SbjID), nil
}

func (p *Provider) issueRefreshToken(g grant) string {
	tok := uuid.NewString()
	p.tokens.SetDefault(tok, g)
	return tok
}

func (p *Provider) takeRefreshToken(tok string) (grant, bool) {
	v, ok := p.tokens.Get(tok)
	if !ok {
		return grant{}, false
	}
	p.tokens.Delete(tok)
	return v.(grant), true
}

func (p *Provider) issueCode(g grant) string {
	code := uuid.NewString()
	p.codes.SetDefault(code, g)
	return code
}

func (p *Provider) takeCode(code string) (grant, bool) {
	v, ok := p.codes.Get(code)
	if !ok {
		return grant{}, false
	}
	p.codes.Delete(code)
	return v.(grant), true
}

// verifySecret checks client_secret as a detached signature of the ESIA
// message built from the request fields.
func (p *Provider) verifySecret(secret, scope, timestamp, clientID, state string) error {
	ts, err := time.Parse(esia.TimestampLayout, timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}
	if d := p.opts.Now().Sub(ts); d > p.opts.ClockSkew || d < -p.opts.ClockSkew {
		return fmt.Errorf("timestamp %q is outside the accepted window", timestamp)
	}

	der, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return fmt.Errorf("client_secret is not base64url: %w", err)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return fmt.Errorf("client_secret is not PKCS#7: %w", err)
	}
	p7.Content = []byte(esia.SignatureMessage(scope, timestamp, clientID, state))
	if err := p7.Verify(); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	if p.opts.TrustedCert != nil {
		signer := p7.GetOnlySigner()
		if signer == nil || !signer.Equal(p.opts.TrustedCert) {
			return fmt.Errorf("client_secret signed by an unknown certificate")
		}
	}
	return nil
}

func subjectString(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
