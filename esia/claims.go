package esia

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectClaim carries the ESIA subject id (oid) in access tokens.
const SubjectClaim = "urn:esia:sbj_id"

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// ExtractUnverifiedClaim decodes the payload of a compact JWT and returns
// one claim. The signature is NOT checked; use it only on tokens received
// directly from the token endpoint over TLS. A missing claim yields nil.
func ExtractUnverifiedClaim(token, claim string) (any, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("token has %d segments, want at least 2", len(parts))
	}

	// Some issuers emit the standard alphabet.
	seg := strings.NewReplacer("+", "-", "/", "_").Replace(parts[1])
	raw, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse token payload: %w", err)
	}
	return payload[claim], nil
}

func claimString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
