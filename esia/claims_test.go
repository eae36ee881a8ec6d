package esia

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUnverifiedClaimNumericSubject(t *testing.T) {
	tok := fakeJWT(t, map[string]any{SubjectClaim: 123})

	v, err := ExtractUnverifiedClaim(tok, SubjectClaim)
	require.NoError(t, err)
	assert.Equal(t, "123", claimString(v))
}

func TestExtractUnverifiedClaimLargeNumber(t *testing.T) {
	tok := "h." + base64.RawURLEncoding.EncodeToString([]byte(`{"urn:esia:sbj_id":1000299654123}`)) + ".s"

	v, err := ExtractUnverifiedClaim(tok, SubjectClaim)
	require.NoError(t, err)
	assert.Equal(t, "1000299654123", claimString(v))
}

func TestExtractUnverifiedClaimStringAndMissing(t *testing.T) {
	tok := fakeJWT(t, map[string]any{SubjectClaim: "1000299654", "scope": "openid"})

	v, err := ExtractUnverifiedClaim(tok, SubjectClaim)
	require.NoError(t, err)
	assert.Equal(t, "1000299654", claimString(v))

	v, err = ExtractUnverifiedClaim(tok, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, "", claimString(v))
}

func TestExtractUnverifiedClaimStandardAlphabet(t *testing.T) {
	// ">>>" encodes to "Pj4+" in the standard alphabet.
	payload := base64.StdEncoding.EncodeToString([]byte(`{"a":">>>"}`))
	require.Contains(t, payload, "+")

	v, err := ExtractUnverifiedClaim("h."+payload+".s", "a")
	require.NoError(t, err)
	assert.Equal(t, ">>>", v)
}

func TestExtractUnverifiedClaimMalformed(t *testing.T) {
	for _, tok := range []string{"", "onlyone", "h.!!!.s", "h." + base64.RawURLEncoding.EncodeToString([]byte("[1,2]")) + ".s"} {
		_, err := ExtractUnverifiedClaim(tok, SubjectClaim)
		assert.Error(t, err, "token %q", tok)
	}
}
