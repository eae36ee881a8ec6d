package signer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esiaclient/errors"
	"esiaclient/internal/testpki"
)

const fakeOpenSSL = `#!/bin/sh
printf '%s\n' "$@" > "$(dirname "$0")/args"
in=""
out=""
while [ $# -gt 0 ]; do
	case "$1" in
		-in) in="$2"; shift ;;
		-out) out="$2"; shift ;;
	esac
	shift
done
printf 'signed:' > "$out"
cat "$in" >> "$out"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openssl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newCLISigner(t *testing.T, script string, timeout time.Duration) (*CLISigner, string) {
	t.Helper()
	m := testpki.Generate(t)
	tmp := t.TempDir()
	s, err := NewCLI(Options{
		CertPath:           m.CertPath,
		PrivateKeyPath:     m.KeyPath,
		PrivateKeyPassword: "pw",
		TmpPath:            tmp,
		OpenSSLPath:        script,
		Timeout:            timeout,
		Logger:             discardLogger(),
	})
	require.NoError(t, err)
	return s, tmp
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
}

func TestCLISignRunsOpenSSLAndCleansUp(t *testing.T) {
	script := writeScript(t, fakeOpenSSL)
	s, tmp := newCLISigner(t, script, 0)

	sig, err := s.Sign(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, URLSafe([]byte("signed:hello")), sig)
	assertEmptyDir(t, tmp)

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.GreaterOrEqual(t, len(args), 16)
	assert.Equal(t, []string{"smime", "-sign", "-binary", "-outform", "DER", "-noattr"}, args[:6])
	assert.Equal(t, "-signer", args[6])
	assert.Equal(t, s.opts.CertPath, args[7])
	assert.Equal(t, "-inkey", args[8])
	assert.Equal(t, s.opts.PrivateKeyPath, args[9])
	assert.Equal(t, []string{"-passin", "pass:pw"}, args[10:12])
	assert.True(t, strings.HasPrefix(args[13], tmp), "message file must live in tmp path")
	assert.True(t, strings.HasPrefix(args[15], tmp), "signature file must live in tmp path")
	assert.NotEqual(t, args[13], args[15])
}

func TestCLISignFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho 'unable to load signing key' >&2\nexit 3\n")
	s, tmp := newCLISigner(t, script, 0)

	_, err := s.Sign(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSignFailure))
	assert.Contains(t, err.Error(), "unable to load signing key")
	assertEmptyDir(t, tmp)
}

func TestCLISignTimeout(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexec sleep 5\n")
	s, tmp := newCLISigner(t, script, 100*time.Millisecond)

	start := time.Now()
	_, err := s.Sign(context.Background(), "hello")
	assert.True(t, errors.Is(err, errors.ErrSignFailure))
	assert.Less(t, time.Since(start), 4*time.Second)
	assertEmptyDir(t, tmp)
}

func TestCLISignEmptyOutput(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	s, tmp := newCLISigner(t, script, 0)

	_, err := s.Sign(context.Background(), "hello")
	assert.True(t, errors.Is(err, errors.ErrSignFailure))
	assertEmptyDir(t, tmp)
}

func TestCLISignMissingKeyAtSignTime(t *testing.T) {
	script := writeScript(t, fakeOpenSSL)
	s, _ := newCLISigner(t, script, 0)
	require.NoError(t, os.Remove(s.opts.CertPath))

	_, err := s.Sign(context.Background(), "hello")
	assert.True(t, errors.Is(err, errors.ErrSignFailure))
	assert.False(t, errors.Is(err, errors.ErrConfiguration))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCLISignWithRealOpenSSL(t *testing.T) {
	bin, err := exec.LookPath("openssl")
	if err != nil {
		t.Skip("openssl not installed")
	}
	m := testpki.Generate(t)
	s, err := NewCLI(Options{CertPath: m.CertPath, PrivateKeyPath: m.KeyPath, TmpPath: t.TempDir(), OpenSSLPath: bin})
	require.NoError(t, err)

	message := "openid2024.05.06 07:08:09 +0000client-1state-1"
	sig, err := s.Sign(context.Background(), message)
	require.NoError(t, err)
	verifyDetached(t, sig, message)
}
