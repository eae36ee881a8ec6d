package signer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"esiaclient/errors"
)

// CLISigner shells out to openssl. This is the only way to sign with GOST
// keys, which need the gost engine configured in openssl.cnf.
type CLISigner struct {
	opts   Options
	logger *slog.Logger
}

// NewCLI checks that the certificate and key exist.
func NewCLI(opts Options) (*CLISigner, error) {
	opts = opts.withDefaults()
	if err := checkFiles(opts); err != nil {
		opts.Logger.Error("Signer key material missing", "error", err)
		return nil, err
	}
	return &CLISigner{opts: opts, logger: opts.Logger}, nil
}

// Sign writes message to a temporary file, runs openssl smime over it and
// returns the encoded signature. Both temporary files are removed before
// Sign returns.
func (s *CLISigner) Sign(ctx context.Context, message string) (string, error) {
	if err := statFiles(s.opts); err != nil {
		s.logger.Error("Signer key material missing", "error", err)
		return "", errors.NewSignFailure("key material missing", err)
	}

	msgFile, err := os.CreateTemp(s.opts.TmpPath, "esia-msg-*")
	if err != nil {
		return "", errors.NewSignFailure("cannot create message file", err)
	}
	defer os.Remove(msgFile.Name())

	_, werr := msgFile.WriteString(message)
	cerr := msgFile.Close()
	if werr != nil || cerr != nil {
		return "", errors.NewSignFailure("cannot write message file", errors.Join(werr, cerr))
	}

	sigFile, err := os.CreateTemp(s.opts.TmpPath, "esia-sig-*")
	if err != nil {
		return "", errors.NewSignFailure("cannot create signature file", err)
	}
	sigFile.Close()
	defer os.Remove(sigFile.Name())

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.opts.OpenSSLPath, s.args(msgFile.Name(), sigFile.Name())...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		s.logger.Error("openssl signing failed",
			"binary", s.opts.OpenSSLPath,
			"error", err,
			"stderr", strings.TrimSpace(stderr.String()))
		if ctx.Err() != nil {
			return "", errors.NewSignFailure("openssl timed out", ctx.Err())
		}
		return "", errors.NewSignFailure(fmt.Sprintf("openssl failed: %s", strings.TrimSpace(stderr.String())), err)
	}

	der, err := os.ReadFile(sigFile.Name())
	if err != nil {
		return "", errors.NewSignFailure("cannot read signature file", err)
	}
	if len(der) == 0 {
		return "", errors.NewSignFailure("openssl produced an empty signature", nil)
	}
	return URLSafe(der), nil
}

func (s *CLISigner) args(in, out string) []string {
	return []string{
		"smime", "-sign", "-binary", "-outform", "DER", "-noattr",
		"-signer", s.opts.CertPath,
		"-inkey", s.opts.PrivateKeyPath,
		"-passin", "pass:" + s.opts.PrivateKeyPassword,
		"-in", in,
		"-out", out,
	}
}
