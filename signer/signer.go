// Package signer produces the detached PKCS#7 signatures ESIA expects as the
// OAuth2 client_secret.
package signer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"esiaclient/errors"
)

// DefaultTimeout bounds a single external signing run.
const DefaultTimeout = 30 * time.Second

// Signer turns a message into a URL-safe base64 detached signature.
type Signer interface {
	Sign(ctx context.Context, message string) (string, error)
}

// Options locate the key material and tune the signing backends.
type Options struct {
	CertPath           string
	PrivateKeyPath     string
	PrivateKeyPassword string
	// TmpPath holds the transient message and signature files of the CLI signer.
	TmpPath string
	// OpenSSLPath is the openssl binary used by the CLI signer.
	OpenSSLPath string
	Timeout     time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.OpenSSLPath == "" {
		o.OpenSSLPath = "openssl"
	}
	if o.TmpPath == "" {
		o.TmpPath = os.TempDir()
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// New builds the in-process signer, or the openssl one when useCLI is set.
func New(opts Options, useCLI bool) (Signer, error) {
	if useCLI {
		return NewCLI(opts)
	}
	return NewPKCS7(opts)
}

// URLSafe encodes a DER signature with the URL alphabet, keeping padding.
func URLSafe(der []byte) string {
	return base64.URLEncoding.EncodeToString(der)
}

// checkFiles is the constructor-time check of the key material.
func checkFiles(opts Options) error {
	if err := statFiles(opts); err != nil {
		return errors.NewConfigurationError(err.Error(), nil)
	}
	return nil
}

// statFiles reports the first missing file without assigning a failure kind,
// so sign-time callers can report it as a SignFailure.
func statFiles(opts Options) error {
	if _, err := os.Stat(opts.CertPath); err != nil {
		return fmt.Errorf("certificate does not exist: %s: %w", opts.CertPath, err)
	}
	if _, err := os.Stat(opts.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key does not exist: %s: %w", opts.PrivateKeyPath, err)
	}
	return nil
}
