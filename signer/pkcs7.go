package signer

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/digitorus/pkcs7"

	"esiaclient/errors"
)

// PKCS7Signer signs in-process with SHA-256 and without signed attributes,
// producing the same structure as `openssl smime -sign -binary -noattr`.
type PKCS7Signer struct {
	opts   Options
	logger *slog.Logger
}

// NewPKCS7 checks that the certificate and key exist. They are read again on
// every Sign call so rotated files are picked up.
func NewPKCS7(opts Options) (*PKCS7Signer, error) {
	opts = opts.withDefaults()
	if err := checkFiles(opts); err != nil {
		opts.Logger.Error("Signer key material missing", "error", err)
		return nil, err
	}
	return &PKCS7Signer{opts: opts, logger: opts.Logger}, nil
}

// Sign returns the detached signature of message.
func (s *PKCS7Signer) Sign(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewSignFailure("signing cancelled", err)
	}

	cert, err := loadCertificate(s.opts.CertPath)
	if err != nil {
		s.logger.Error("Failed to load signing certificate", "path", s.opts.CertPath, "error", err)
		return "", errors.NewSignFailure("cannot read certificate", err)
	}
	key, err := loadPrivateKey(s.opts.PrivateKeyPath, s.opts.PrivateKeyPassword)
	if err != nil {
		s.logger.Error("Failed to load private key", "path", s.opts.PrivateKeyPath, "error", err)
		return "", errors.NewSignFailure("cannot read private key", err)
	}

	sd, err := pkcs7.NewSignedData([]byte(message))
	if err != nil {
		return "", errors.NewSignFailure("cannot initialise signed data", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.SignWithoutAttr(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		s.logger.Error("PKCS#7 signing failed", "error", err)
		return "", errors.NewSignFailure("cannot sign message", err)
	}
	sd.Detach()

	der, err := sd.Finish()
	if err != nil {
		return "", errors.NewSignFailure("cannot encode signature", err)
	}
	return URLSafe(der), nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("no CERTIFICATE block in %s", path)
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

func loadPrivateKey(path, password string) (crypto.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	for {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("no private key block in %s", path)
		}

		der := block.Bytes
		// Proc-Type encryption, as written by openssl genrsa -des3.
		if x509.IsEncryptedPEMBlock(block) {
			der, err = x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return nil, fmt.Errorf("decrypt private key: %w", err)
			}
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(der)
		case "EC PRIVATE KEY":
			return x509.ParseECPrivateKey(der)
		case "PRIVATE KEY":
			return x509.ParsePKCS8PrivateKey(der)
		case "ENCRYPTED PRIVATE KEY":
			return nil, fmt.Errorf("PKCS#8 encrypted keys need the openssl signer (useCli)")
		}
	}
}
