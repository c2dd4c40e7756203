// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package session

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

// Key generation algorithms accepted by GenerateKey.
const (
	KeyAlgorithmEd25519 = "ed25519"
	KeyAlgorithmES256   = "es256"
	KeyAlgorithmES384   = "es384"
	KeyAlgorithmRS256   = "rs256"
)

// NormalizePrivateKey undoes the mangling PEM keys suffer in environment
// variables: surrounding quotes are stripped and literal \n sequences become
// newlines.
func NormalizePrivateKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) >= 2 {
		if (key[0] == '"' && key[len(key)-1] == '"') || (key[0] == '\'' && key[len(key)-1] == '\'') {
			key = key[1 : len(key)-1]
		}
	}
	key = strings.ReplaceAll(key, `\r\n`, "\n")
	key = strings.ReplaceAll(key, `\n`, "\n")
	return key
}

// ParsePrivateKey decodes the first PEM private key in data. PKCS#8 (plain
// or encrypted), PKCS#1 RSA and SEC1 EC keys are supported. passphrase is
// only used for ENCRYPTED PRIVATE KEY blocks.
func ParsePrivateKey(data []byte, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "ENCRYPTED PRIVATE KEY":
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: passphrase required for encrypted key", ErrInvalidKey)
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T cannot sign", ErrInvalidKey, key)
	}
	return signer, nil
}

// GenerateKey creates a new signing key.
func GenerateKey(algorithm string) (crypto.Signer, error) {
	switch strings.ToLower(algorithm) {
	case KeyAlgorithmEd25519, "eddsa":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	case KeyAlgorithmES256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyAlgorithmES384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case KeyAlgorithmRS256:
		return rsa.GenerateKey(rand.Reader, 2048)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// EncodePrivateKeyPEM encodes key as PKCS#8 PEM, encrypted when a passphrase
// is given.
func EncodePrivateKeyPEM(key crypto.Signer, passphrase []byte) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(key, passphrase, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKCS#8: %w", err)
	}
	blockType := "PRIVATE KEY"
	if len(passphrase) > 0 {
		blockType = "ENCRYPTED PRIVATE KEY"
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), nil
}

// GenerateKeyPEM creates a new signing key and returns it PEM encoded.
func GenerateKeyPEM(algorithm string, passphrase []byte) ([]byte, error) {
	key, err := GenerateKey(algorithm)
	if err != nil {
		return nil, err
	}
	return EncodePrivateKeyPEM(key, passphrase)
}

// EncodePublicKeyPEM encodes a public key as PKIX PEM.
func EncodePublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKIX public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// KeyID derives a stable key identifier from the public key.
func KeyID(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:12]), nil
}
