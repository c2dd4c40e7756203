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
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// SigningMethodSigner implements jwt.SigningMethod for crypto.Signer keys.
// This enables JWT signing with keys that never leave their store, such as
// AWS KMS keys. Verification delegates to the standard golang-jwt method of
// the same name, so tokens verify with plain public keys.
type SigningMethodSigner struct {
	algorithm string
	hash      crypto.Hash
	isPSS     bool
}

// NewSigningMethodSigner creates a SigningMethod for the JWS algorithm name.
func NewSigningMethodSigner(algorithm string) (*SigningMethodSigner, error) {
	sm := &SigningMethodSigner{algorithm: algorithm}
	switch algorithm {
	case "EdDSA":
	case "ES256", "RS256":
		sm.hash = crypto.SHA256
	case "ES384", "RS384":
		sm.hash = crypto.SHA384
	case "ES512", "RS512":
		sm.hash = crypto.SHA512
	case "PS256":
		sm.hash, sm.isPSS = crypto.SHA256, true
	case "PS384":
		sm.hash, sm.isPSS = crypto.SHA384, true
	case "PS512":
		sm.hash, sm.isPSS = crypto.SHA512, true
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return sm, nil
}

// Alg returns the JWT algorithm string (RS256, ES256, EdDSA, etc.)
func (sm *SigningMethodSigner) Alg() string {
	return sm.algorithm
}

// Sign signs the signing string using the provided crypto.Signer key.
// ECDSA signatures are returned in the fixed-size r||s form JWS requires.
func (sm *SigningMethodSigner) Sign(signingString string, key interface{}) ([]byte, error) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrInvalidKey
	}

	// Ed25519 signs raw message (unhashed)
	if sm.hash == 0 {
		if _, ok := signer.Public().(ed25519.PublicKey); !ok {
			return nil, ErrInvalidKey
		}
		return signer.Sign(rand.Reader, []byte(signingString), crypto.Hash(0))
	}

	h := sm.hash.New()
	h.Write([]byte(signingString))
	digest := h.Sum(nil)

	var opts crypto.SignerOpts = sm.hash
	if sm.isPSS {
		opts = &rsa.PSSOptions{
			Hash:       sm.hash,
			SaltLength: rsa.PSSSaltLengthEqualsHash,
		}
	}

	sig, err := signer.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, err
	}

	switch pub := signer.Public().(type) {
	case *ecdsa.PublicKey:
		return ecdsaSignatureToJWS(sig, pub.Curve.Params().BitSize)
	case *rsa.PublicKey:
		return sig, nil
	default:
		return nil, ErrInvalidKey
	}
}

// Verify verifies the signature of the signing string using the provided public key.
func (sm *SigningMethodSigner) Verify(signingString string, signature []byte, key interface{}) error {
	method := jwt.GetSigningMethod(sm.algorithm)
	if method == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, sm.algorithm)
	}
	return method.Verify(signingString, signature, key)
}

// ecdsaSignatureToJWS converts an ASN.1 DER ECDSA signature to r||s, each
// left-padded to the curve size.
func ecdsaSignatureToJWS(der []byte, curveBits int) ([]byte, error) {
	var (
		r, s  big.Int
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(&r) ||
		!inner.ReadASN1Integer(&s) ||
		!inner.Empty() {
		return nil, ErrInvalidSignature
	}

	size := (curveBits + 7) / 8
	if r.Sign() < 0 || s.Sign() < 0 || r.BitLen() > size*8 || s.BitLen() > size*8 {
		return nil, ErrInvalidSignature
	}

	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}

// AlgorithmFor returns the default JWS algorithm for a public key.
func AlgorithmFor(pub crypto.PublicKey) (string, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return "EdDSA", nil
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return "ES256", nil
		case 384:
			return "ES384", nil
		case 521:
			return "ES512", nil
		}
		return "", fmt.Errorf("%w: curve %s", ErrUnsupportedAlgorithm, k.Curve.Params().Name)
	case *rsa.PublicKey:
		return "RS256", nil
	default:
		return "", fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
	}
}
