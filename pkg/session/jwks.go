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

	"github.com/go-jose/go-jose/v4"
)

// JWKS returns a key set publishing pub for signature verification.
func JWKS(pub crypto.PublicKey, keyID, algorithm string) jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pub,
			KeyID:     keyID,
			Algorithm: algorithm,
			Use:       "sig",
		}},
	}
}
