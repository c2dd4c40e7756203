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

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// PublicKeyType is the only credential type defined by WebAuthn.
const PublicKeyType = string(protocol.PublicKeyCredentialType)

// Platform is the credential capability of the execution environment: a
// browser's navigator.credentials, an OS passkey provider, or a software
// authenticator. Implementations return ErrCancelled when the user declines
// and ErrNoMatchingCredential when no held credential satisfies a request.
type Platform interface {
	// Create makes a new credential (navigator.credentials.create).
	Create(ctx context.Context, options *CreationOptions) (*Attestation, error)

	// Get produces an assertion from an existing credential
	// (navigator.credentials.get).
	Get(ctx context.Context, options *RequestOptions) (*Assertion, error)
}

// RelyingParty identifies the server side of a ceremony.
type RelyingParty struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// UserEntity is the account a new credential is bound to.
type UserEntity struct {
	ID          Bytes  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// CreationOptions are the registration options in binary form.
type CreationOptions struct {
	RP                     RelyingParty                     `json:"rp"`
	User                   UserEntity                       `json:"user"`
	Challenge              Bytes                            `json:"challenge"`
	PubKeyCredParams       []protocol.CredentialParameter   `json:"pubKeyCredParams,omitempty"`
	Timeout                int                              `json:"timeout,omitempty"`
	ExcludeCredentials     []protocol.CredentialDescriptor  `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection *protocol.AuthenticatorSelection `json:"authenticatorSelection,omitempty"`
	Attestation            string                           `json:"attestation,omitempty"`
	Extensions             map[string]any                   `json:"extensions,omitempty"`
}

// RequestOptions are the authentication options in binary form.
type RequestOptions struct {
	Challenge        Bytes                           `json:"challenge"`
	Timeout          int                             `json:"timeout,omitempty"`
	RPID             string                          `json:"rpId,omitempty"`
	AllowCredentials []protocol.CredentialDescriptor `json:"allowCredentials,omitempty"`
	UserVerification string                          `json:"userVerification,omitempty"`
	Extensions       map[string]any                  `json:"extensions,omitempty"`
}

// Allows reports whether the credential id is acceptable for this request.
// An empty allow-list accepts any credential for the relying party.
func (o *RequestOptions) Allows(id []byte) bool {
	if len(o.AllowCredentials) == 0 {
		return true
	}
	for _, c := range o.AllowCredentials {
		if bytes.Equal(c.CredentialID, id) {
			return true
		}
	}
	return false
}

// AttestationResponse is the authenticator output of a create call.
type AttestationResponse struct {
	ClientDataJSON    Bytes    `json:"clientDataJSON"`
	AttestationObject Bytes    `json:"attestationObject"`
	Transports        []string `json:"transports,omitempty"`
}

// Attestation is a newly created public key credential.
type Attestation struct {
	ID                      string              `json:"id"`
	RawID                   Bytes               `json:"rawId"`
	Type                    string              `json:"type"`
	Response                AttestationResponse `json:"response"`
	AuthenticatorAttachment string              `json:"authenticatorAttachment,omitempty"`
	ClientExtensionResults  map[string]any      `json:"clientExtensionResults"`
}

// AssertionResponse is the authenticator output of a get call.
type AssertionResponse struct {
	ClientDataJSON    Bytes `json:"clientDataJSON"`
	AuthenticatorData Bytes `json:"authenticatorData"`
	Signature         Bytes `json:"signature"`
	UserHandle        Bytes `json:"userHandle,omitempty"`
}

// Assertion is a signed authentication response.
type Assertion struct {
	ID                      string            `json:"id"`
	RawID                   Bytes             `json:"rawId"`
	Type                    string            `json:"type"`
	Response                AssertionResponse `json:"response"`
	AuthenticatorAttachment string            `json:"authenticatorAttachment,omitempty"`
	ClientExtensionResults  map[string]any    `json:"clientExtensionResults"`
}

// ParseCreationOptions decodes server registration options. Both the bare
// options object and one wrapped in {"publicKey": ...} are accepted.
func ParseCreationOptions(data []byte) (*CreationOptions, error) {
	var options CreationOptions
	if err := unmarshalOptions(data, &options); err != nil {
		return nil, err
	}
	if len(options.Challenge) == 0 {
		return nil, fmt.Errorf("%w: missing challenge", ErrInvalidOptions)
	}
	if len(options.User.ID) == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidOptions)
	}
	return &options, nil
}

// ParseRequestOptions decodes server authentication options.
func ParseRequestOptions(data []byte) (*RequestOptions, error) {
	var options RequestOptions
	if err := unmarshalOptions(data, &options); err != nil {
		return nil, err
	}
	if len(options.Challenge) == 0 {
		return nil, fmt.Errorf("%w: missing challenge", ErrInvalidOptions)
	}
	return &options, nil
}

func unmarshalOptions(data []byte, v any) error {
	var wrapped struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if len(wrapped.PublicKey) > 0 {
		data = wrapped.PublicKey
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}
