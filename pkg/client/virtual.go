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
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/descope/virtualwebauthn"
)

// Ceremony names passed to a ConsentFunc.
const (
	CeremonyCreate = "create"
	CeremonyGet    = "get"
)

// ConsentFunc is asked before each platform operation. Returning false
// makes the operation fail with ErrCancelled.
type ConsentFunc func(ctx context.Context, ceremony, rpID string) bool

// VirtualOption configures a VirtualPlatform.
type VirtualOption func(*VirtualPlatform)

// WithConsent installs a consent hook.
func WithConsent(fn ConsentFunc) VirtualOption {
	return func(p *VirtualPlatform) {
		p.consent = fn
	}
}

// WithKeyType selects the key type of new credentials (default EC2).
func WithKeyType(keyType virtualwebauthn.KeyType) VirtualOption {
	return func(p *VirtualPlatform) {
		p.keyType = keyType
	}
}

// VirtualPlatform is a software authenticator. It holds credentials in
// memory per relying party id and signs like a real authenticator, so the
// server verifies its output with no special casing.
type VirtualPlatform struct {
	mu            sync.Mutex
	origin        string
	authenticator virtualwebauthn.Authenticator
	credentials   map[string][]*virtualwebauthn.Credential
	keyType       virtualwebauthn.KeyType
	consent       ConsentFunc
}

// NewVirtualPlatform creates a software authenticator that reports origin
// in its client data.
func NewVirtualPlatform(origin string, opts ...VirtualOption) (*VirtualPlatform, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}
	p := &VirtualPlatform{
		origin:        origin,
		authenticator: virtualwebauthn.NewAuthenticator(),
		credentials:   make(map[string][]*virtualwebauthn.Credential),
		keyType:       virtualwebauthn.KeyTypeEC2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Create implements Platform.
func (p *VirtualPlatform) Create(ctx context.Context, options *CreationOptions) (*Attestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rp := p.relyingParty(options.RP.ID, options.RP.Name)
	if !p.allowed(ctx, CeremonyCreate, rp.ID) {
		return nil, ErrCancelled
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, excluded := range options.ExcludeCredentials {
		if p.find(rp.ID, excluded.CredentialID) != nil {
			return nil, ErrCredentialExists
		}
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode creation options: %w", err)
	}
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	cred := virtualwebauthn.NewCredential(p.keyType)
	raw := virtualwebauthn.CreateAttestationResponse(rp, p.authenticator, cred, *parsed)

	var attestation Attestation
	if err := json.Unmarshal([]byte(raw), &attestation); err != nil {
		return nil, fmt.Errorf("failed to decode attestation: %w", err)
	}

	p.authenticator.AddCredential(cred)
	p.credentials[rp.ID] = append(p.credentials[rp.ID], &cred)
	return &attestation, nil
}

// Get implements Platform. The first held credential in the allow-list is
// used and its signature counter is advanced.
func (p *VirtualPlatform) Get(ctx context.Context, options *RequestOptions) (*Assertion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rp := p.relyingParty(options.RPID, "")
	if !p.allowed(ctx, CeremonyGet, rp.ID) {
		return nil, ErrCancelled
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var cred *virtualwebauthn.Credential
	for _, held := range p.credentials[rp.ID] {
		if options.Allows(held.ID) {
			cred = held
			break
		}
	}
	if cred == nil {
		return nil, ErrNoMatchingCredential
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request options: %w", err)
	}
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	cred.Counter++
	raw := virtualwebauthn.CreateAssertionResponse(rp, p.authenticator, *cred, *parsed)

	var assertion Assertion
	if err := json.Unmarshal([]byte(raw), &assertion); err != nil {
		return nil, fmt.Errorf("failed to decode assertion: %w", err)
	}
	return &assertion, nil
}

// CredentialIDs returns the ids of the credentials held for rpID.
func (p *VirtualPlatform) CredentialIDs(rpID string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([][]byte, 0, len(p.credentials[rpID]))
	for _, cred := range p.credentials[rpID] {
		ids = append(ids, append([]byte(nil), cred.ID...))
	}
	return ids
}

// Forget drops every credential held for rpID.
func (p *VirtualPlatform) Forget(rpID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.credentials, rpID)
}

func (p *VirtualPlatform) find(rpID string, id []byte) *virtualwebauthn.Credential {
	for _, cred := range p.credentials[rpID] {
		if string(cred.ID) == string(id) {
			return cred
		}
	}
	return nil
}

func (p *VirtualPlatform) allowed(ctx context.Context, ceremony, rpID string) bool {
	if p.consent == nil {
		return true
	}
	return p.consent(ctx, ceremony, rpID)
}

// relyingParty defaults the rp id to the origin's host name, as browsers do.
func (p *VirtualPlatform) relyingParty(id, name string) virtualwebauthn.RelyingParty {
	if id == "" {
		if u, err := url.Parse(p.origin); err == nil {
			id = u.Hostname()
		}
	}
	if name == "" {
		name = id
	}
	return virtualwebauthn.RelyingParty{Name: name, ID: id, Origin: p.origin}
}
