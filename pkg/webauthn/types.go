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

package webauthn

import (
	"bytes"
	"crypto/sha256"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// CeremonyKind distinguishes the two challenge flavours stored per email.
type CeremonyKind string

const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
)

// User is the persisted account document, keyed by normalized email.
// It implements webauthn.User.
type User struct {
	// Email is the normalized email address and the document key.
	Email string `json:"email"`

	// ID is the WebAuthn user handle, see UserHandle.
	ID []byte `json:"id"`

	// Credentials are the passkeys registered for this user.
	Credentials []*Credential `json:"credentials"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserHandle derives the WebAuthn user handle from a normalized email.
// The handle is opaque to authenticators and stable for the address.
func UserHandle(email string) []byte {
	sum := sha256.Sum256([]byte(email))
	return sum[:]
}

// NewUser creates an empty user document for a normalized email.
func NewUser(email string, now time.Time) *User {
	return &User{
		Email:     email,
		ID:        UserHandle(email),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WebAuthnID returns the user handle.
func (u *User) WebAuthnID() []byte {
	return u.ID
}

// WebAuthnName returns the email address.
func (u *User) WebAuthnName() string {
	return u.Email
}

// WebAuthnDisplayName returns the email address; accounts carry no other name.
func (u *User) WebAuthnDisplayName() string {
	return u.Email
}

// WebAuthnCredentials returns the credentials in go-webauthn form.
func (u *User) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.Credentials))
	for i, c := range u.Credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}

// AddCredential appends a credential to the user.
func (u *User) AddCredential(cred *Credential) {
	u.Credentials = append(u.Credentials, cred)
}

// FindCredential returns the credential with the given raw ID.
func (u *User) FindCredential(id []byte) (*Credential, bool) {
	for _, c := range u.Credentials {
		if bytes.Equal(c.ID, id) {
			return c, true
		}
	}
	return nil, false
}

// CredentialDescriptors builds the allow-list for an assertion request.
func (u *User) CredentialDescriptors() []protocol.CredentialDescriptor {
	list := make([]protocol.CredentialDescriptor, len(u.Credentials))
	for i, c := range u.Credentials {
		list[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
			Transport:    c.Transport,
		}
	}
	return list
}

// Credential represents a WebAuthn credential stored by the Relying Party.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// UserID is the user handle this credential belongs to.
	UserID []byte `json:"user_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation used.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports supported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Flags contains authenticator flags.
	Flags CredentialFlags `json:"flags"`

	// Authenticator contains authenticator-specific data.
	Authenticator AuthenticatorData `json:"authenticator"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential was last used for authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`
}

// AuthenticatorData contains authenticator-specific information.
type AuthenticatorData struct {
	// AAGUID is the authenticator's model identifier.
	AAGUID []byte `json:"aaguid"`

	// SignCount is the signature counter for clone detection.
	SignCount uint32 `json:"sign_count"`

	// CloneWarning is set when a login presented a counter that did not advance.
	CloneWarning bool `json:"clone_warning"`

	// Attachment indicates how the authenticator is attached.
	Attachment protocol.AuthenticatorAttachment `json:"attachment"`
}

// ToWebAuthn converts a Credential to the go-webauthn library's Credential type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.Authenticator.AAGUID,
			SignCount:    c.Authenticator.SignCount,
			CloneWarning: c.Authenticator.CloneWarning,
			Attachment:   c.Authenticator.Attachment,
		},
	}
}

// FromWebAuthnCredential creates a Credential from the go-webauthn library's type.
func FromWebAuthnCredential(userID []byte, wc *webauthn.Credential, now time.Time) *Credential {
	return &Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		Authenticator: AuthenticatorData{
			AAGUID:       wc.Authenticator.AAGUID,
			SignCount:    wc.Authenticator.SignCount,
			CloneWarning: wc.Authenticator.CloneWarning,
			Attachment:   wc.Authenticator.Attachment,
		},
		CreatedAt: now,
	}
}

// Challenge is the pending ceremony state for one email. A new begin step
// replaces it; a complete step consumes it.
type Challenge struct {
	Email     string               `json:"email"`
	Ceremony  CeremonyKind         `json:"ceremony"`
	RPID      string               `json:"rp_id"`
	Session   webauthn.SessionData `json:"session"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Expired reports whether the challenge can no longer be completed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Result is returned by both complete operations.
type Result struct {
	Verified bool   `json:"verified"`
	Token    string `json:"token"`
	Email    string `json:"email"`
}
