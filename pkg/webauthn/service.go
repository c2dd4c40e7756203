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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
	"github.com/jeremyhahn/go-passkeys/pkg/validation"
)

// Service runs the four ceremony operations: begin and complete for both
// registration and authentication.
type Service struct {
	relyingParties map[string]*webauthn.WebAuthn
	config         *Config
	users          UserStore
	challenges     ChallengeStore
	issuer         TokenIssuer
	logger         *slog.Logger
	now            func() time.Time
}

// ServiceParams contains dependencies for creating a Service.
type ServiceParams struct {
	// Config is the WebAuthn configuration (required).
	Config *Config

	// UserStore is the user persistence layer (required).
	UserStore UserStore

	// ChallengeStore is the pending challenge persistence layer (required).
	ChallengeStore ChallengeStore

	// Issuer mints session tokens after successful ceremonies (required).
	Issuer TokenIssuer

	// Logger receives ceremony logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewService creates a Service with one go-webauthn relying party per
// configured RP ID.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.UserStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.Issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rps := make(map[string]*webauthn.WebAuthn)
	for _, rpID := range params.Config.RPIDs() {
		if err := validation.ValidateRPID(rpID); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		wa, err := webauthn.New(params.Config.ToWebAuthnConfig(rpID))
		if err != nil {
			return nil, fmt.Errorf("failed to create webauthn instance for %s: %w", rpID, err)
		}
		rps[rpID] = wa
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		relyingParties: rps,
		config:         params.Config,
		users:          params.UserStore,
		challenges:     params.ChallengeStore,
		issuer:         params.Issuer,
		logger:         logger,
		now:            clock,
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// BeginRegistration issues creation options for an email that has no account
// yet and stores the matching challenge. rpID may be empty.
func (s *Service) BeginRegistration(ctx context.Context, email, rpID string) (options *protocol.CredentialCreation, err error) {
	const op = "begin registration"
	defer s.observe(CeremonyRegistration, metrics.StepBegin, time.Now(), &err)

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, NewError(op, err)
	}
	wa, rpID, err := s.relyingParty(rpID)
	if err != nil {
		return nil, NewError(op, err)
	}

	if _, err := s.users.Get(ctx, email); err == nil {
		return nil, NewError(op, ErrAlreadyRegistered)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, NewError(op, err)
	}

	now := s.now().UTC()
	user := NewUser(email, now)

	options, session, err := wa.BeginRegistration(user)
	if err != nil {
		return nil, NewError(op, fmt.Errorf("create options: %w", err))
	}

	if err := s.challenges.Put(ctx, s.newChallenge(email, CeremonyRegistration, rpID, session, now)); err != nil {
		return nil, NewError(op, err)
	}

	s.logger.InfoContext(ctx, "Registration options issued",
		"email", validation.SanitizeForLog(email),
		"rp_id", rpID)
	return options, nil
}

// CompleteRegistration consumes the pending registration challenge, verifies
// the attestation, creates the user and mints a session token. The challenge
// is gone once this returns, whatever the outcome.
func (s *Service) CompleteRegistration(ctx context.Context, email string, response []byte) (result *Result, err error) {
	const op = "complete registration"
	defer s.observe(CeremonyRegistration, metrics.StepComplete, time.Now(), &err)

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, NewError(op, err)
	}
	if len(bytes.TrimSpace(response)) == 0 {
		return nil, NewError(op, invalidf("Response is required"))
	}

	challenge, wa, err := s.takeChallenge(ctx, email, CeremonyRegistration)
	if err != nil {
		return nil, NewError(op, err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, NewError(op, s.verificationFailed(ctx, op, email, err))
	}

	now := s.now().UTC()
	user := NewUser(email, now)
	cred, err := wa.CreateCredential(user, challenge.Session, parsed)
	if err != nil {
		return nil, NewError(op, s.verificationFailed(ctx, op, email, err))
	}
	user.AddCredential(FromWebAuthnCredential(user.ID, cred, now))

	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, ErrAlreadyRegistered) {
			s.logger.ErrorContext(ctx, "Failed to persist user",
				"email", validation.SanitizeForLog(email), "error", err)
		}
		return nil, NewError(op, err)
	}

	token, err := s.mint(ctx, email)
	if err != nil {
		return nil, NewError(op, err)
	}

	s.logger.InfoContext(ctx, "Registration verified",
		"email", validation.SanitizeForLog(email),
		"rp_id", challenge.RPID)
	return &Result{Verified: true, Token: token, Email: email}, nil
}

// BeginAuthentication issues request options restricted to the user's
// credentials and stores the challenge, replacing any pending one.
func (s *Service) BeginAuthentication(ctx context.Context, email, rpID string) (options *protocol.CredentialAssertion, err error) {
	const op = "begin authentication"
	defer s.observe(CeremonyAuthentication, metrics.StepBegin, time.Now(), &err)

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, NewError(op, err)
	}
	wa, rpID, err := s.relyingParty(rpID)
	if err != nil {
		return nil, NewError(op, err)
	}

	user, err := s.users.Get(ctx, email)
	if err != nil {
		return nil, NewError(op, err)
	}
	if len(user.Credentials) == 0 {
		return nil, NewError(op, ErrUserNotFound)
	}

	options, session, err := wa.BeginLogin(user,
		webauthn.WithAllowedCredentials(user.CredentialDescriptors()),
		webauthn.WithUserVerification(s.config.userVerification()),
	)
	if err != nil {
		return nil, NewError(op, fmt.Errorf("create options: %w", err))
	}

	now := s.now().UTC()
	if err := s.challenges.Put(ctx, s.newChallenge(email, CeremonyAuthentication, rpID, session, now)); err != nil {
		return nil, NewError(op, err)
	}

	s.logger.InfoContext(ctx, "Authentication options issued",
		"email", validation.SanitizeForLog(email),
		"rp_id", rpID,
		"credentials", len(user.Credentials))
	return options, nil
}

// CompleteAuthentication consumes the pending authentication challenge,
// verifies the assertion against the stored credential and mints a token.
// An assertion naming an unknown credential fails with ErrCredentialNotFound.
func (s *Service) CompleteAuthentication(ctx context.Context, email string, response []byte) (result *Result, err error) {
	const op = "complete authentication"
	defer s.observe(CeremonyAuthentication, metrics.StepComplete, time.Now(), &err)

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, NewError(op, err)
	}
	if len(bytes.TrimSpace(response)) == 0 {
		return nil, NewError(op, invalidf("Response is required"))
	}

	challenge, wa, err := s.takeChallenge(ctx, email, CeremonyAuthentication)
	if err != nil {
		return nil, NewError(op, err)
	}

	user, err := s.users.Get(ctx, email)
	if err != nil {
		return nil, NewError(op, err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, NewError(op, s.verificationFailed(ctx, op, email, err))
	}

	stored, ok := user.FindCredential(parsed.RawID)
	if !ok {
		s.logger.WarnContext(ctx, "Assertion names unknown credential",
			"email", validation.SanitizeForLog(email))
		return nil, NewError(op, ErrCredentialNotFound)
	}

	cred, err := wa.ValidateLogin(user, challenge.Session, parsed)
	if err != nil {
		return nil, NewError(op, s.verificationFailed(ctx, op, email, err))
	}

	if err := s.applySignCount(ctx, user, stored, cred); err != nil {
		return nil, NewError(op, err)
	}

	token, err := s.mint(ctx, email)
	if err != nil {
		return nil, NewError(op, err)
	}

	s.logger.InfoContext(ctx, "Authentication verified",
		"email", validation.SanitizeForLog(email),
		"rp_id", challenge.RPID,
		"sign_count", cred.Authenticator.SignCount)
	return &Result{Verified: true, Token: token, Email: email}, nil
}

// GetUser returns the stored user for email.
func (s *Service) GetUser(ctx context.Context, email string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, NewError("get user", err)
	}
	user, err := s.users.Get(ctx, email)
	return user, WrapError("get user", err)
}

// ListUsers returns every registered email.
func (s *Service) ListUsers(ctx context.Context) ([]string, error) {
	emails, err := s.users.List(ctx)
	return emails, WrapError("list users", err)
}

// applySignCount writes the verifier's view of the credential back to the
// user document according to the configured policy.
func (s *Service) applySignCount(ctx context.Context, user *User, stored *Credential, verified *webauthn.Credential) error {
	if verified.Authenticator.CloneWarning {
		s.logger.WarnContext(ctx, "Signature counter did not advance",
			"email", validation.SanitizeForLog(user.Email),
			"stored", stored.Authenticator.SignCount,
			"presented", verified.Authenticator.SignCount,
			"policy", s.config.SignCountPolicy)
		if s.config.SignCountPolicy == SignCountEnforce {
			return fmt.Errorf("%w: %w", ErrVerificationFailed, ErrClonedAuthenticator)
		}
	}

	if s.config.SignCountPolicy == SignCountIgnore {
		return nil
	}

	now := s.now().UTC()
	stored.Authenticator.SignCount = verified.Authenticator.SignCount
	stored.Authenticator.CloneWarning = verified.Authenticator.CloneWarning
	stored.Flags.BackupState = verified.Flags.BackupState
	stored.LastUsedAt = now
	user.UpdatedAt = now

	if err := s.users.Update(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist sign count",
			"email", validation.SanitizeForLog(user.Email), "error", err)
		return err
	}
	return nil
}

// takeChallenge consumes the pending challenge for email and checks it
// belongs to the expected ceremony and is still fresh.
func (s *Service) takeChallenge(ctx context.Context, email string, kind CeremonyKind) (*Challenge, *webauthn.WebAuthn, error) {
	challenge, err := s.challenges.Take(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if challenge.Ceremony != kind || challenge.Email != email {
		return nil, nil, ErrChallengeNotFound
	}
	if challenge.Expired(s.now()) {
		return nil, nil, ErrChallengeExpired
	}

	wa, ok := s.relyingParties[challenge.RPID]
	if !ok {
		return nil, nil, ErrChallengeNotFound
	}
	return challenge, wa, nil
}

func (s *Service) newChallenge(email string, kind CeremonyKind, rpID string, session *webauthn.SessionData, now time.Time) *Challenge {
	return &Challenge{
		Email:     email,
		Ceremony:  kind,
		RPID:      rpID,
		Session:   *session,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.ChallengeTTL),
	}
}

// relyingParty resolves the requested RP ID against the allow-list.
func (s *Service) relyingParty(rpID string) (*webauthn.WebAuthn, string, error) {
	if rpID == "" {
		rpID = s.config.RPID
	}
	wa, ok := s.relyingParties[rpID]
	if !ok {
		return nil, "", ErrRPIDNotAllowed
	}
	return wa, rpID, nil
}

func (s *Service) mint(ctx context.Context, email string) (string, error) {
	token, err := s.issuer.Mint(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to mint session token",
			"email", validation.SanitizeForLog(email), "error", err)
		return "", fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	return token, nil
}

func (s *Service) verificationFailed(ctx context.Context, op, email string, err error) error {
	attrs := []any{
		"op", op,
		"email", validation.SanitizeForLog(email),
		"error", err,
	}
	var perr *protocol.Error
	if errors.As(err, &perr) {
		attrs = append(attrs, "type", perr.Type, "info", perr.DevInfo)
	}
	s.logger.WarnContext(ctx, "Verification failed", attrs...)
	return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
}

func (s *Service) observe(kind CeremonyKind, step string, start time.Time, errp *error) {
	err := *errp
	metrics.RecordCeremony(string(kind), step, metrics.StatusFor(err), time.Since(start).Seconds())
	if err != nil {
		metrics.RecordError(string(kind), ErrorType(err))
	}
}

func normalizeEmail(email string) (string, error) {
	if email == "" {
		return "", invalidf("Email is required")
	}
	normalized, err := validation.NormalizeEmail(email)
	if err != nil {
		return "", invalidf("Invalid email: %v", err)
	}
	return normalized, nil
}
