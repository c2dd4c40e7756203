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

// Package webauthn implements the passwordless ceremony orchestrator on top
// of go-webauthn/webauthn.
//
// A Service runs four operations:
//
//  1. BeginRegistration issues creation options for an unregistered email.
//  2. CompleteRegistration verifies the attestation and creates the user.
//  3. BeginAuthentication issues request options for a registered email.
//  4. CompleteAuthentication verifies the assertion.
//
// Each begin step stores one pending Challenge per email, replacing any
// earlier one. Each complete step takes the challenge atomically before
// verifying, so a challenge is usable at most once. Both complete steps
// return a Result carrying a session token minted by a TokenIssuer.
//
// Users and challenges are persisted through UserStore and ChallengeStore.
// BackendUserStore and BackendChallengeStore implement both over any
// storage.Backend.
//
//	backend := storage.NewMemory()
//	svc, err := webauthn.NewService(webauthn.ServiceParams{
//	    Config: &webauthn.Config{
//	        RPID:          "localhost",
//	        RPDisplayName: "My App",
//	        RPOrigins:     []string{"http://localhost:8888"},
//	    },
//	    UserStore:      webauthn.NewUserStore(backend),
//	    ChallengeStore: webauthn.NewChallengeStore(backend),
//	    Issuer:         issuer,
//	})
//
// The http subpackage exposes the service as the two step-dispatched
// endpoints /webauthn-register and /webauthn-login.
package webauthn
