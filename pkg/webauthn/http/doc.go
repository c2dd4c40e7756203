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

// Package http exposes the ceremony service over HTTP.
//
// Two endpoints accept POST with a JSON body {step, email, rpID?, response?}
// and dispatch on step:
//
//	POST /webauthn-register  step: generate-options | verify-registration
//	POST /webauthn-login     step: generate-options | verify-authentication
//
// Both are also served under /.netlify/functions/. OPTIONS is answered with
// 200 for cross-origin preflight; every other method gets 405.
//
// generate-options returns the bare public key options object. The verify
// steps return:
//
//	{"verified": true, "token": "...", "email": "user@example.com"}
//
// Errors use the format:
//
//	{"error": "Challenge not found or expired", "code": "challenge_not_found"}
//
// with status 400, 401, 404, 405 or 500. See StatusFor.
package http
