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

// Package rest provides the HTTP server for passkeyd.
//
// The server hosts the passkey ceremony endpoints, the authenticated blog
// upload endpoint, health endpoints, Prometheus metrics and, when tokens are
// signed locally, the JWKS used to verify them.
//
// # Server Setup
//
//	handler := webauthnhttp.NewHandler(svc).WithLogger(logger)
//
//	server, _ := rest.NewServer(&rest.Config{
//	    Addr:       ":8888",
//	    Ceremonies: handler,
//	    Logger:     logger,
//	})
//
//	go server.Start()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	server.Stop(ctx)
//
// # Endpoints
//
// Ceremonies (POST with {step, email, response?}; OPTIONS answers 200):
//   - /webauthn-register
//   - /webauthn-login
//   - /.netlify/functions/webauthn-register
//   - /.netlify/functions/webauthn-login
//
// Blog (POST with Authorization: Bearer <session token>):
//   - /blog-upload
//   - /.netlify/functions/blog-upload
//
// Health Check:
//   - GET /health - Returns server health status
//   - GET /health/live - Liveness check
//   - GET /health/ready - Readiness check, includes storage
//   - GET /health/startup - Startup check
//
// Other:
//   - GET /metrics - Prometheus metrics (when enabled)
//   - GET /.well-known/jwks.json - Session token verification keys (jwt provider)
//
// # Middleware
//
// Every request passes through panic recovery, correlation id, access
// logging, metrics and CORS, in that order. Ceremony and upload routes are
// additionally rate limited per client IP.
package rest
