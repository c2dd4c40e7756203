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

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Endpoint paths.
const (
	PathRegister = "/webauthn-register"
	PathLogin    = "/webauthn-login"

	// LegacyPrefix serves the same endpoints under the serverless function
	// paths existing browser bundles call.
	LegacyPrefix = "/.netlify/functions"
)

// RouteEntry represents a single route with its path and handler. Handlers
// accept every method and answer OPTIONS and 405 themselves.
type RouteEntry struct {
	Path    string
	Handler http.HandlerFunc
}

// Routes returns the ceremony routes, including the legacy aliases.
//
// Example:
//
//	handler := webauthnhttp.NewHandler(svc)
//	for _, route := range handler.Routes() {
//	    router.Handle(route.Path, route.Handler)
//	}
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Path: PathRegister, Handler: h.Register},
		{Path: PathLogin, Handler: h.Login},
		{Path: LegacyPrefix + PathRegister, Handler: h.Register},
		{Path: LegacyPrefix + PathLogin, Handler: h.Login},
	}
}

// MountChi mounts the ceremony routes on a chi router.
//
// Example:
//
//	handler := webauthnhttp.NewHandler(svc)
//	r.Group(func(r chi.Router) {
//	    r.Use(limiter.Middleware)
//	    webauthnhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	for _, route := range h.Routes() {
		r.HandleFunc(route.Path, route.Handler)
	}
}

// MountStdlib mounts the ceremony routes on a stdlib http.ServeMux.
func MountStdlib(mux *http.ServeMux, h *Handler) {
	for _, route := range h.Routes() {
		mux.HandleFunc(route.Path, route.Handler)
	}
}
