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

package rest

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeremyhahn/go-passkeys/pkg/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, nil)

	handler := s.RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webauthn-register", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, ErrorCodeInternal, decodeError(t, rr).Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(t, func(c *Config) {
		c.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	handler := s.LoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/blog-upload", nil))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var completed map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &completed))
	assert.Equal(t, "Request completed", completed["msg"])
	assert.Equal(t, "/blog-upload", completed["path"])
	assert.EqualValues(t, http.StatusCreated, completed["status"])
	assert.Equal(t, "anonymous", completed["subject"])
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCorrelationHeaderPropagated(t *testing.T) {
	s := newTestServer(t, nil)

	rr := serve(s, http.MethodGet, "/health", "", http.Header{
		correlation.CorrelationIDHeader: {"req-123"},
	})
	assert.Equal(t, "req-123", rr.Header().Get(correlation.CorrelationIDHeader))

	rr = serve(s, http.MethodGet, "/health", "", http.Header{
		"x-correlation-id": {"req-456"},
	})
	assert.Equal(t, "req-456", rr.Header().Get(correlation.CorrelationIDHeader))
}
