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

package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		ctx           context.Context
		correlationID string
		want          string
	}{
		{"Add correlation ID to context", context.Background(), "test-correlation-id", "test-correlation-id"},
		{"Add correlation ID to nil context", nil, "test-correlation-id-2", "test-correlation-id-2"},
		{"Add empty correlation ID", context.Background(), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithCorrelationID(tt.ctx, tt.correlationID) //nolint:staticcheck // nil context is handled
			require.NotNil(t, ctx)
			assert.Equal(t, tt.want, GetCorrelationID(ctx))
		})
	}
}

func TestGetCorrelationID_Missing(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	assert.Empty(t, GetCorrelationID(nil)) //nolint:staticcheck // nil context is handled
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id := NewID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGetOrGenerate(t *testing.T) {
	assert.Equal(t, "existing", GetOrGenerate(WithCorrelationID(context.Background(), "existing")))

	generated := GetOrGenerate(context.Background())
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		want     string
		generate bool
	}{
		{"correlation header", map[string]string{CorrelationIDHeader: "abc-123"}, "abc-123", false},
		{"request id header", map[string]string{RequestIDHeader: "req-9"}, "req-9", false},
		{"correlation wins", map[string]string{CorrelationIDHeader: "c", RequestIDHeader: "r"}, "c", false},
		{"none", nil, "", true},
		{"control characters", map[string]string{CorrelationIDHeader: "bad\tid"}, "", true},
		{"too long", map[string]string{CorrelationIDHeader: strings.Repeat("a", maxInboundLength+1)}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webauthn-login", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			got := FromRequest(req)
			if tt.generate {
				_, err := uuid.Parse(got)
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/webauthn-register", nil)
	req.Header.Set(CorrelationIDHeader, "trace-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "trace-1", seen)
	assert.Equal(t, "trace-1", rr.Header().Get(CorrelationIDHeader))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webauthn-register", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(CorrelationIDHeader))
}

func TestContextKeyIsolation(t *testing.T) {
	ctx := context.WithValue(context.Background(), "correlation-id", "plain-string-key") //nolint:staticcheck // testing key isolation
	assert.Empty(t, GetCorrelationID(ctx))
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewID()
	}
}

func BenchmarkGetOrGenerate(b *testing.B) {
	ctx := WithCorrelationID(context.Background(), "bench")
	for i := 0; i < b.N; i++ {
		_ = GetOrGenerate(ctx)
	}
}
