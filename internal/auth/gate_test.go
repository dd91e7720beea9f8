package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickingVerifier struct{}

func (panickingVerifier) Verify(context.Context, string) (Principal, error) {
	panic("verifier exploded")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureHandler records the principal seen by the wrapped handler.
type captureHandler struct {
	called     bool
	principal  Principal
	attributed bool
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.principal, c.attributed = PrincipalFromContext(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func TestTokenFromQuery(t *testing.T) {
	assert.Equal(t, "", TokenFromQuery(url.Values{}))
	assert.Equal(t, "a", TokenFromQuery(url.Values{"token": {"a"}}))
	assert.Equal(t, "b", TokenFromQuery(url.Values{"access_token": {"b"}}))
	assert.Equal(t, "a", TokenFromQuery(url.Values{"token": {"a"}, "access_token": {"b"}}))
}

func TestAttributionGate(t *testing.T) {
	now := time.Now()
	v, err := NewHS256Verifier(testSecret, WithClock(fixedClock(now)))
	require.NoError(t, err)

	valid, err := v.Issue("7", "bob", time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue("7", "bob", -time.Minute)
	require.NoError(t, err)

	testCases := []struct {
		name           string
		verifier       Verifier
		query          string
		wantAttributed bool
	}{
		{name: "no token", verifier: v, query: "", wantAttributed: false},
		{name: "valid token", verifier: v, query: "?token=" + valid, wantAttributed: true},
		{name: "valid access_token", verifier: v, query: "?access_token=" + valid, wantAttributed: true},
		{name: "expired token", verifier: v, query: "?token=" + expired, wantAttributed: false},
		{name: "garbage token", verifier: v, query: "?token=garbage", wantAttributed: false},
		{name: "panicking verifier", verifier: panickingVerifier{}, query: "?token=x", wantAttributed: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next := &captureHandler{}
			handler := AttributionGate(tc.verifier, newTestLogger())(next)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ws/connection"+tc.query, nil)
			handler.ServeHTTP(rr, req)

			assert.True(t, next.called, "gate must never reject")
			assert.Equal(t, http.StatusNoContent, rr.Code)
			assert.Equal(t, tc.wantAttributed, next.attributed)
			if tc.wantAttributed {
				assert.Equal(t, "7", next.principal.UserID)
			}
		})
	}
}

func TestRequireBearer(t *testing.T) {
	v, err := NewHS256Verifier(testSecret)
	require.NoError(t, err)
	valid, err := v.Issue("9", "", time.Hour)
	require.NoError(t, err)

	t.Run("missing header", func(t *testing.T) {
		next := &captureHandler{}
		rr := httptest.NewRecorder()
		RequireBearer(v, newTestLogger())(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, next.called)
		assert.JSONEq(t, `{"error":"Authorization header must start with Bearer"}`, rr.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		next := &captureHandler{}
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.Header.Set("Authorization", "Bearer nope")
		RequireBearer(v, newTestLogger())(next).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, next.called)
	})

	t.Run("valid token", func(t *testing.T) {
		next := &captureHandler{}
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		RequireBearer(v, newTestLogger())(next).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.True(t, next.attributed)
		assert.Equal(t, "9", next.principal.UserID)
	})
}
