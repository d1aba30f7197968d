package authclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

func TestVerifyForwardsHeaderAndDecodesClaims(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"claims":{"sub":"10","role":"patient"}}`))
	}))
	defer srv.Close()

	claims, err := New(srv.URL).Verify(context.Background(), "Bearer tok-123")
	require.NoError(t, err)
	assert.Equal(t, "10", claims.Sub)
	assert.Equal(t, "patient", claims.Role)
}

func TestVerifyRejectionCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"token is blacklisted (logged out)"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Verify(context.Background(), "Bearer revoked")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "blacklisted")
}

func TestVerifyRejectionWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Verify(context.Background(), "Bearer junk")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyUnreachableIsNotAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := New(srv.URL).Verify(context.Background(), "Bearer tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "auth service unreachable")
}
