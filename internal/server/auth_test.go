package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFilterMissingHeader(t *testing.T) {
	f := NewAuthFilter(map[string]string{"tok": "alice"})
	req := httptest.NewRequest(http.MethodPut, "/cache/aa", nil)
	rec := httptest.NewRecorder()

	_, ok := f.Authenticate(rec, req)
	require.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestAuthFilterWrongScheme(t *testing.T) {
	f := NewAuthFilter(map[string]string{"tok": "alice"})
	req := httptest.NewRequest(http.MethodPut, "/cache/aa", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()

	_, ok := f.Authenticate(rec, req)
	require.False(t, ok)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthFilterUnknownToken(t *testing.T) {
	f := NewAuthFilter(map[string]string{"tok": "alice"})
	req := httptest.NewRequest(http.MethodPut, "/cache/aa", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()

	_, ok := f.Authenticate(rec, req)
	require.False(t, ok)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthFilterValidToken(t *testing.T) {
	f := NewAuthFilter(map[string]string{"tok": "alice"})
	req := httptest.NewRequest(http.MethodPut, "/cache/aa", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()

	user, ok := f.Authenticate(rec, req)
	require.True(t, ok)
	assert.Equal(t, "alice", user)
}
