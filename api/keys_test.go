package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banachtech/riskcube/db"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	key, record, err := GenerateAPIKey("quant@example.com", 24*time.Hour)
	require.NoError(t, err)

	prefix, secret, ok := strings.Cut(key, ".")
	require.True(t, ok)
	require.Len(t, prefix, prefixLength)
	require.Len(t, secret, secretLength)
	require.Equal(t, prefix, record.Prefix)
	require.NotContains(t, record.Token, secret)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(record.Token), []byte(key)))
	require.WithinDuration(t, time.Now().Add(24*time.Hour), record.ExpiredAt, time.Minute)

	_, _, err = GenerateAPIKey("", time.Hour)
	require.Error(t, err)
}

func TestGeneratedKeyAuthenticates(t *testing.T) {
	key, record, err := GenerateAPIKey("quant@example.com", time.Hour)
	require.NoError(t, err)
	store := db.NewMemStore()
	store.AddAPIKey(record)
	server := NewServer(store, testConfig(), nil)

	recorder := serve(t, server, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusNotFound, recorder.Code)

	request, err := http.NewRequest(http.MethodGet, "/v1/runs", nil)
	require.NoError(t, err)
	bearer(key)(t, request)
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, request)
	require.Equal(t, http.StatusOK, rec.Code)
}
