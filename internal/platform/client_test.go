package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientUpdateRunMetadata(t *testing.T) {
	var got graphQLRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":{"updateRunMetadata":{"name":"run-1"}}}`))
	}))
	defer srv.Close()

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("secret-token\n"), 0o600))

	c, err := NewHTTPClient(srv.URL+"/", tokenFile, "unused", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.NoError(t, c.UpdateRunMetadata(context.Background(), "run-1", map[string]any{"mosaicml/loss": 0.5, "mosaicml/html": "<a>"}))

	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, updateRunMetadataMutation, got.Query)
	assert.Equal(t, "run-1", got.Variables["name"])
	assert.Equal(t, map[string]any{"mosaicml/loss": 0.5, "mosaicml/html": "<a>"}, got.Variables["metadata"])
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "", "key")
	require.NoError(t, err)
	err = c.UpdateRunMetadata(context.Background(), "run", nil)
	require.ErrorContains(t, err, "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestHTTPClientGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"run not found"},{"message":"forbidden"}]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "", "key")
	require.NoError(t, err)
	err = c.UpdateRunMetadata(context.Background(), "run", map[string]any{})
	require.ErrorContains(t, err, "run not found; forbidden")
}

func TestNewHTTPClientCredentials(t *testing.T) {
	_, err := NewHTTPClient("https://api.example.com", "", "")
	assert.Error(t, err)

	_, err = NewHTTPClient("https://api.example.com", filepath.Join(t.TempDir(), "missing"), "key")
	assert.Error(t, err)

	_, err = NewHTTPClient("", "", "key")
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	c, err := NewHTTPClient("https://api.example.com", empty, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", c.token)
}
