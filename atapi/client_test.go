package atapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuery(t *testing.T) {
	assert := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/xrpc/com.example.getThing", r.URL.Path)
		assert.Equal("abc", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode(map[string]string{"value": "hi"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	var out struct {
		Value string `json:"value"`
	}
	err := c.Get(context.Background(), "com.example.getThing", map[string]any{"id": "abc"}, &out)
	require.NoError(t, err)
	assert.Equal("hi", out.Value)
}

func TestErrorResponse(t *testing.T) {
	assert := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "InvalidRequest", "message": "no such record"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	err := c.Get(context.Background(), "com.example.getThing", nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal("com.example.getThing", apiErr.Endpoint)
	assert.Equal("InvalidRequest", apiErr.Name)
	assert.Contains(apiErr.Error(), "InvalidRequest")
	assert.Contains(apiErr.Error(), "no such record")
}

func TestErrorResponseUnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	err := c.Get(context.Background(), "com.example.getThing", nil, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Name)
}

func TestParseParams(t *testing.T) {
	assert := assert.New(t)

	qp, err := parseParams(map[string]any{"limit": 50, "reverse": true, "uris": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal("50", qp.Get("limit"))
	assert.Equal("true", qp.Get("reverse"))
	assert.Equal([]string{"a", "b"}, qp["uris"])

	_, err = parseParams(map[string]any{"bad": struct{}{}})
	assert.Error(err)
}
