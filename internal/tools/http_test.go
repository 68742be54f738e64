package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("X-Echo", r.Header.Get("X-Token"))
			w.Write([]byte("fine"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", MaxResponseSize+1)))
		default:
			http.Error(w, "upstream down", http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	tool := HTTPGet{Client: srv.Client()}

	out, err := tool.Call(context.Background(), map[string]any{
		"url":     srv.URL + "/ok",
		"headers": map[string]any{"X-Token": "abc"},
	})
	require.NoError(t, err)
	got := out.(httpResponse)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "fine", got.Body)
	assert.Equal(t, 4, got.Size)
	assert.Equal(t, "abc", got.Headers["X-Echo"])

	_, err = tool.Call(context.Background(), map[string]any{"url": srv.URL + "/fail"})
	assert.EqualError(t, err, "HTTP 502")

	_, err = tool.Call(context.Background(), map[string]any{"url": srv.URL + "/big"})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTPGet_RejectsBadURLs(t *testing.T) {
	tool := HTTPGet{}
	for _, args := range []map[string]any{
		nil,
		{"url": "file:///etc/passwd"},
		{"url": "ftp://example.com"},
		{"url": "://nope"},
	} {
		_, err := tool.Call(context.Background(), args)
		assert.Error(t, err, "%v", args)
	}
}
