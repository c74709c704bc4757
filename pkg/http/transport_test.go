package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportAddsHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(map[string]string{AuthorizationHeader: "Basic dG9rZW4="})
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "Basic dG9rZW4=", got.Get(AuthorizationHeader))
	require.Equal(t, UserAgent(), got.Get(UserAgentHeader))
	require.Equal(t, "text/plain", got.Get("Content-Type"), "request headers win")
}

func TestUserAgent(t *testing.T) {
	require.Regexp(t, `^steiger/`, UserAgent())
}
