package http

import (
	"net/http"
)

const AuthorizationHeader = "Authorization"

// Transport sets default headers on every request that doesn't set them itself.
type Transport struct {
	headers map[string]string
	base    http.RoundTripper
}

func NewTransport(headers map[string]string, base http.RoundTripper) *Transport {
	return &Transport{headers: headers, base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
