package http

import (
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// NewClient returns a client sending the steiger user agent, JSON content
// type and the given extra headers.
func NewClient(headers map[string]string) *http.Client {
	all := map[string]string{
		UserAgentHeader: UserAgent(),
		"Content-Type":  "application/json",
	}
	for k, v := range headers {
		all[k] = v
	}
	return &http.Client{
		Timeout:   defaultTimeout,
		Transport: NewTransport(all, nil),
	}
}
