package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// PushError is a failed presence check or upload of one image.
type PushError struct {
	Image     string
	Reference string
	Cause     error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing %s to %s: %v", e.Image, e.Reference, e.Cause)
}

func (e *PushError) Unwrap() error {
	return e.Cause
}

func checkError(err error, codes ...transport.ErrorCode) bool {
	if err == nil {
		return false
	}

	var e *transport.Error
	if errors.As(err, &e) {
		for _, diagnosticErr := range e.Errors {
			for _, code := range codes {
				if diagnosticErr.Code == code {
					return true
				}
			}
		}
	}
	return false
}

func statusCode(err error) int {
	var e *transport.Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// isNotFound reports whether a presence check says the content is absent.
// HEAD responses carry no body, so the status code alone counts.
func isNotFound(err error) bool {
	return checkError(err, transport.ManifestUnknownErrorCode, transport.NameUnknownErrorCode) ||
		statusCode(err) == http.StatusNotFound
}

func isAuthError(err error) bool {
	if checkError(err, transport.UnauthorizedErrorCode, transport.DeniedErrorCode) {
		return true
	}
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// isRetryableError determines if an error should trigger a retry.
// This matches the go-containerregistry default retry predicate plus additional cases.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isAuthError(err) {
		return false
	}

	var tempErr interface{ Temporary() bool }
	if errors.As(err, &tempErr) && tempErr.Temporary() {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	switch statusCode(err) {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		499, // nginx-specific, client closed request
		522: // Cloudflare-specific, connection timeout
		return true
	}

	var netErr *net.OpError
	return errors.As(err, &netErr)
}
