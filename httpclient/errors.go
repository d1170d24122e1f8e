package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure, including a proxy
// refusing or failing to tunnel the request.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	StatusCode int
}

func (e ErrServer) Error() string {
	return fmt.Sprintf("server: http status %d", e.StatusCode)
}

// ErrStatus is any other unsuccessful HTTP status.
type ErrStatus struct {
	StatusCode int
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// ErrorType maps err to a stable label for logs and metrics.
func ErrorType(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "status"
	}
	return "other"
}

// IsProxyFault reports whether err should be blamed on the outbound proxy:
// the connection failed, or the target is blocking the proxy's address.
func IsProxyFault(err error) bool {
	switch ErrorType(err) {
	case "connection", "forbidden", "rate_limited":
		return true
	}
	return false
}

// IsTransient reports whether retrying through the same proxy may succeed.
func IsTransient(err error) bool {
	switch ErrorType(err) {
	case "timeout", "server":
		return true
	}
	return false
}

// classifyError maps a transport error or status to the typed errors. When
// proxied is set, a transport failure that is neither a timeout nor a dial
// error happened while tunnelling through the proxy (a refused CONNECT, or the
// proxy hanging up) and is reported as ErrConnection.
func classifyError(err error, statusCode int, proxied bool) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: err}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return ErrConnection{Err: err}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrConnection{Err: err}
		}
		var urlErr *url.Error
		if proxied && errors.As(err, &urlErr) {
			return ErrConnection{Err: err}
		}
		return err
	}

	wrapped := fmt.Errorf("http status %d", statusCode)
	switch {
	case statusCode == http.StatusForbidden:
		return ErrForbidden{Err: wrapped}
	case statusCode == http.StatusNotFound:
		return ErrNotFound{Err: wrapped}
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{Err: wrapped}
	case statusCode == http.StatusProxyAuthRequired, statusCode == http.StatusBadGateway:
		// Answered by the proxy itself rather than the target.
		return ErrConnection{Err: wrapped}
	case statusCode >= http.StatusInternalServerError:
		return ErrServer{StatusCode: statusCode}
	}
	return ErrStatus{StatusCode: statusCode}
}
