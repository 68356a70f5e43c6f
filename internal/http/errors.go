package http

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
)

// Common errors.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
	ErrCertificate       = errors.New("http: certificate verification failed")
)

// StatusError is returned for unexpected status codes that have no
// dedicated sentinel.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status code: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, http.StatusText(code))
	default:
		return &StatusError{StatusCode: code, Status: http.StatusText(code)}
	}
}

// classifyTransportError marks certificate failures with ErrCertificate so
// callers can tell them apart from ordinary network faults.
func classifyTransportError(err error) error {
	var (
		verifyErr   *tls.CertificateVerificationError
		authority   x509.UnknownAuthorityError
		hostname    x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)

	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &authority),
		errors.As(err, &hostname),
		errors.As(err, &invalidCert):
		return fmt.Errorf("%w: %w", ErrCertificate, err)
	default:
		return err
	}
}

// retryable reports whether a probe failure is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrServerError):
		return true
	case errors.Is(err, ErrCertificate),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound):
		return false
	}

	var statusErr *StatusError
	return !errors.As(err, &statusErr)
}
