package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kinds of network failure.
const (
	KindTimeout           = "timeout"
	KindDNS               = "dns"
	KindConnectionRefused = "connection_refused"
	KindConnectionReset   = "connection_reset"
	KindTLS               = "tls"
	KindRedirect          = "redirect"
	KindProtocol          = "protocol"
	KindOther             = "other"
)

// ErrTooManyRedirects is returned when the redirect limit is exceeded.
var ErrTooManyRedirects = errors.New("too many redirects")

// NetworkError is a request that produced no usable response.
type NetworkError struct {
	Kind string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool {
	return e.Kind == KindTimeout
}

// Classify wraps err in a *NetworkError with its kind. A *NetworkError is
// returned unchanged.
func Classify(err error) *NetworkError {
	if err == nil {
		return nil
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne
	}

	return &NetworkError{Kind: kindOf(err), Err: err}
}

func kindOf(err error) string {
	if errors.Is(err, ErrTooManyRedirects) {
		return KindRedirect
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindConnectionReset
	}

	var (
		recordErr    tls.RecordHeaderError
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return KindTLS
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindProtocol
	}
	msg := err.Error()
	if strings.Contains(msg, "malformed HTTP") || strings.Contains(msg, "server gave HTTP response to HTTPS client") {
		return KindProtocol
	}

	return KindOther
}
