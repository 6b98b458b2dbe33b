package browser

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Outcome classifies how a fetch went
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"

	// outcomes below require a retry
	Retry             Outcome = "retry"
	AntiScraping      Outcome = "anti_scraping"
	ProxyFailure      Outcome = "proxy_failure"
	MaybeProxyFailure Outcome = "maybe_proxy_failure"
)

// NeedsRetry reports whether the target should be fetched again
func (o Outcome) NeedsRetry() bool {
	switch o {
	case Retry, AntiScraping, ProxyFailure, MaybeProxyFailure:
		return true
	}
	return false
}

var (
	retryStatusCodes = map[int]bool{408: true, 500: true, 502: true, 503: true, 504: true}

	// the urls we follow should not produce these codes when no proxy is involved
	proxyErrorStatusCodes = map[int]bool{403: true, 404: true, 407: true, 515: true}
)

// ClassifyStatus maps an HTTP status code to an outcome
func ClassifyStatus(status int) Outcome {
	switch {
	case status == 200:
		return Success
	case proxyErrorStatusCodes[status]:
		return ProxyFailure
	case retryStatusCodes[status]:
		return Retry
	default:
		return Failure
	}
}

// ProxyRejectedError is returned when an http proxy answers a CONNECT with
// anything but 200
type ProxyRejectedError struct {
	Proxy  string
	Status int
}

func (e *ProxyRejectedError) Error() string {
	return fmt.Sprintf("proxy %s rejected tunnel with status %d", e.Proxy, e.Status)
}

// ClassifyError maps a transport or body read error to an outcome
func ClassifyError(err error) Outcome {
	if err == nil {
		return Success
	}
	if errors.Is(err, context.Canceled) {
		return Failure
	}

	var rejected *ProxyRejectedError
	if errors.As(err, &rejected) {
		return ProxyFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "proxyconnect", "socks connect":
			// could not reach the proxy at all, or the proxy refused the tunnel
			var inner *net.OpError
			if errors.As(opErr.Err, &inner) && inner.Op == "dial" {
				return MaybeProxyFailure
			}
			if isTimeout(opErr.Err) {
				return MaybeProxyFailure
			}
			return ProxyFailure
		}
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Retry
	}
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return Retry
	}

	// timeouts, refused dials, server disconnects
	return MaybeProxyFailure
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
