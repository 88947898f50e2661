package core

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Error codes share curl's CURLE_* numbering so that exit statuses match.
const (
	CodeUnsupportedProtocol    = 1
	CodeFailedInit             = 2
	CodeURLMalformat           = 3
	CodeCouldntResolveHost     = 6
	CodeCouldntConnect         = 7
	CodeWriteError             = 23
	CodeUploadFailed           = 25
	CodeOperationTimedout      = 28
	CodeSSLConnectError        = 35
	CodeTooManyRedirects       = 47
	CodeRecvError              = 56
	CodePeerFailedVerification = 60
	CodeLoginDenied            = 67
	CodeRemoteFileNotFound     = 78
)

var errTooManyRedirects = errors.New("maximum redirects followed")

type TransferError struct {
	Code int
	Err  error
}

func newTransferError(code int, err error) error {
	return &TransferError{Code: code, Err: err}
}

func (err *TransferError) Error() string {
	return fmt.Sprintf("(%d) %s", err.Code, err.Err)
}

func (err *TransferError) Unwrap() error {
	return err.Err
}

// asTransferError keeps codes already assigned by an engine and classifies everything else.
func asTransferError(err error) error {
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	return newTransferError(errorCode(err), err)
}

func errorCode(err error) int {
	var (
		netErr      net.Error
		dnsErr      *net.DNSError
		opErr       *net.OpError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
	)
	switch {
	case errors.Is(err, errTooManyRedirects):
		return CodeTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded):
		return CodeOperationTimedout
	case errors.As(err, &netErr) && netErr.Timeout():
		return CodeOperationTimedout
	case errors.As(err, &dnsErr):
		return CodeCouldntResolveHost
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return CodePeerFailedVerification
	case errors.As(err, &recordErr), errors.As(err, &alertErr):
		return CodeSSLConnectError
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return CodeCouldntConnect
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return CodeCouldntConnect
	case errors.As(err, &opErr) && opErr.Op == "read":
		return CodeRecvError
	}
	return CodeFailedInit
}

// errnoOf extracts the OS error number of a failed connect, or 0.
func errnoOf(err error) int64 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int64(errno)
	}
	return 0
}
