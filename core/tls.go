package core

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// OpenSSL X509_V_* codes reported as ssl_verifyresult.
const (
	verifyOK                = 0
	verifyUnspecified       = 1
	verifyCertHasExpired    = 10
	verifyDepthZeroSelfSign = 18
	verifyUnableToGetIssuer = 20
	verifyHostnameMismatch  = 62
)

const certTimeLayout = "Jan _2 15:04:05 2006 GMT"

// verifyPeer runs the verification InsecureSkipVerify skipped, for reporting only.
func verifyPeer(cs tls.ConnectionState) int64 {
	if len(cs.PeerCertificates) == 0 {
		return verifyUnspecified
	}
	intermediates := x509.NewCertPool()
	for _, cert := range cs.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	leaf := cs.PeerCertificates[0]
	_, err = leaf.Verify(x509.VerifyOptions{
		DNSName:       cs.ServerName,
		Roots:         roots,
		Intermediates: intermediates,
	})
	return verifyCode(err, cs.PeerCertificates)
}

func verifyCode(err error, chain []*x509.Certificate) int64 {
	var (
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case err == nil:
		return verifyOK
	case errors.As(err, &hostErr):
		return verifyHostnameMismatch
	case errors.As(err, &invalidErr) && invalidErr.Reason == x509.Expired:
		return verifyCertHasExpired
	case errors.As(err, &unknownAuth):
		if len(chain) == 1 && chain[0].CheckSignatureFrom(chain[0]) == nil {
			return verifyDepthZeroSelfSign
		}
		return verifyUnableToGetIssuer
	}
	return verifyUnspecified
}

// certInfo describes a peer chain with curl's certinfo field names.
func certInfo(chain []*x509.Certificate) []interface{} {
	certs := make([]interface{}, 0, len(chain))
	for _, cert := range chain {
		certs = append(certs, map[string]interface{}{
			"Subject":              cert.Subject.String(),
			"Issuer":               cert.Issuer.String(),
			"Version":              int64(cert.Version),
			"Serial Number":        fmt.Sprintf("%x", cert.SerialNumber),
			"Signature Algorithm":  cert.SignatureAlgorithm.String(),
			"Public Key Algorithm": cert.PublicKeyAlgorithm.String(),
			"Start date":           cert.NotBefore.UTC().Format(certTimeLayout),
			"Expire date":          cert.NotAfter.UTC().Format(certTimeLayout),
		})
	}
	return certs
}
