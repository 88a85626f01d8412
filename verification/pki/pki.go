/*
Package pki validates certificate chains of Intel's SGX/TDX certificate hierarchy.

	                 ┌───────────────┐          ┌───────────────────┐
	                 │ Intel Root CA │◄─────────┤ Intel Root CA CRL │
	                 └───────┬───────┘  Signs   └─────────┬─────────┘
	                         │                            │
	                       Signs                       Revokes
	                         │                            │
	         ┌───────────────┴───────────┐                │
	         ▼                           ▼                │
	┌─────────────────┐        ┌──────────────────┐       │
	│   PCK CA Cert   │        │ TCB Signing Cert │◄──────┤
	└────────┬────────┘        └──────────────────┘       │
	         │    ▲                                       │
	       Signs  └───────────────────────────────────────┘
	         │
	         ▼
	   ┌──────────┐          ┌─────────┐
	   │ PCK Cert │◄─────────┤ PCK CRL │
	   └──────────┘  Revokes └─────────┘

The PCK CA is either the Intel SGX PCK Platform CA or the Intel SGX PCK Processor CA.
Validation never consults the wall clock: every check is performed at a caller supplied time.
*/
package pki

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-dcap-qvl/verification/crypto"
)

var (
	// ErrCertChainInvalid is returned if the chain is not linked to the trust anchor,
	// or if revocation information for a certificate is missing or invalid.
	ErrCertChainInvalid = errors.New("invalid certificate chain")
	// ErrCertExpired is returned if a certificate or CRL is used after its validity period.
	ErrCertExpired = errors.New("certificate expired")
	// ErrCertNotYetValid is returned if a certificate or CRL is used before its validity period.
	ErrCertNotYetValid = errors.New("certificate not yet valid")
	// ErrCertRevoked is returned if a certificate of the chain is listed in its issuer's CRL.
	ErrCertRevoked = errors.New("certificate revoked")
)

// intelRootCA is the PEM encoded Intel SGX/TDX Root CA Certificate.
const intelRootCA = "-----BEGIN CERTIFICATE-----\nMIICjzCCAjSgAwIBAgIUImUM1lqdNInzg7SVUr9QGzknBqwwCgYIKoZIzj0EAwIw\naDEaMBgGA1UEAwwRSW50ZWwgU0dYIFJvb3QgQ0ExGjAYBgNVBAoMEUludGVsIENv\ncnBvcmF0aW9uMRQwEgYDVQQHDAtTYW50YSBDbGFyYTELMAkGA1UECAwCQ0ExCzAJ\nBgNVBAYTAlVTMB4XDTE4MDUyMTEwNDUxMFoXDTQ5MTIzMTIzNTk1OVowaDEaMBgG\nA1UEAwwRSW50ZWwgU0dYIFJvb3QgQ0ExGjAYBgNVBAoMEUludGVsIENvcnBvcmF0\naW9uMRQwEgYDVQQHDAtTYW50YSBDbGFyYTELMAkGA1UECAwCQ0ExCzAJBgNVBAYT\nAlVTMFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAEC6nEwMDIYZOj/iPWsCzaEKi7\n1OiOSLRFhWGjbnBVJfVnkY4u3IjkDYYL0MxO4mqsyYjlBalTVYxFP2sJBK5zlKOB\nuzCBuDAfBgNVHSMEGDAWgBQiZQzWWp00ifODtJVSv1AbOScGrDBSBgNVHR8ESzBJ\nMEegRaBDhkFodHRwczovL2NlcnRpZmljYXRlcy50cnVzdGVkc2VydmljZXMuaW50\nZWwuY29tL0ludGVsU0dYUm9vdENBLmRlcjAdBgNVHQ4EFgQUImUM1lqdNInzg7SV\nUr9QGzknBqwwDgYDVR0PAQH/BAQDAgEGMBIGA1UdEwEB/wQIMAYBAf8CAQEwCgYI\nKoZIzj0EAwIDSQAwRgIhAOW/5QkR+S9CiSDcNoowLuPRLsWGf/Yi7GSX94BgwTwg\nAiEA4J0lrHoMs+Xo5o/sX6O9QWxHRAvZUGOdRQ7cvqRXaqI=\n-----END CERTIFICATE-----\n"

// IntelRootCA returns Intel's production SGX/TDX root CA certificate.
func IntelRootCA() *x509.Certificate {
	return crypto.MustParsePEMCertificate([]byte(intelRootCA))
}

// Fingerprint returns the SHA-256 digest of the certificate's DER encoding.
func Fingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.Raw)
}

// VerifyChain validates a certificate chain at time now.
//
// The chain is ordered leaf first, and each certificate must be issued by its successor.
// The last certificate must be issued by the anchor, which must be self-signed.
// A trailing copy of the anchor in the chain is ignored.
// Every certificate, including the anchor, must be valid at now.
// Every certificate except the anchor is checked against the CRL of its issuer,
// which must be present in crls, signed by the issuer, and valid at now.
func VerifyChain(chain []*x509.Certificate, anchor *x509.Certificate, crls []*x509.RevocationList, now time.Time) error {
	if anchor == nil {
		return fmt.Errorf("%w: no trust anchor", ErrCertChainInvalid)
	}
	if len(chain) > 0 && chain[len(chain)-1].Equal(anchor) {
		chain = chain[:len(chain)-1]
	}

	if err := checkCA(anchor); err != nil {
		return err
	}
	if err := anchor.CheckSignatureFrom(anchor); err != nil {
		return fmt.Errorf("%w: trust anchor is not self-signed: %w", ErrCertChainInvalid, err)
	}
	if err := checkValidity(anchor, now); err != nil {
		return err
	}

	for i, cert := range chain {
		issuer := anchor
		if i+1 < len(chain) {
			issuer = chain[i+1]
		}

		if err := checkIssuedBy(cert, issuer); err != nil {
			return err
		}
		if err := checkValidity(cert, now); err != nil {
			return err
		}
		if err := checkRevocation(cert, issuer, crls, now); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCRL checks that crl was issued by issuer and is valid at now.
func VerifyCRL(crl *x509.RevocationList, issuer *x509.Certificate, now time.Time) error {
	if !bytes.Equal(crl.RawIssuer, issuer.RawSubject) {
		return fmt.Errorf("%w: CRL issuer %q does not match certificate %q", ErrCertChainInvalid, crl.Issuer, issuer.Subject)
	}
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("%w: checking CRL signature of %q: %w", ErrCertChainInvalid, crl.Issuer, err)
	}
	if now.Before(crl.ThisUpdate) {
		return fmt.Errorf("%w: CRL of %q is valid from %s", ErrCertNotYetValid, crl.Issuer, crl.ThisUpdate)
	}
	if crl.NextUpdate.IsZero() || now.After(crl.NextUpdate) {
		return fmt.Errorf("%w: CRL of %q expired at %s", ErrCertExpired, crl.Issuer, crl.NextUpdate)
	}
	return nil
}

func checkIssuedBy(cert, issuer *x509.Certificate) error {
	if !bytes.Equal(cert.RawIssuer, issuer.RawSubject) {
		return fmt.Errorf("%w: issuer %q of %q does not match %q", ErrCertChainInvalid, cert.Issuer, cert.Subject, issuer.Subject)
	}
	if err := checkCA(issuer); err != nil {
		return err
	}
	if err := cert.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("%w: checking signature of %q: %w", ErrCertChainInvalid, cert.Subject, err)
	}
	return nil
}

// checkCA checks that cert may issue certificates.
func checkCA(cert *x509.Certificate) error {
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return fmt.Errorf("%w: %q is not a CA", ErrCertChainInvalid, cert.Subject)
	}
	if cert.KeyUsage != 0 && cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		return fmt.Errorf("%w: %q may not sign certificates", ErrCertChainInvalid, cert.Subject)
	}
	return nil
}

// checkValidity checks the certificate's validity period, both bounds inclusive.
func checkValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("%w: %q is valid from %s", ErrCertNotYetValid, cert.Subject, cert.NotBefore)
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w: %q expired at %s", ErrCertExpired, cert.Subject, cert.NotAfter)
	}
	return nil
}

func checkRevocation(cert, issuer *x509.Certificate, crls []*x509.RevocationList, now time.Time) error {
	crl := findCRL(crls, cert.RawIssuer)
	if crl == nil {
		return fmt.Errorf("%w: no CRL for issuer %q of %q", ErrCertChainInvalid, cert.Issuer, cert.Subject)
	}
	if err := VerifyCRL(crl, issuer, now); err != nil {
		return err
	}

	for _, revoked := range crl.RevokedCertificateEntries {
		if cert.SerialNumber.Cmp(revoked.SerialNumber) == 0 {
			return fmt.Errorf("%w: %q (serial %s) has been revoked by %q", ErrCertRevoked, cert.Subject, cert.SerialNumber, crl.Issuer)
		}
	}
	return nil
}

func findCRL(crls []*x509.RevocationList, rawIssuer []byte) *x509.RevocationList {
	for _, crl := range crls {
		if crl != nil && bytes.Equal(crl.RawIssuer, rawIssuer) {
			return crl
		}
	}
	return nil
}
