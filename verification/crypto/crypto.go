// Package crypto implements common crypto operations used to verify SGX and TDX quotes.
package crypto

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// ErrSignatureInvalid is returned if a signature does not verify, or can not be verified with the given key.
var ErrSignatureInvalid = errors.New("invalid signature")

// BuildECDSAPublicKey builds a P-256 ECDSA public key from its raw (X || Y) representation.
// The point must be on the curve.
func BuildECDSAPublicKey(rawPublicKey [64]byte) (*ecdsa.PublicKey, error) {
	// crypto/ecdh validates the point, ecdsa would accept any coordinates
	uncompressed := append([]byte{0x04}, rawPublicKey[:]...)
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, fmt.Errorf("%w: invalid P-256 public key: %w", ErrSignatureInvalid, err)
	}

	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()
	key.X = new(big.Int).SetBytes(rawPublicKey[:32])
	key.Y = new(big.Int).SetBytes(rawPublicKey[32:64])

	return key, nil
}

// VerifyECDSASignature verifies a raw (r || s) ECDSA signature over the SHA-256 digest of data,
// using the provided public key.
func VerifyECDSASignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing public key is not an ECDSA key", ErrSignatureInvalid)
	}
	if len(signature) != 64 {
		return fmt.Errorf("%w: expected 64 bytes but got %d bytes", ErrSignatureInvalid, len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	toVerify := sha256.Sum256(data)
	if !ecdsa.Verify(signingKey, toVerify[:], r, s) {
		return fmt.Errorf("%w: failed to verify signature using ECDSA public key", ErrSignatureInvalid)
	}
	return nil
}

// VerifyReportDataBinding checks that the first 32 bytes of a QE report's data are the
// SHA-256 digest of the attestation key and the QE authentication data, and that the rest is zero.
func VerifyReportDataBinding(reportData [64]byte, attestationKey [64]byte, authData []byte) error {
	h := sha256.New()
	h.Write(attestationKey[:])
	h.Write(authData)
	if !bytes.Equal(reportData[:32], h.Sum(nil)) {
		return fmt.Errorf("%w: QE report data does not match hash of attestation key and QE authentication data", ErrSignatureInvalid)
	}
	if !bytes.Equal(reportData[32:], make([]byte, 32)) {
		return fmt.Errorf("%w: QE report data is not zero padded", ErrSignatureInvalid)
	}
	return nil
}

// ParsePEMCertificateChain parses a certificate chain from a PEM-encoded byte slice.
// Trailing data after the last PEM block, like the \0 terminator of quote certification data, is ignored.
func ParsePEMCertificateChain(certChainPEM []byte) ([]*x509.Certificate, error) {
	var signingChain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}

		signingChain = append(signingChain, cert)
	}
	if len(signingChain) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return signingChain, nil
}

// ParseCertificate parses a single certificate given in either DER or PEM encoding.
func ParseCertificate(raw []byte) (*x509.Certificate, error) {
	if der, ok := pemBlock(raw, "CERTIFICATE"); ok {
		raw = der
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}

// ParseCRL parses a certificate revocation list given in either DER or PEM encoding.
func ParseCRL(raw []byte) (*x509.RevocationList, error) {
	if der, ok := pemBlock(raw, "X509 CRL"); ok {
		raw = der
	}
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing CRL: %w", err)
	}
	return crl, nil
}

// MustParsePEMCertificate parses a single certificate from a PEM-encoded byte slice.
// If multiple certificates are present, only the first one is returned.
// It panics if the certificate is invalid or the PEM data contains no certificates.
func MustParsePEMCertificate(certPEM []byte) *x509.Certificate {
	certs, err := ParsePEMCertificateChain(certPEM)
	if err != nil {
		panic(err)
	}
	return certs[0]
}

func pemBlock(raw []byte, blockType string) ([]byte, bool) {
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != blockType {
		return nil, false
	}
	return block.Bytes, true
}
