/*
Package collateral holds the collateral needed to verify a quote.

A Bundle is filled slot by slot from independently sourced documents, typically Intel PCS responses:

  - TCB Info and QE Identity, either typed or as signed PCS JSON responses
  - Intel root CA and TCB signing certificate (DER or PEM)
  - PCK certificate chain, optional if the quote embeds it (DER or PEM)
  - Root CA CRL, PCK Processor CA CRL and PCK Platform CA CRL (DER or PEM)

Slots are not validated against each other when set. [Bundle.Require] checks that the slots
needed for a TEE type are present at verification time.
The Bundle keeps its own copy of every input. Certificates and CRLs are parsed on access,
the returned values reference the Bundle's buffers and must not be modified.
A Bundle must not be modified while a verification using it is running.
*/
package collateral

import (
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edgelesssys/go-dcap-qvl/verification/crypto"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
	"github.com/tidwall/gjson"
)

// ErrMissingCollateral is returned if collateral required for a verification has not been set.
var ErrMissingCollateral = errors.New("missing collateral")

const (
	tcbInfoField    = "tcbInfo"
	qeIdentityField = "enclaveIdentity"
	signatureField  = "signature"
)

// SignedData is a PCS document body together with the signature over its exact bytes.
type SignedData struct {
	Body      []byte
	Signature []byte
}

// Bundle holds the collateral of a verification. The zero value is an empty bundle.
type Bundle struct {
	tcbInfo          *types.TCBInfo
	tcbInfoSigned    *SignedData
	qeIdentity       *types.QEIdentity
	qeIdentitySigned *SignedData

	rootCA          []byte
	tcbSigningCert  []byte
	pckCertChain    [][]byte
	rootCACRL       []byte
	pckProcessorCRL []byte
	pckPlatformCRL  []byte
}

// SetTCBInfo sets an already parsed and verified TCB Info.
func (b *Bundle) SetTCBInfo(tcbInfo types.TCBInfo) {
	b.tcbInfo = &tcbInfo
	b.tcbInfoSigned = nil
}

// SetTCBInfoJSON sets the TCB Info from a PCS response of the form {"tcbInfo": {...}, "signature": "..."}.
// The signature is verified during verification, using the TCB signing certificate.
func (b *Bundle) SetTCBInfoJSON(response []byte) error {
	signed, err := parseSignedResponse(response, tcbInfoField)
	if err != nil {
		return fmt.Errorf("parsing TCB Info response: %w", err)
	}
	var tcbInfo types.TCBInfo
	if err := json.Unmarshal(signed.Body, &tcbInfo); err != nil {
		return fmt.Errorf("unmarshaling TCB Info: %w", err)
	}
	b.tcbInfo = &tcbInfo
	b.tcbInfoSigned = &signed
	return nil
}

// SetQEIdentity sets an already parsed and verified QE Identity.
func (b *Bundle) SetQEIdentity(qeIdentity types.QEIdentity) {
	b.qeIdentity = &qeIdentity
	b.qeIdentitySigned = nil
}

// SetQEIdentityJSON sets the QE Identity from a PCS response of the form {"enclaveIdentity": {...}, "signature": "..."}.
// The signature is verified during verification, using the TCB signing certificate.
func (b *Bundle) SetQEIdentityJSON(response []byte) error {
	signed, err := parseSignedResponse(response, qeIdentityField)
	if err != nil {
		return fmt.Errorf("parsing QE Identity response: %w", err)
	}
	var qeIdentity types.QEIdentity
	if err := json.Unmarshal(signed.Body, &qeIdentity); err != nil {
		return fmt.Errorf("unmarshaling QE Identity: %w", err)
	}
	b.qeIdentity = &qeIdentity
	b.qeIdentitySigned = &signed
	return nil
}

// SetRootCA sets the Intel root CA certificate.
func (b *Bundle) SetRootCA(cert []byte) error {
	der, err := certificateDER(cert)
	if err != nil {
		return fmt.Errorf("setting root CA: %w", err)
	}
	b.rootCA = der
	return nil
}

// SetTCBSigningCert sets the certificate used to sign TCB Info and QE Identity.
func (b *Bundle) SetTCBSigningCert(cert []byte) error {
	der, err := certificateDER(cert)
	if err != nil {
		return fmt.Errorf("setting TCB signing certificate: %w", err)
	}
	b.tcbSigningCert = der
	return nil
}

// SetPCKCertChain sets the PCK certificate chain from PEM data, leaf first.
// The chain is only used if a quote does not embed its own.
func (b *Bundle) SetPCKCertChain(chainPEM []byte) error {
	chain, err := crypto.ParsePEMCertificateChain(chainPEM)
	if err != nil {
		return fmt.Errorf("setting PCK certificate chain: %w", err)
	}
	b.pckCertChain = make([][]byte, 0, len(chain))
	for _, cert := range chain {
		b.pckCertChain = append(b.pckCertChain, clone(cert.Raw))
	}
	return nil
}

// SetPCKCertChainDER sets the PCK certificate chain from DER encoded certificates, leaf first.
func (b *Bundle) SetPCKCertChainDER(chain ...[]byte) error {
	pckCertChain := make([][]byte, 0, len(chain))
	for i, der := range chain {
		cert, err := certificateDER(der)
		if err != nil {
			return fmt.Errorf("setting PCK certificate chain: certificate %d: %w", i, err)
		}
		pckCertChain = append(pckCertChain, cert)
	}
	b.pckCertChain = pckCertChain
	return nil
}

// SetRootCACRL sets the CRL of the Intel root CA.
func (b *Bundle) SetRootCACRL(crl []byte) error {
	der, err := crlDER(crl)
	if err != nil {
		return fmt.Errorf("setting root CA CRL: %w", err)
	}
	b.rootCACRL = der
	return nil
}

// SetPCKProcessorCRL sets the CRL of the Intel SGX PCK Processor CA.
func (b *Bundle) SetPCKProcessorCRL(crl []byte) error {
	der, err := crlDER(crl)
	if err != nil {
		return fmt.Errorf("setting PCK Processor CA CRL: %w", err)
	}
	b.pckProcessorCRL = der
	return nil
}

// SetPCKPlatformCRL sets the CRL of the Intel SGX PCK Platform CA.
func (b *Bundle) SetPCKPlatformCRL(crl []byte) error {
	der, err := crlDER(crl)
	if err != nil {
		return fmt.Errorf("setting PCK Platform CA CRL: %w", err)
	}
	b.pckPlatformCRL = der
	return nil
}

// Require checks that all collateral needed to verify a quote of the given TEE type is present.
func (b *Bundle) Require(teeType uint32) error {
	var missing []string
	if b.tcbInfo == nil {
		missing = append(missing, "TCB Info")
	}
	if b.qeIdentity == nil {
		missing = append(missing, "QE Identity")
	}
	if b.rootCA == nil {
		missing = append(missing, "root CA")
	}
	if b.tcbSigningCert == nil {
		missing = append(missing, "TCB signing certificate")
	}
	if b.rootCACRL == nil {
		missing = append(missing, "root CA CRL")
	}
	if b.pckProcessorCRL == nil && b.pckPlatformCRL == nil {
		missing = append(missing, "PCK CRL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCollateral, strings.Join(missing, ", "))
	}

	if teeType == types.TEETypeTDX && b.tcbInfo.Version < types.TCBInfoMinTDXVersion {
		return fmt.Errorf("%w: TDX requires TCB Info version %d or later, got version %d",
			ErrMissingCollateral, types.TCBInfoMinTDXVersion, b.tcbInfo.Version)
	}
	return nil
}

// TCBInfo returns the TCB Info, or false if it is not set.
func (b *Bundle) TCBInfo() (types.TCBInfo, bool) {
	if b.tcbInfo == nil {
		return types.TCBInfo{}, false
	}
	return *b.tcbInfo, true
}

// QEIdentity returns the QE Identity, or false if it is not set.
func (b *Bundle) QEIdentity() (types.QEIdentity, bool) {
	if b.qeIdentity == nil {
		return types.QEIdentity{}, false
	}
	return *b.qeIdentity, true
}

// SignedTCBInfo returns the signed TCB Info body, or false if the TCB Info was set typed.
func (b *Bundle) SignedTCBInfo() (SignedData, bool) {
	if b.tcbInfoSigned == nil {
		return SignedData{}, false
	}
	return *b.tcbInfoSigned, true
}

// SignedQEIdentity returns the signed QE Identity body, or false if the QE Identity was set typed.
func (b *Bundle) SignedQEIdentity() (SignedData, bool) {
	if b.qeIdentitySigned == nil {
		return SignedData{}, false
	}
	return *b.qeIdentitySigned, true
}

// RootCA returns the Intel root CA certificate.
func (b *Bundle) RootCA() (*x509.Certificate, error) {
	return parseCertificate(b.rootCA, "root CA")
}

// TCBSigningCert returns the TCB signing certificate.
func (b *Bundle) TCBSigningCert() (*x509.Certificate, error) {
	return parseCertificate(b.tcbSigningCert, "TCB signing certificate")
}

// HasPCKCertChain reports whether a PCK certificate chain is set.
func (b *Bundle) HasPCKCertChain() bool {
	return len(b.pckCertChain) > 0
}

// PCKCertChain returns the PCK certificate chain, leaf first.
func (b *Bundle) PCKCertChain() ([]*x509.Certificate, error) {
	if !b.HasPCKCertChain() {
		return nil, fmt.Errorf("%w: PCK certificate chain", ErrMissingCollateral)
	}
	chain := make([]*x509.Certificate, 0, len(b.pckCertChain))
	for _, der := range b.pckCertChain {
		cert, err := parseCertificate(der, "PCK certificate")
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// CRLs returns all CRLs of the bundle.
func (b *Bundle) CRLs() ([]*x509.RevocationList, error) {
	var crls []*x509.RevocationList
	for _, raw := range [][]byte{b.rootCACRL, b.pckProcessorCRL, b.pckPlatformCRL} {
		if raw == nil {
			continue
		}
		crl, err := x509.ParseRevocationList(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing CRL: %w", err)
		}
		crls = append(crls, crl)
	}
	return crls, nil
}

// VerifySignatures verifies the signatures of TCB Info and QE Identity set from PCS responses,
// using the public key of signingCert. Typed documents are skipped.
func (b *Bundle) VerifySignatures(signingCert *x509.Certificate) error {
	if b.tcbInfoSigned != nil {
		if err := crypto.VerifyECDSASignature(signingCert.PublicKey, b.tcbInfoSigned.Body, b.tcbInfoSigned.Signature); err != nil {
			return fmt.Errorf("verifying TCB Info signature: %w", err)
		}
	}
	if b.qeIdentitySigned != nil {
		if err := crypto.VerifyECDSASignature(signingCert.PublicKey, b.qeIdentitySigned.Body, b.qeIdentitySigned.Signature); err != nil {
			return fmt.Errorf("verifying QE Identity signature: %w", err)
		}
	}
	return nil
}

// parseSignedResponse extracts the exact bytes of the signed document and its signature from a PCS response.
func parseSignedResponse(response []byte, field string) (SignedData, error) {
	if !gjson.ValidBytes(response) {
		return SignedData{}, errors.New("invalid JSON")
	}
	body := gjson.GetBytes(response, field)
	if !body.IsObject() {
		return SignedData{}, fmt.Errorf("missing %q object", field)
	}
	signatureHex := gjson.GetBytes(response, signatureField)
	if signatureHex.Type != gjson.String {
		return SignedData{}, fmt.Errorf("missing %q string", signatureField)
	}
	signature, err := hex.DecodeString(signatureHex.String())
	if err != nil {
		return SignedData{}, fmt.Errorf("decoding signature: %w", err)
	}
	return SignedData{Body: []byte(body.Raw), Signature: signature}, nil
}

func certificateDER(raw []byte) ([]byte, error) {
	cert, err := crypto.ParseCertificate(raw)
	if err != nil {
		return nil, err
	}
	return clone(cert.Raw), nil
}

func crlDER(raw []byte) ([]byte, error) {
	crl, err := crypto.ParseCRL(raw)
	if err != nil {
		return nil, err
	}
	return clone(crl.Raw), nil
}

func parseCertificate(der []byte, name string) (*x509.Certificate, error) {
	if der == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingCollateral, name)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return cert, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
