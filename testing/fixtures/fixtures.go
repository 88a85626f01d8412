/*
Package fixtures generates self-consistent attestation material for tests.

It creates an Intel-like certificate hierarchy (root CA, PCK CA, PCK leaf, TCB signing certificate),
CRLs, signed TCB Info and QE Identity JSON, and SGX or TDX quotes signed by that hierarchy.
None of the generated material is trusted by anything but the generated root CA.
*/
package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"time"

	"github.com/edgelesssys/go-dcap-qvl/verification/status"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
)

// Now is the default reference time of generated fixtures.
var Now = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

// Serial numbers of the generated certificates.
const (
	RootSerial = iota + 1
	PCKCASerial
	TCBSigningSerial
	PCKSerial
)

// FMSPC is the FMSPC of the generated PCK certificate.
var FMSPC = [6]byte{0x00, 0x80, 0x6F, 0x05, 0x00, 0x00}

// QEMRSigner is the MRSIGNER of the generated Quoting Enclave.
var QEMRSigner = [32]byte{
	0xDC, 0x9E, 0x2A, 0x7C, 0x6F, 0x94, 0x8F, 0x17, 0x47, 0x4E, 0x34, 0xA7, 0xFC, 0x43, 0xED, 0x03,
	0x0F, 0x7C, 0x15, 0x63, 0xF1, 0xBA, 0xBD, 0xDF, 0x63, 0x40, 0xC8, 0x2E, 0x0E, 0x54, 0xA8, 0xC5,
}

// PKIOptions configures [NewPKI].
type PKIOptions struct {
	// Now is the reference time. Certificates are valid from Now-24h. Defaults to [Now].
	Now time.Time
	// Extensions are embedded in the PCK certificate. Defaults to [Extensions].
	Extensions *types.SGXExtensions
	// PCKNotAfter is the end of the PCK certificate's validity period. Defaults to Now + 1 year.
	PCKNotAfter time.Time
	// Processor selects the Intel SGX PCK Processor CA as PCK issuer instead of the Platform CA.
	Processor bool
}

// PKI is a generated certificate hierarchy.
type PKI struct {
	Root       *x509.Certificate
	PCKCA      *x509.Certificate
	TCBSigning *x509.Certificate
	PCK        *x509.Certificate

	rootKey       *ecdsa.PrivateKey
	pckCAKey      *ecdsa.PrivateKey
	tcbSigningKey *ecdsa.PrivateKey
	pckKey        *ecdsa.PrivateKey
	now           time.Time
}

// Extensions returns the default SGX extensions of a generated PCK certificate.
func Extensions() types.SGXExtensions {
	return types.SGXExtensions{
		PPID: [16]byte{0x42},
		TCB: types.PCKTCB{
			TCBSVN: [16]uint8{5, 5, 2, 2, 3, 1, 0, 5, 0, 0, 0, 0, 0, 0, 0, 0},
			PCESVN: 13,
			CPUSVN: [16]byte{5, 5, 2, 2, 3, 1, 0, 5},
		},
		PCEID:   [2]byte{0, 0},
		FMSPC:   FMSPC,
		SGXType: 0,
	}
}

// NewPKI generates a certificate hierarchy.
func NewPKI(opts PKIOptions) (*PKI, error) {
	if opts.Now.IsZero() {
		opts.Now = Now
	}
	ext := Extensions()
	if opts.Extensions != nil {
		ext = *opts.Extensions
	}
	if opts.PCKNotAfter.IsZero() {
		opts.PCKNotAfter = opts.Now.AddDate(1, 0, 0)
	}
	pckCAName := types.PlatformIssuer
	if opts.Processor {
		pckCAName = types.ProcessorIssuer
	}

	p := &PKI{now: opts.Now}
	var err error
	for _, key := range []**ecdsa.PrivateKey{&p.rootKey, &p.pckCAKey, &p.tcbSigningKey, &p.pckKey} {
		if *key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
	}
	notBefore := opts.Now.Add(-24 * time.Hour)

	rootTemplate := caTemplate(RootSerial, "Intel SGX Root CA", notBefore, opts.Now.AddDate(25, 0, 0))
	rootTemplate.MaxPathLen = 1
	if p.Root, err = createCertificate(rootTemplate, rootTemplate, p.rootKey, p.rootKey); err != nil {
		return nil, fmt.Errorf("creating root CA: %w", err)
	}

	pckCATemplate := caTemplate(PCKCASerial, pckCAName, notBefore, opts.Now.AddDate(10, 0, 0))
	pckCATemplate.MaxPathLenZero = true
	if p.PCKCA, err = createCertificate(pckCATemplate, p.Root, p.pckCAKey, p.rootKey); err != nil {
		return nil, fmt.Errorf("creating PCK CA: %w", err)
	}

	tcbSigningTemplate := leafTemplate(TCBSigningSerial, "Intel SGX TCB Signing", notBefore, opts.Now.AddDate(7, 0, 0))
	if p.TCBSigning, err = createCertificate(tcbSigningTemplate, p.Root, p.tcbSigningKey, p.rootKey); err != nil {
		return nil, fmt.Errorf("creating TCB signing certificate: %w", err)
	}

	sgxExtension, err := ext.SGXExtension()
	if err != nil {
		return nil, fmt.Errorf("marshaling SGX extensions: %w", err)
	}
	pckTemplate := leafTemplate(PCKSerial, "Intel SGX PCK Certificate", notBefore, opts.PCKNotAfter)
	pckTemplate.ExtraExtensions = []pkix.Extension{sgxExtension}
	if p.PCK, err = createCertificate(pckTemplate, p.PCKCA, p.pckKey, p.pckCAKey); err != nil {
		return nil, fmt.Errorf("creating PCK certificate: %w", err)
	}

	return p, nil
}

// PCKCertChainPEM returns the \0 terminated PEM chain (PCK, PCK CA, root CA) as embedded in quotes.
func (p *PKI) PCKCertChainPEM() []byte {
	var chain []byte
	for _, cert := range []*x509.Certificate{p.PCK, p.PCKCA, p.Root} {
		chain = append(chain, PEM(cert)...)
	}
	return append(chain, 0x00)
}

// RootCRL returns a DER encoded CRL of the root CA, valid at the PKI's reference time.
func (p *PKI) RootCRL(revoked ...*x509.Certificate) ([]byte, error) {
	return p.CRL(p.Root, p.now.Add(-time.Hour), p.now.AddDate(0, 1, 0), revoked...)
}

// PCKCRL returns a DER encoded CRL of the PCK CA, valid at the PKI's reference time.
func (p *PKI) PCKCRL(revoked ...*x509.Certificate) ([]byte, error) {
	return p.CRL(p.PCKCA, p.now.Add(-time.Hour), p.now.AddDate(0, 1, 0), revoked...)
}

// CRL returns a DER encoded CRL issued by the root CA or the PCK CA.
func (p *PKI) CRL(issuer *x509.Certificate, thisUpdate, nextUpdate time.Time, revoked ...*x509.Certificate) ([]byte, error) {
	var key *ecdsa.PrivateKey
	switch {
	case issuer.Equal(p.Root):
		key = p.rootKey
	case issuer.Equal(p.PCKCA):
		key = p.pckCAKey
	default:
		return nil, errors.New("issuer is not a CA of this PKI")
	}

	template := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: thisUpdate,
		NextUpdate: nextUpdate,
	}
	for _, cert := range revoked {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries, x509.RevocationListEntry{
			SerialNumber:   cert.SerialNumber,
			RevocationTime: thisUpdate,
		})
	}
	crl, err := x509.CreateRevocationList(rand.Reader, template, issuer, key)
	if err != nil {
		return nil, fmt.Errorf("creating CRL: %w", err)
	}
	return crl, nil
}

// IssuedByPCK returns a certificate signed by the PCK certificate's key.
// The PCK certificate is not a CA, so chains through it are invalid.
func (p *PKI) IssuedByPCK() (*x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	template := leafTemplate(PCKSerial+1, "Intel SGX PCK Certificate", p.now.Add(-24*time.Hour), p.now.AddDate(1, 0, 0))
	return createCertificate(template, p.PCK, key, p.pckKey)
}

// SelfSignedLeaf returns a self-signed certificate that is not a CA.
func SelfSignedLeaf() (*x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	template := leafTemplate(RootSerial, "Intel SGX Root CA", Now.Add(-24*time.Hour), Now.AddDate(1, 0, 0))
	return createCertificate(template, template, key, key)
}

// SignTCBInfo wraps a TCB Info JSON body into a PCS response signed by the TCB signing key.
func (p *PKI) SignTCBInfo(body []byte) ([]byte, error) {
	return p.signEnvelope("tcbInfo", body)
}

// SignQEIdentity wraps a QE Identity JSON body into a PCS response signed by the TCB signing key.
func (p *PKI) SignQEIdentity(body []byte) ([]byte, error) {
	return p.signEnvelope("enclaveIdentity", body)
}

func (p *PKI) signEnvelope(field string, body []byte) ([]byte, error) {
	signature, err := signRaw(p.tcbSigningKey, body)
	if err != nil {
		return nil, err
	}
	envelope := fmt.Sprintf(`{"%s":%s,"signature":"%s"}`, field, body, hex.EncodeToString(signature[:]))
	return []byte(envelope), nil
}

// QuoteOptions configures [PKI.NewQuote].
type QuoteOptions struct {
	// Version is the quote version. Defaults to 4.
	Version uint16
	// Body is the attested report. Defaults to [SGXReport].
	Body types.Body
	// QEReport is the Quoting Enclave report. Its report data is overwritten with the attestation key binding.
	// Defaults to [QEReport].
	QEReport *types.EnclaveReport
	// QEAuthData is the QE authentication data.
	QEAuthData []byte
	// OmitPCKCertChain replaces the PCK certificate chain with encrypted PPID certification data.
	OmitPCKCertChain bool
}

// NewQuote creates a quote signed by a fresh attestation key, certified by the PKI's PCK certificate.
func (p *PKI) NewQuote(opts QuoteOptions) (types.Quote, error) {
	if opts.Version == 0 {
		opts.Version = types.QuoteVersion4
	}
	if opts.Body == nil {
		opts.Body = SGXReport()
	}
	qeReport := *QEReport(8)
	if opts.QEReport != nil {
		qeReport = *opts.QEReport
	}
	if opts.QEAuthData == nil {
		opts.QEAuthData = []byte("fixture QE authentication data")
	}

	attestationKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return types.Quote{}, fmt.Errorf("generating attestation key: %w", err)
	}
	var rawAttestationKey [64]byte
	attestationKey.PublicKey.X.FillBytes(rawAttestationKey[:32])
	attestationKey.PublicKey.Y.FillBytes(rawAttestationKey[32:])

	binding := sha256.Sum256(append(rawAttestationKey[:], opts.QEAuthData...))
	qeReport.ReportData = [64]byte{}
	copy(qeReport.ReportData[:], binding[:])
	qeReportBytes := qeReport.Marshal()
	qeReportSignature, err := signRaw(p.pckKey, qeReportBytes[:])
	if err != nil {
		return types.Quote{}, err
	}

	certificationData := types.CertificationData{Type: types.PCK_ID_PCK_CERT_CHAIN, Data: p.PCKCertChainPEM()}
	if opts.OmitPCKCertChain {
		certificationData = types.CertificationData{Type: 3, Data: make([]byte, 384)}
	}

	ext, err := types.ParsePCKSGXExtensions(p.PCK)
	if err != nil {
		return types.Quote{}, err
	}
	quote := types.Quote{
		Header: types.QuoteHeader{
			Version:            opts.Version,
			AttestationKeyType: types.AttestationKeyTypeECDSAP256,
			TEEType:            opts.Body.TEEType(),
			QESVN:              qeReport.ISVSVN,
			PCESVN:             ext.TCB.PCESVN,
			QEVendorID:         types.IntelQEVendorID,
		},
		Body: opts.Body,
		Signature: types.QuoteSignature{
			AttestationKey:    rawAttestationKey,
			QEReport:          qeReport,
			QEReportSignature: qeReportSignature,
			QEAuthData:        opts.QEAuthData,
			CertificationData: certificationData,
		},
	}
	if quote.Signature.Signature, err = signRaw(attestationKey, quote.SignedData()); err != nil {
		return types.Quote{}, err
	}
	return quote, nil
}

// SGXReport returns an SGX enclave report used as quote body.
func SGXReport() *types.EnclaveReport {
	return &types.EnclaveReport{
		CPUSVN:     [16]byte{5, 5, 2, 2, 3, 1, 0, 5},
		Attributes: [16]byte{0x07, 0, 0, 0, 0, 0, 0, 0, 0xE7},
		MRENCLAVE:  sha256.Sum256([]byte("fixture enclave")),
		MRSIGNER:   sha256.Sum256([]byte("fixture signer")),
		ISVProdID:  1,
		ISVSVN:     3,
		ReportData: [64]byte{'h', 'e', 'l', 'l', 'o'},
	}
}

// TDReport returns a TD report used as quote body.
func TDReport() *types.TDReport {
	report := &types.TDReport{
		TEETCBSVN:      [16]byte{3, 0, 5},
		SEAMAttributes: 0,
		TDAttributes:   0x10000000,
		XFAM:           0xE7,
		ReportData:     [64]byte{'h', 'e', 'l', 'l', 'o'},
	}
	copy(report.MRSEAM[:], hashBytes("fixture TDX module", 48))
	copy(report.MRTD[:], hashBytes("fixture TD", 48))
	for i := range report.RTMR {
		copy(report.RTMR[i][:], hashBytes(fmt.Sprintf("fixture RTMR %d", i), 48))
	}
	return report
}

// QEReport returns a Quoting Enclave report with the given ISVSVN.
func QEReport(isvSVN uint16) *types.EnclaveReport {
	return &types.EnclaveReport{
		CPUSVN:     [16]byte{5, 5, 2, 2, 3, 1, 0, 5},
		Attributes: [16]byte{0x11},
		MRENCLAVE:  sha256.Sum256([]byte("fixture QE")),
		MRSIGNER:   QEMRSigner,
		ISVProdID:  1,
		ISVSVN:     isvSVN,
	}
}

// TCBInfo describes a TCB Info document. Use [TCBInfo.JSON] to encode it in the PCS format.
type TCBInfo struct {
	ID         string
	Version    int
	IssueDate  time.Time
	NextUpdate time.Time
	FMSPC      [6]byte
	PCEID      [2]byte
	TDXModule  *TDXModule
	Levels     []TCBLevel

	// TDXModuleIdentities are the TDX module identities, keyed by major version.
	TDXModuleIdentities map[uint8]TDXModuleIdentity
}

// TDXModuleIdentity is the identity of one TDX module major version.
type TDXModuleIdentity struct {
	TDXModule
	Levels []QELevel
}

// TDXModule is the TDX module identity of a TCB Info document.
type TDXModule struct {
	MRSigner       [48]byte
	Attributes     uint64
	AttributesMask uint64
}

// TCBLevel is a platform TCB level.
type TCBLevel struct {
	SGX         [16]uint8
	TDX         [16]uint8
	PCESVN      uint16
	Status      status.TCBStatus
	AdvisoryIDs []string
}

// DefaultTCBInfo returns a TCB Info matching the default PKI and quote bodies.
// The first level is UpToDate for exactly the default SVNs, the second level is OutOfDate for any SVNs.
func DefaultTCBInfo(teeType uint32) TCBInfo {
	ext := Extensions()
	info := TCBInfo{
		ID:         types.TCBInfoSGXID,
		Version:    3,
		IssueDate:  Now.Add(-time.Hour),
		NextUpdate: Now.AddDate(0, 1, 0),
		FMSPC:      ext.FMSPC,
		PCEID:      ext.PCEID,
		Levels: []TCBLevel{
			{SGX: ext.TCB.TCBSVN, PCESVN: ext.TCB.PCESVN, Status: status.UpToDate},
			{Status: status.OutOfDate, AdvisoryIDs: []string{"INTEL-SA-00837"}},
		},
	}
	if teeType == types.TEETypeTDX {
		info.ID = types.TCBInfoTDXID
		info.TDXModule = &TDXModule{AttributesMask: ^uint64(0)}
		info.Levels[0].TDX = TDReport().TEETCBSVN
	}
	return info
}

// JSON encodes the TCB Info like Intel's PCS.
func (t TCBInfo) JSON() []byte {
	out := tcbInfoJSON{
		ID:                      t.ID,
		Version:                 t.Version,
		IssueDate:               t.IssueDate.UTC().Format(time.RFC3339),
		NextUpdate:              t.NextUpdate.UTC().Format(time.RFC3339),
		FMSPC:                   hex.EncodeToString(t.FMSPC[:]),
		PCEID:                   hex.EncodeToString(t.PCEID[:]),
		TCBEvaluationDataNumber: 17,
	}
	if t.TDXModule != nil {
		out.TDXModule = &tdxModuleJSON{
			MRSigner:       hex.EncodeToString(t.TDXModule.MRSigner[:]),
			Attributes:     hex.EncodeToString(binary.LittleEndian.AppendUint64(nil, t.TDXModule.Attributes)),
			AttributesMask: hex.EncodeToString(binary.LittleEndian.AppendUint64(nil, t.TDXModule.AttributesMask)),
		}
	}
	for _, version := range slices.Sorted(maps.Keys(t.TDXModuleIdentities)) {
		identity := t.TDXModuleIdentities[version]
		identityJSON := tdxModuleIdentityJSON{
			ID:             fmt.Sprintf("TDX_%02X", version),
			MRSigner:       hex.EncodeToString(identity.MRSigner[:]),
			Attributes:     hex.EncodeToString(binary.LittleEndian.AppendUint64(nil, identity.Attributes)),
			AttributesMask: hex.EncodeToString(binary.LittleEndian.AppendUint64(nil, identity.AttributesMask)),
		}
		for _, level := range identity.Levels {
			identityJSON.TCBLevels = append(identityJSON.TCBLevels, qeLevelJSON{
				TCB:         qeTCBJSON{ISVSVN: level.ISVSVN},
				TCBDate:     t.IssueDate.UTC().Format(time.RFC3339),
				TCBStatus:   level.Status.String(),
				AdvisoryIDs: level.AdvisoryIDs,
			})
		}
		out.TDXModuleIdentities = append(out.TDXModuleIdentities, identityJSON)
	}
	for _, level := range t.Levels {
		levelJSON := tcbLevelJSON{
			TCB: tcbJSON{
				SGXTCBComponents: components(level.SGX),
				PCESVN:           level.PCESVN,
			},
			TCBDate:     t.IssueDate.UTC().Format(time.RFC3339),
			TCBStatus:   level.Status.String(),
			AdvisoryIDs: level.AdvisoryIDs,
		}
		if t.ID == types.TCBInfoTDXID {
			levelJSON.TCB.TDXTCBComponents = components(level.TDX)
		}
		out.TCBLevels = append(out.TCBLevels, levelJSON)
	}
	return mustMarshal(out)
}

// QEIdentity describes a QE Identity document. Use [QEIdentity.JSON] to encode it in the PCS format.
type QEIdentity struct {
	ID             string
	IssueDate      time.Time
	NextUpdate     time.Time
	MiscSelect     uint32
	MiscSelectMask uint32
	Attributes     [16]byte
	AttributesMask [16]byte
	MRSigner       [32]byte
	ISVProdID      uint16
	Levels         []QELevel
}

// QELevel is a Quoting Enclave TCB level.
type QELevel struct {
	ISVSVN      uint16
	Status      status.TCBStatus
	AdvisoryIDs []string
}

// DefaultQEIdentity returns a QE Identity matching [QEReport].
// Levels: ISVSVN 8 UpToDate, ISVSVN 6 OutOfDate, ISVSVN 0 Revoked.
func DefaultQEIdentity(teeType uint32) QEIdentity {
	qe := QEReport(8)
	identity := QEIdentity{
		ID:             types.QEIdentitySGXID,
		IssueDate:      Now.Add(-time.Hour),
		NextUpdate:     Now.AddDate(0, 1, 0),
		MiscSelect:     qe.MiscSelect,
		MiscSelectMask: 0xFFFFFFFF,
		Attributes:     qe.Attributes,
		AttributesMask: [16]byte{0xFB, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		MRSigner:       qe.MRSIGNER,
		ISVProdID:      qe.ISVProdID,
		Levels: []QELevel{
			{ISVSVN: 8, Status: status.UpToDate},
			{ISVSVN: 6, Status: status.OutOfDate, AdvisoryIDs: []string{"INTEL-SA-00615"}},
			{ISVSVN: 0, Status: status.Revoked, AdvisoryIDs: []string{"INTEL-SA-00219"}},
		},
	}
	if teeType == types.TEETypeTDX {
		identity.ID = types.QEIdentityTDXID
	}
	return identity
}

// JSON encodes the QE Identity like Intel's PCS.
func (q QEIdentity) JSON() []byte {
	out := qeIdentityJSON{
		ID:                      q.ID,
		Version:                 2,
		IssueDate:               q.IssueDate.UTC().Format(time.RFC3339),
		NextUpdate:              q.NextUpdate.UTC().Format(time.RFC3339),
		TCBEvaluationDataNumber: 17,
		MiscSelect:              hex.EncodeToString(binary.LittleEndian.AppendUint32(nil, q.MiscSelect)),
		MiscSelectMask:          hex.EncodeToString(binary.LittleEndian.AppendUint32(nil, q.MiscSelectMask)),
		Attributes:              hex.EncodeToString(q.Attributes[:]),
		AttributesMask:          hex.EncodeToString(q.AttributesMask[:]),
		MRSigner:                hex.EncodeToString(q.MRSigner[:]),
		ISVProdID:               q.ISVProdID,
	}
	for _, level := range q.Levels {
		out.TCBLevels = append(out.TCBLevels, qeLevelJSON{
			TCB:         qeTCBJSON{ISVSVN: level.ISVSVN},
			TCBDate:     q.IssueDate.UTC().Format(time.RFC3339),
			TCBStatus:   level.Status.String(),
			AdvisoryIDs: level.AdvisoryIDs,
		})
	}
	return mustMarshal(out)
}

// ManifestFile is the name of the collateral manifest returned by [PKI.CollateralFiles].
const ManifestFile = "collateral.yaml"

// CollateralFiles returns the default collateral for a TEE type as files,
// together with a manifest referencing them by relative path and trusting the PKI's root CA.
func (p *PKI) CollateralFiles(teeType uint32) (map[string][]byte, error) {
	tcbInfo, err := p.SignTCBInfo(DefaultTCBInfo(teeType).JSON())
	if err != nil {
		return nil, err
	}
	qeIdentity, err := p.SignQEIdentity(DefaultQEIdentity(teeType).JSON())
	if err != nil {
		return nil, err
	}
	rootCRL, err := p.RootCRL()
	if err != nil {
		return nil, err
	}
	pckCRL, err := p.PCKCRL()
	if err != nil {
		return nil, err
	}

	pckCRLSlot := "pckPlatformCRL"
	if p.PCKCA.Subject.CommonName == types.ProcessorIssuer {
		pckCRLSlot = "pckProcessorCRL"
	}
	manifest := fmt.Sprintf(`trustedRoots: ["%x"]
tcbInfo: tcb_info.json
qeIdentity: qe_identity.json
rootCA: root_ca.pem
tcbSigningCert: tcb_signing.pem
rootCACRL: root_ca.crl
%s: pck_ca.crl
`, sha256.Sum256(p.Root.Raw), pckCRLSlot)

	return map[string][]byte{
		ManifestFile:       []byte(manifest),
		"tcb_info.json":    tcbInfo,
		"qe_identity.json": qeIdentity,
		"root_ca.pem":      PEM(p.Root),
		"tcb_signing.pem":  PEM(p.TCBSigning),
		"root_ca.crl":      rootCRL,
		"pck_ca.crl":       pckCRL,
	}, nil
}

// PEM encodes a certificate in PEM format.
func PEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

type tcbInfoJSON struct {
	ID                      string                  `json:"id"`
	Version                 int                     `json:"version"`
	IssueDate               string                  `json:"issueDate"`
	NextUpdate              string                  `json:"nextUpdate"`
	FMSPC                   string                  `json:"fmspc"`
	PCEID                   string                  `json:"pceId"`
	TCBType                 int                     `json:"tcbType"`
	TCBEvaluationDataNumber int                     `json:"tcbEvaluationDataNumber"`
	TDXModule               *tdxModuleJSON          `json:"tdxModule,omitempty"`
	TDXModuleIdentities     []tdxModuleIdentityJSON `json:"tdxModuleIdentities,omitempty"`
	TCBLevels               []tcbLevelJSON          `json:"tcbLevels"`
}

type tdxModuleIdentityJSON struct {
	ID             string        `json:"id"`
	MRSigner       string        `json:"mrsigner"`
	Attributes     string        `json:"attributes"`
	AttributesMask string        `json:"attributesMask"`
	TCBLevels      []qeLevelJSON `json:"tcbLevels"`
}

type tdxModuleJSON struct {
	MRSigner       string `json:"mrsigner"`
	Attributes     string `json:"attributes"`
	AttributesMask string `json:"attributesMask"`
}

type tcbLevelJSON struct {
	TCB         tcbJSON  `json:"tcb"`
	TCBDate     string   `json:"tcbDate"`
	TCBStatus   string   `json:"tcbStatus"`
	AdvisoryIDs []string `json:"advisoryIDs,omitempty"`
}

type tcbJSON struct {
	SGXTCBComponents []componentJSON `json:"sgxtcbcomponents"`
	PCESVN           uint16          `json:"pcesvn"`
	TDXTCBComponents []componentJSON `json:"tdxtcbcomponents,omitempty"`
}

type componentJSON struct {
	SVN uint8 `json:"svn"`
}

type qeIdentityJSON struct {
	ID                      string        `json:"id"`
	Version                 int           `json:"version"`
	IssueDate               string        `json:"issueDate"`
	NextUpdate              string        `json:"nextUpdate"`
	TCBEvaluationDataNumber int           `json:"tcbEvaluationDataNumber"`
	MiscSelect              string        `json:"miscselect"`
	MiscSelectMask          string        `json:"miscselectMask"`
	Attributes              string        `json:"attributes"`
	AttributesMask          string        `json:"attributesMask"`
	MRSigner                string        `json:"mrsigner"`
	ISVProdID               uint16        `json:"isvprodid"`
	TCBLevels               []qeLevelJSON `json:"tcbLevels"`
}

type qeLevelJSON struct {
	TCB         qeTCBJSON `json:"tcb"`
	TCBDate     string    `json:"tcbDate"`
	TCBStatus   string    `json:"tcbStatus"`
	AdvisoryIDs []string  `json:"advisoryIDs,omitempty"`
}

type qeTCBJSON struct {
	ISVSVN uint16 `json:"isvsvn"`
}

func components(svns [16]uint8) []componentJSON {
	out := make([]componentJSON, len(svns))
	for i, svn := range svns {
		out[i].SVN = svn
	}
	return out
}

func caTemplate(serial int64, commonName string, notBefore, notAfter time.Time) *x509.Certificate {
	template := leafTemplate(serial, commonName, notBefore, notAfter)
	template.IsCA = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	return template
}

func leafTemplate(serial int64, commonName string, notBefore, notAfter time.Time) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Intel Corporation"},
			Locality:     []string{"Santa Clara"},
			Province:     []string{"CA"},
			Country:      []string{"US"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
}

func createCertificate(template, parent *x509.Certificate, key, parentKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, parentKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// signRaw signs the SHA-256 digest of data, returning the raw (r || s) signature.
func signRaw(key *ecdsa.PrivateKey, data []byte) ([64]byte, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return [64]byte{}, fmt.Errorf("signing data: %w", err)
	}
	var signature [64]byte
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature, nil
}

func hashBytes(seed string, n int) []byte {
	var out []byte
	for counter := byte(0); len(out) < n; counter++ {
		digest := sha256.Sum256(append([]byte(seed), counter))
		out = append(out, digest[:]...)
	}
	return out[:n]
}

func mustMarshal(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return out
}
