package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
   SGX Quote 3 / SGX Quote 4 / TDX Quote 4 parser
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_3.h
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h#L113
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report2.h#L61
*/

var (
	// ErrUnsupportedVersion is returned for quotes with a version this package can not parse.
	ErrUnsupportedVersion = errors.New("unsupported quote version")
	// ErrTruncatedInput is returned if a (length prefixed) field exceeds the remaining input.
	ErrTruncatedInput = errors.New("truncated input")
	// ErrMalformedQuote is returned if the quote is structurally invalid.
	ErrMalformedQuote = errors.New("malformed quote")
)

const (
	// QuoteVersion3 is the SGX ECDSA quote format.
	QuoteVersion3 = 3

	// QuoteVersion4 is the SGX and TDX quote format of the v4 TrustedPlatform API.
	QuoteVersion4 = 4

	// TEETypeSGX is the type number referenced in the Quote header for SGX quotes.
	TEETypeSGX = 0x0

	// TEETypeTDX is the type number referenced in the Quote header for TDX quotes.
	TEETypeTDX = 0x81

	// AttestationKeyTypeECDSAP256 is the only supported attestation key type (ECDSA-256-with-P-256 curve).
	AttestationKeyTypeECDSAP256 = 2

	// PCK_ID_PCK_CERT_CHAIN is the CertificationData type holding the PCK cert chain (encoded in PEM, \0 byte terminated)
	PCK_ID_PCK_CERT_CHAIN = 5

	// PCK_ID_QE_REPORT_CERTIFICATION_DATA is the CertificationData type holding QEReportCertificationData data.
	PCK_ID_QE_REPORT_CERTIFICATION_DATA = 6

	headerSize        = 48
	enclaveReportSize = 384
	tdReportSize      = 584
	maxQuoteSize      = 1 << 20
)

// IntelQEVendorID is the QE vendor ID of the Intel Quoting Enclave.
var IntelQEVendorID = [16]byte{0x93, 0x9A, 0x72, 0x33, 0xF7, 0x9C, 0x4C, 0xA9, 0x94, 0x0A, 0x0D, 0xB3, 0x95, 0x7F, 0x06, 0x07}

// QuoteHeader is the header of an SGX/TDX quote.
type QuoteHeader struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	QESVN              uint16 // reserved for TDX
	PCESVN             uint16 // reserved for TDX
	QEVendorID         [16]byte
	UserData           [20]byte
}

// Body is the attested report of a quote.
// It is either an *EnclaveReport (SGX) or a *TDReport (TDX).
type Body interface {
	// TEEType returns the header TEE type matching the body.
	TEEType() uint32
	// Bytes returns the binary representation of the body, as signed by the attestation key.
	Bytes() []byte
}

// EnclaveReport is the report of an SGX enclave.
// It is the body of SGX quotes, and the format of the Quoting Enclave (QE) report for both SGX and TDX.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// TEEType returns [TEETypeSGX].
func (er *EnclaveReport) TEEType() uint32 { return TEETypeSGX }

// Bytes returns the binary representation of the report.
func (er *EnclaveReport) Bytes() []byte {
	b := er.Marshal()
	return b[:]
}

// TDReport is the TD report (SGX Report 2) of an Intel TDX trust domain.
type TDReport struct {
	TEETCBSVN      [16]byte
	MRSEAM         [48]byte    // SHA384
	MRSIGNERSEAM   [48]byte    // SHA384
	SEAMAttributes uint64      // In C code that's a [2]uint32
	TDAttributes   uint64      // In C code that's a [2]uint32
	XFAM           uint64      // In C code that's a [2]uint32
	MRTD           [48]byte    // SHA384
	MRCONFIGID     [48]byte    // SHA384
	MROWNER        [48]byte    // SHA384
	MROWNERCONFIG  [48]byte    // SHA384
	RTMR           [4][48]byte // 4x SHA384 - runtime measurements
	ReportData     [64]byte
}

// TEEType returns [TEETypeTDX].
func (td *TDReport) TEEType() uint32 { return TEETypeTDX }

// Bytes returns the binary representation of the report.
func (td *TDReport) Bytes() []byte {
	b := td.Marshal()
	return b[:]
}

// Quote is a parsed SGX or TDX ECDSA quote.
type Quote struct {
	Header          QuoteHeader
	Body            Body
	SignatureLength uint32
	Signature       QuoteSignature
}

// QuoteSignature is the signature section of a quote.
// For v4 quotes, the QE report fields are unpacked from the PCK_ID_QE_REPORT_CERTIFICATION_DATA wrapper.
type QuoteSignature struct {
	Signature         [64]byte // ECDSA256 signature over header and body
	AttestationKey    [64]byte // raw ECDSA256 public key (X || Y)
	QEReport          EnclaveReport
	QEReportSignature [64]byte // ECDSA256 signature over QEReport, made by the PCK
	QEAuthData        []byte
	CertificationData CertificationData
}

// CertificationData holds the data used to certify the Quoting Enclave's PCK.
// In most cases, this is a PEM encoded PCK certificate chain (type == 5: PCK_ID_PCK_CERT_CHAIN).
type CertificationData struct {
	Type uint16
	Data []byte
}

// PCKCertChain returns the PEM encoded PCK certificate chain,
// or false if the certification data is of a different type.
func (c CertificationData) PCKCertChain() ([]byte, bool) {
	if c.Type != PCK_ID_PCK_CERT_CHAIN || len(c.Data) == 0 {
		return nil, false
	}
	return c.Data, true
}

// ParseQuote parses an SGX (version 3 or 4) or TDX (version 4) quote. The expected input is the complete quote.
// Byte slices of the returned Quote reference rawQuote.
func ParseQuote(rawQuote []byte) (Quote, error) {
	return parseQuote(rawQuote, 0)
}

// ParseQuoteVersion parses a quote, failing with [ErrUnsupportedVersion]
// if the quote's version is not expectedVersion.
func ParseQuoteVersion(rawQuote []byte, expectedVersion uint16) (Quote, error) {
	return parseQuote(rawQuote, expectedVersion)
}

func parseQuote(rawQuote []byte, expectedVersion uint16) (Quote, error) {
	if len(rawQuote) > maxQuoteSize {
		return Quote{}, fmt.Errorf("%w: quote is too large (over 1 MiB, received: %d bytes)", ErrMalformedQuote, len(rawQuote))
	}
	r := newReader(rawQuote)

	header, err := parseHeader(r)
	if err != nil {
		return Quote{}, err
	}
	if expectedVersion != 0 && header.Version != expectedVersion {
		return Quote{}, fmt.Errorf("%w: expected version %d, got %d", ErrUnsupportedVersion, expectedVersion, header.Version)
	}
	if header.Version != QuoteVersion3 && header.Version != QuoteVersion4 {
		return Quote{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	if header.AttestationKeyType != AttestationKeyTypeECDSAP256 {
		return Quote{}, fmt.Errorf("%w: unsupported attestation key type %d", ErrMalformedQuote, header.AttestationKeyType)
	}
	if header.QEVendorID != IntelQEVendorID {
		return Quote{}, fmt.Errorf("%w: unknown QE vendor ID %x", ErrMalformedQuote, header.QEVendorID)
	}

	var body Body
	switch header.TEEType {
	case TEETypeSGX:
		report, err := parseEnclaveReport(r, "enclave report")
		if err != nil {
			return Quote{}, err
		}
		body = &report
	case TEETypeTDX:
		if header.Version == QuoteVersion3 {
			return Quote{}, fmt.Errorf("%w: TDX quotes require version %d", ErrMalformedQuote, QuoteVersion4)
		}
		report, err := parseTDReport(r)
		if err != nil {
			return Quote{}, err
		}
		body = &report
	default:
		return Quote{}, fmt.Errorf("%w: unknown TEE type 0x%x", ErrMalformedQuote, header.TEEType)
	}

	signatureLength, err := r.uint32("signature length")
	if err != nil {
		return Quote{}, err
	}
	signatureBytes, err := r.bytes(int(signatureLength), "signature")
	if err != nil {
		return Quote{}, err
	}
	if r.remaining() != 0 {
		return Quote{}, fmt.Errorf("%w: %d trailing bytes after signature", ErrMalformedQuote, r.remaining())
	}

	signature, err := parseSignature(signatureBytes, header.Version)
	if err != nil {
		return Quote{}, fmt.Errorf("parsing quote signature: %w", err)
	}

	return Quote{
		Header:          header,
		Body:            body,
		SignatureLength: signatureLength,
		Signature:       signature,
	}, nil
}

func parseHeader(r *reader) (QuoteHeader, error) {
	b, err := r.bytes(headerSize, "quote header")
	if err != nil {
		return QuoteHeader{}, err
	}
	return QuoteHeader{
		Version:            binary.LittleEndian.Uint16(b[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(b[2:4]),
		TEEType:            binary.LittleEndian.Uint32(b[4:8]),
		QESVN:              binary.LittleEndian.Uint16(b[8:10]),
		PCESVN:             binary.LittleEndian.Uint16(b[10:12]),
		QEVendorID:         [16]byte(b[12:28]),
		UserData:           [20]byte(b[28:48]),
	}, nil
}

func parseEnclaveReport(r *reader, field string) (EnclaveReport, error) {
	b, err := r.bytes(enclaveReportSize, field)
	if err != nil {
		return EnclaveReport{}, err
	}
	return EnclaveReport{
		CPUSVN:     [16]byte(b[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(b[16:20]),
		Reserved1:  [28]byte(b[20:48]),
		Attributes: [16]byte(b[48:64]),
		MRENCLAVE:  [32]byte(b[64:96]),
		Reserved2:  [32]byte(b[96:128]),
		MRSIGNER:   [32]byte(b[128:160]),
		Reserved3:  [96]byte(b[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(b[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(b[258:260]),
		Reserved4:  [60]byte(b[260:320]),
		ReportData: [64]byte(b[320:384]),
	}, nil
}

func parseTDReport(r *reader) (TDReport, error) {
	b, err := r.bytes(tdReportSize, "TD report")
	if err != nil {
		return TDReport{}, err
	}
	return TDReport{
		TEETCBSVN:      [16]byte(b[0:16]),
		MRSEAM:         [48]byte(b[16:64]),
		MRSIGNERSEAM:   [48]byte(b[64:112]),
		SEAMAttributes: binary.LittleEndian.Uint64(b[112:120]),
		TDAttributes:   binary.LittleEndian.Uint64(b[120:128]),
		XFAM:           binary.LittleEndian.Uint64(b[128:136]),
		MRTD:           [48]byte(b[136:184]),
		MRCONFIGID:     [48]byte(b[184:232]),
		MROWNER:        [48]byte(b[232:280]),
		MROWNERCONFIG:  [48]byte(b[280:328]),
		RTMR: [4][48]byte{
			[48]byte(b[328:376]),
			[48]byte(b[376:424]),
			[48]byte(b[424:472]),
			[48]byte(b[472:520]),
		},
		ReportData: [64]byte(b[520:584]),
	}, nil
}

/*
   Quote Signature Parsing
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteVerification/QVL/Src/AttestationLibrary/src/QuoteVerification/Quote.cpp
*/

// parseSignature parses the signature section of a quote.
// The section must be consumed exactly.
func parseSignature(signature []byte, version uint16) (QuoteSignature, error) {
	r := newReader(signature)

	var quoteSignature QuoteSignature
	sig, err := r.bytes(64, "quote signature")
	if err != nil {
		return QuoteSignature{}, err
	}
	quoteSignature.Signature = [64]byte(sig)
	attestKey, err := r.bytes(64, "attestation key")
	if err != nil {
		return QuoteSignature{}, err
	}
	quoteSignature.AttestationKey = [64]byte(attestKey)

	qeReportCertData := r
	switch version {
	case QuoteVersion3:
		// QE report certification data follows inline
	case QuoteVersion4:
		certType, err := r.uint16("certification data type")
		if err != nil {
			return QuoteSignature{}, err
		}
		if certType != PCK_ID_QE_REPORT_CERTIFICATION_DATA {
			return QuoteSignature{}, fmt.Errorf("%w: unexpected certification data type (expected PCK_ID_QE_REPORT_CERTIFICATION_DATA (6), got %d)", ErrMalformedQuote, certType)
		}
		size, err := r.uint32("certification data size")
		if err != nil {
			return QuoteSignature{}, err
		}
		data, err := r.bytes(int(size), "QE report certification data")
		if err != nil {
			return QuoteSignature{}, err
		}
		if r.remaining() != 0 {
			return QuoteSignature{}, fmt.Errorf("%w: %d trailing bytes in signature", ErrMalformedQuote, r.remaining())
		}
		qeReportCertData = newReader(data)
	default:
		return QuoteSignature{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	if err := parseQEReportCertificationData(qeReportCertData, &quoteSignature); err != nil {
		return QuoteSignature{}, err
	}
	if qeReportCertData.remaining() != 0 {
		return QuoteSignature{}, fmt.Errorf("%w: %d trailing bytes after certification data", ErrMalformedQuote, qeReportCertData.remaining())
	}
	return quoteSignature, nil
}

// parseQEReportCertificationData parses the Quoting Enclave (QE) report, its signature,
// the QE authentication data, and the PCK certification data.
func parseQEReportCertificationData(r *reader, sig *QuoteSignature) error {
	qeReport, err := parseEnclaveReport(r, "QE report")
	if err != nil {
		return err
	}
	sig.QEReport = qeReport

	qeReportSignature, err := r.bytes(64, "QE report signature")
	if err != nil {
		return err
	}
	sig.QEReportSignature = [64]byte(qeReportSignature)

	authDataSize, err := r.uint16("QE authentication data size")
	if err != nil {
		return err
	}
	sig.QEAuthData, err = r.bytes(int(authDataSize), "QE authentication data")
	if err != nil {
		return err
	}

	certType, err := r.uint16("PCK certification data type")
	if err != nil {
		return err
	}
	certSize, err := r.uint32("PCK certification data size")
	if err != nil {
		return err
	}
	certData, err := r.bytes(int(certSize), "PCK certification data")
	if err != nil {
		return err
	}
	sig.CertificationData = CertificationData{Type: certType, Data: certData}
	return nil
}

// reader is a bounds checked cursor over a byte slice.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// bytes returns the next n bytes of the input, without copying.
func (r *reader) bytes(n int, field string) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, fmt.Errorf("%w: %s requires %d bytes, %d left", ErrTruncatedInput, field, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint16(field string) (uint16, error) {
	b, err := r.bytes(2, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32(field string) (uint32, error) {
	b, err := r.bytes(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
