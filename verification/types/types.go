/*
# DCAP Attestation Data Types

This package contains data types and parsing functions used for SGX and TDX ECDSA attestation.

## Quote Format

Quotes start with a 48 byte header, followed by a body selected by the header's TEE type,
and a length prefixed signature section:

	        Quote                               QuoteSignature (v3)                    QuoteSignature (v4)
	        ParseQuote                          parseSignature                         parseSignature
	┌─────────────────────────┐          ┌──────────────────────────────┐       ┌──────────────────────────────┐
	│       QuoteHeader       │          │          Signature           │       │          Signature           │
	│       (48 bytes)        │          │          (64 bytes)          │       │          (64 bytes)          │
	├─────────────────────────┤          ├──────────────────────────────┤       ├──────────────────────────────┤
	│  EnclaveReport (SGX)    │          │       AttestationKey         │       │       AttestationKey         │
	│      (384 bytes)        │          │          (64 bytes)          │       │          (64 bytes)          │
	│           or            │          ├──────────────────────────────┤       ├──────────────────────────────┤
	│   TDReport (TDX, v4)    │          │                              │       │  Type == 6 (2 bytes)         │
	│      (584 bytes)        │          │  QE report certification     │       │  PCK_ID_QE_REPORT_           │
	├─────────────────────────┤          │  data, inline                │       │  CERTIFICATION_DATA          │
	│     SignatureLength     │          │                              │       ├──────────────────────────────┤
	│        (4 bytes)        │          │                              │       │  Size (4 bytes)              │
	├─────────────────────────┤          │                              │       ├──────────────────────────────┤
	│                         │          │                              │       │  QE report certification     │
	│     QuoteSignature      │          │                              │       │  data, exactly Size bytes    │
	│       (variable)        │          │                              │       │                              │
	└─────────────────────────┘          └──────────────────────────────┘       └──────────────────────────────┘

The QE report certification data is the same for both versions:

	    parseQEReportCertificationData
	┌─────────────────────────────────────┐
	│      QEReport (EnclaveReport)       │
	│             (384 bytes)             │
	├─────────────────────────────────────┤
	│    QEReportSignature (64 bytes)     │
	├─────────────────────────────────────┤
	│  QEAuthData size (2 bytes) + data   │
	├─────────────────────────────────────┤
	│      CertificationData              │
	│  ┌────────────────────────────────┐ │
	│  │ Type (2 bytes)                 │ │
	│  │ type == 5 (PCK cert chain)     │ │
	│  ├────────────────────────────────┤ │
	│  │ Size (4 bytes)                 │ │
	│  ├────────────────────────────────┤ │
	│  │ Data: PEM certificate chain,   │ │
	│  │ terminated with \0 byte        │ │
	│  └────────────────────────────────┘ │
	└─────────────────────────────────────┘

All integers are little endian.
*/
package types
