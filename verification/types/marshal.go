package types

import (
	"encoding/binary"
)

// Marshal serializes an EnclaveReport to its binary representation found in a quote body or Quoting Enclave (QE) report.
func (er *EnclaveReport) Marshal() [384]byte {
	var result [384]byte
	copy(result[0:16], er.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[16:20], er.MiscSelect)
	copy(result[20:48], er.Reserved1[:])
	copy(result[48:64], er.Attributes[:])
	copy(result[64:96], er.MRENCLAVE[:])
	copy(result[96:128], er.Reserved2[:])
	copy(result[128:160], er.MRSIGNER[:])
	copy(result[160:256], er.Reserved3[:])
	binary.LittleEndian.PutUint16(result[256:258], er.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], er.ISVSVN)
	copy(result[260:320], er.Reserved4[:])
	copy(result[320:384], er.ReportData[:])

	return result
}

// Marshal serializes a quote header into its binary representation typically found in a raw quote.
func (qh *QuoteHeader) Marshal() [48]byte {
	var result [48]byte
	binary.LittleEndian.PutUint16(result[0:2], qh.Version)
	binary.LittleEndian.PutUint16(result[2:4], qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], qh.TEEType)
	binary.LittleEndian.PutUint16(result[8:10], qh.QESVN)
	binary.LittleEndian.PutUint16(result[10:12], qh.PCESVN)
	copy(result[12:28], qh.QEVendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes a TDX TDReport into its binary representation typically found in a raw quote.
func (td *TDReport) Marshal() [584]byte {
	var result [584]byte
	copy(result[0:16], td.TEETCBSVN[:])
	copy(result[16:64], td.MRSEAM[:])
	copy(result[64:112], td.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(result[112:120], td.SEAMAttributes)
	binary.LittleEndian.PutUint64(result[120:128], td.TDAttributes)
	binary.LittleEndian.PutUint64(result[128:136], td.XFAM)
	copy(result[136:184], td.MRTD[:])
	copy(result[184:232], td.MRCONFIGID[:])
	copy(result[232:280], td.MROWNER[:])
	copy(result[280:328], td.MROWNERCONFIG[:])
	for i, rtmr := range td.RTMR {
		copy(result[328+48*i:376+48*i], rtmr[:])
	}
	copy(result[520:584], td.ReportData[:])

	return result
}

// Marshal serializes the signature section in the layout of the given quote version.
func (s *QuoteSignature) Marshal(version uint16) []byte {
	qeReport := s.QEReport.Marshal()

	qeReportCertData := make([]byte, 0, len(qeReport)+64+2+len(s.QEAuthData)+6+len(s.CertificationData.Data))
	qeReportCertData = append(qeReportCertData, qeReport[:]...)
	qeReportCertData = append(qeReportCertData, s.QEReportSignature[:]...)
	qeReportCertData = binary.LittleEndian.AppendUint16(qeReportCertData, uint16(len(s.QEAuthData)))
	qeReportCertData = append(qeReportCertData, s.QEAuthData...)
	qeReportCertData = binary.LittleEndian.AppendUint16(qeReportCertData, s.CertificationData.Type)
	qeReportCertData = binary.LittleEndian.AppendUint32(qeReportCertData, uint32(len(s.CertificationData.Data)))
	qeReportCertData = append(qeReportCertData, s.CertificationData.Data...)

	result := make([]byte, 0, 128+6+len(qeReportCertData))
	result = append(result, s.Signature[:]...)
	result = append(result, s.AttestationKey[:]...)
	if version != QuoteVersion3 {
		result = binary.LittleEndian.AppendUint16(result, PCK_ID_QE_REPORT_CERTIFICATION_DATA)
		result = binary.LittleEndian.AppendUint32(result, uint32(len(qeReportCertData)))
	}
	return append(result, qeReportCertData...)
}

// SignedData returns the part of the quote signed by the attestation key: the header followed by the body.
func (q *Quote) SignedData() []byte {
	header := q.Header.Marshal()
	var body []byte
	if q.Body != nil {
		body = q.Body.Bytes()
	}
	return append(header[:], body...)
}

// Marshal serializes the quote into its binary representation.
// The signature length is derived from the signature section, not taken from SignatureLength.
func (q *Quote) Marshal() []byte {
	signature := q.Signature.Marshal(q.Header.Version)
	result := q.SignedData()
	result = binary.LittleEndian.AppendUint32(result, uint32(len(signature)))
	return append(result, signature...)
}
