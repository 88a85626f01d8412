package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgelesssys/go-dcap-qvl/verification/status"
)

const (
	// TCBInfoTDXID indicates that the TCB Info is for a TDX platform.
	TCBInfoTDXID = "TDX"

	// TCBInfoSGXID indicates that the TCB Info is for an SGX platform.
	TCBInfoSGXID = "SGX"

	// TCBInfoMinTDXVersion is the minimal TCB Info version supporting TDX.
	TCBInfoMinTDXVersion = 3

	// QEIdentitySGXID indicates that the QE Identity is for the SGX Quoting Enclave.
	QEIdentitySGXID = "QE"

	// QEIdentityTDXID indicates that the QE Identity is for the TDX Quoting Enclave.
	QEIdentityTDXID = "TD_QE"

	// PlatformIssuer is the CA issuer for multi platform PCK certificates.
	PlatformIssuer = "Intel SGX PCK Platform CA"

	// ProcessorIssuer is the CA issuer for single platform PCK certificates.
	ProcessorIssuer = "Intel SGX PCK Processor CA"
)

// TCBInfo contains expected Trusted Computing Base (TCB) information for a platform, identified by its FMSPC.
type TCBInfo struct {
	ID                      string
	Version                 uint32
	IssueDate               time.Time
	NextUpdate              time.Time
	FMSPC                   [6]byte
	PCEID                   [2]byte
	TCBType                 int
	TCBEvaluationDataNumber uint32
	TDXModule               *TDXModule // only set for TDX
	TDXModuleIdentities     []TDXModuleIdentity
	TCBLevels               []TCBLevel // ordered from the highest to the lowest TCB
}

// TDXModuleIdentity returns the identity of the TDX module with the given major version.
func (t *TCBInfo) TDXModuleIdentity(majorVersion uint8) (TDXModuleIdentity, bool) {
	id := fmt.Sprintf("TDX_%02X", majorVersion)
	for _, identity := range t.TDXModuleIdentities {
		if strings.EqualFold(identity.ID, id) {
			return identity, true
		}
	}
	return TDXModuleIdentity{}, false
}

// UnmarshalJSON parses a JSON representation of the TCB Info into a TCBInfo.
func (t *TCBInfo) UnmarshalJSON(data []byte) error {
	var tcbInfoJSON tcbInfoJSON
	if err := json.Unmarshal(data, &tcbInfoJSON); err != nil {
		return fmt.Errorf("unmarshaling TCB Info JSON: %w", err)
	}
	var err error

	t.ID = tcbInfoJSON.ID
	if t.ID == "" {
		// TCB Info v2 has no ID, and only exists for SGX
		t.ID = TCBInfoSGXID
	}
	t.Version = tcbInfoJSON.Version

	t.IssueDate, err = time.Parse(time.RFC3339, tcbInfoJSON.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing TCBInfo issue date: %w", err)
	}
	t.NextUpdate, err = time.Parse(time.RFC3339, tcbInfoJSON.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing TCBInfo next update date: %w", err)
	}

	fmspc, err := decodeHexToByte(tcbInfoJSON.FMSPC, 6)
	if err != nil {
		return fmt.Errorf("decoding FMSPC: %w", err)
	}
	t.FMSPC = [6]byte(fmspc)

	pceid, err := decodeHexToByte(tcbInfoJSON.PCEID, 2)
	if err != nil {
		return fmt.Errorf("decoding PCEID: %w", err)
	}
	t.PCEID = [2]byte(pceid)

	t.TCBType = tcbInfoJSON.TCBType
	t.TCBEvaluationDataNumber = tcbInfoJSON.TCBEvaluationDataNumber
	t.TDXModule = tcbInfoJSON.TDXModule
	t.TDXModuleIdentities = tcbInfoJSON.TDXModuleIdentities
	t.TCBLevels = tcbInfoJSON.TCBLevels

	return nil
}

// tcbInfoJSON is the JSON representation of the TCB Info using basic strings and ints.
type tcbInfoJSON struct {
	ID                      string              `json:"id"`
	Version                 uint32              `json:"version"`
	IssueDate               string              `json:"issueDate"`
	NextUpdate              string              `json:"nextUpdate"`
	FMSPC                   string              `json:"fmspc"`
	PCEID                   string              `json:"pceId"`
	TCBType                 int                 `json:"tcbType"`
	TCBEvaluationDataNumber uint32              `json:"tcbEvaluationDataNumber"`
	TDXModule               *TDXModule          `json:"tdxModule"`
	TDXModuleIdentities     []TDXModuleIdentity `json:"tdxModuleIdentities"`
	TCBLevels               []TCBLevel          `json:"tcbLevels"`
}

// QEIdentity contains the expected information of the Quoting Enclave (QE).
type QEIdentity struct {
	ID                      string
	Version                 uint32
	IssueDate               time.Time
	NextUpdate              time.Time
	TCBEvaluationDataNumber uint32
	MiscSelect              uint32
	MiscSelectMask          uint32
	Attributes              [16]byte
	AttributesMask          [16]byte
	MRSIGNER                [32]byte
	ISVProdID               uint16
	TCBLevels               []TCBLevel // ordered from the highest to the lowest ISVSVN
}

// UnmarshalJSON parses a JSON representation of the QE Identity into a QEIdentity.
func (q *QEIdentity) UnmarshalJSON(data []byte) error {
	var qeIdentity qeIdentityJSON
	if err := json.Unmarshal(data, &qeIdentity); err != nil {
		return fmt.Errorf("unmarshaling QE Identity JSON: %w", err)
	}

	var err error
	q.ID = qeIdentity.ID
	q.Version = qeIdentity.Version
	q.IssueDate, err = time.Parse(time.RFC3339, qeIdentity.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing QEIdentity issue date: %w", err)
	}
	q.NextUpdate, err = time.Parse(time.RFC3339, qeIdentity.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing QEIdentity next update date: %w", err)
	}
	q.TCBEvaluationDataNumber = qeIdentity.TCBEvaluationDataNumber

	miscSelect, err := decodeHexToByte(qeIdentity.MiscSelect, 4)
	if err != nil {
		return fmt.Errorf("decoding MiscSelect: %w", err)
	}
	q.MiscSelect = binary.LittleEndian.Uint32(miscSelect)
	miscSelectMask, err := decodeHexToByte(qeIdentity.MiscSelectMask, 4)
	if err != nil {
		return fmt.Errorf("decoding MiscSelectMask: %w", err)
	}
	q.MiscSelectMask = binary.LittleEndian.Uint32(miscSelectMask)

	attributes, err := decodeHexToByte(qeIdentity.Attributes, 16)
	if err != nil {
		return fmt.Errorf("decoding Attributes: %w", err)
	}
	q.Attributes = [16]byte(attributes)
	attributesMask, err := decodeHexToByte(qeIdentity.AttributesMask, 16)
	if err != nil {
		return fmt.Errorf("decoding AttributesMask: %w", err)
	}
	q.AttributesMask = [16]byte(attributesMask)

	mrSigner, err := decodeHexToByte(qeIdentity.MRSIGNER, 32)
	if err != nil {
		return fmt.Errorf("decoding MRSIGNER: %w", err)
	}
	q.MRSIGNER = [32]byte(mrSigner)

	q.ISVProdID = qeIdentity.ISVProdID
	q.TCBLevels = qeIdentity.TCBLevels

	return nil
}

// qeIdentityJSON is the JSON representation of the QE Identity using basic strings and ints.
type qeIdentityJSON struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               string     `json:"issueDate"`
	NextUpdate              string     `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	MiscSelect              string     `json:"miscselect"`
	MiscSelectMask          string     `json:"miscselectMask"`
	Attributes              string     `json:"attributes"`
	AttributesMask          string     `json:"attributesMask"`
	MRSIGNER                string     `json:"mrsigner"`
	ISVProdID               uint16     `json:"isvprodid"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// TDXModule contains expected MRSIGNER and attribute information for the TDX module.
type TDXModule struct {
	MRSIGNERSEAM       [48]byte
	SEAMAttributes     uint64
	SEAMAttributesMask uint64
}

// UnmarshalJSON parses a JSON representation of the TDX Module into a TDXModule.
func (t *TDXModule) UnmarshalJSON(data []byte) error {
	var tdxModule tdxModuleJSON
	if err := json.Unmarshal(data, &tdxModule); err != nil {
		return fmt.Errorf("unmarshaling TDX Module JSON: %w", err)
	}

	mrSigner, err := decodeHexToByte(tdxModule.MRSIGNERSEAM, 48)
	if err != nil {
		return fmt.Errorf("decoding MRSIGNER: %w", err)
	}
	t.MRSIGNERSEAM = [48]byte(mrSigner)

	attributes, err := decodeHexToByte(tdxModule.SEAMAttributes, 8)
	if err != nil {
		return fmt.Errorf("decoding Attributes: %w", err)
	}
	t.SEAMAttributes = binary.LittleEndian.Uint64(attributes)
	attributesMask, err := decodeHexToByte(tdxModule.SEAMAttributesMask, 8)
	if err != nil {
		return fmt.Errorf("decoding AttributeMask: %w", err)
	}
	t.SEAMAttributesMask = binary.LittleEndian.Uint64(attributesMask)

	return nil
}

// tdxModuleJSON is the JSON representation of the TDX module using basic strings.
type tdxModuleJSON struct {
	MRSIGNERSEAM       string `json:"mrsigner"`
	SEAMAttributes     string `json:"attributes"`
	SEAMAttributesMask string `json:"attributesMask"`
}

// TDXModuleIdentity describes the expected signer, attributes, and TCB levels of one major version of the TDX module.
type TDXModuleIdentity struct {
	ID string // TDX_<major version>, e.g. TDX_01
	TDXModule
	TCBLevels []TCBLevel // ordered from the highest to the lowest ISVSVN
}

// UnmarshalJSON parses a JSON representation of a TDX module identity into a TDXModuleIdentity.
func (t *TDXModuleIdentity) UnmarshalJSON(data []byte) error {
	var identity tdxModuleIdentityJSON
	if err := json.Unmarshal(data, &identity); err != nil {
		return fmt.Errorf("unmarshaling TDX Module Identity JSON: %w", err)
	}
	if err := t.TDXModule.UnmarshalJSON(data); err != nil {
		return err
	}
	t.ID = identity.ID
	t.TCBLevels = identity.TCBLevels
	return nil
}

type tdxModuleIdentityJSON struct {
	ID        string     `json:"id"`
	TCBLevels []TCBLevel `json:"tcbLevels"`
}

// TCBLevel is a single entry of the TCB levels of a TCBInfo or QEIdentity.
type TCBLevel struct {
	TCB         TCB
	TCBDate     time.Time
	TCBStatus   status.TCBStatus
	AdvisoryIDs []string
}

// UnmarshalJSON parses a JSON representation of the TCB Level into a TCBLevel.
func (t *TCBLevel) UnmarshalJSON(data []byte) error {
	var tcbLevel tcbLevelJSON
	if err := json.Unmarshal(data, &tcbLevel); err != nil {
		return fmt.Errorf("unmarshaling TCB Level JSON: %w", err)
	}

	t.TCB = tcbLevel.TCB
	tcbDate, err := time.Parse(time.RFC3339, tcbLevel.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB Date: %w", err)
	}
	t.TCBDate = tcbDate
	t.TCBStatus = tcbLevel.TCBStatus
	t.AdvisoryIDs = tcbLevel.AdvisoryIDs

	return nil
}

// tcbLevelJSON is the JSON representation of a TCB Level.
type tcbLevelJSON struct {
	TCB         TCB              `json:"tcb"`
	TCBDate     string           `json:"tcbDate"`
	TCBStatus   status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// TCB holds the security version numbers of a TCB level.
// Platform levels use the component SVNs and the PCESVN, QE identity levels only the ISVSVN.
type TCB struct {
	SGXTCBComponents [16]TCBComponent
	TDXTCBComponents [16]TCBComponent
	PCESVN           uint16
	ISVSVN           uint16
}

// UnmarshalJSON parses both the v3 (component arrays) and the v2 (flat sgxtcbcompXXsvn fields) representation of a TCB.
func (t *TCB) UnmarshalJSON(data []byte) error {
	var tcb tcbJSON
	if err := json.Unmarshal(data, &tcb); err != nil {
		return fmt.Errorf("unmarshaling TCB JSON: %w", err)
	}
	t.PCESVN = tcb.PCESVN
	t.ISVSVN = tcb.ISVSVN

	if tcb.TDXTCBComponents != nil {
		if len(tcb.TDXTCBComponents) != len(t.TDXTCBComponents) {
			return fmt.Errorf("expected %d TDX TCB components, got %d", len(t.TDXTCBComponents), len(tcb.TDXTCBComponents))
		}
		t.TDXTCBComponents = [16]TCBComponent(tcb.TDXTCBComponents)
	}

	if tcb.SGXTCBComponents != nil {
		if len(tcb.SGXTCBComponents) != len(t.SGXTCBComponents) {
			return fmt.Errorf("expected %d SGX TCB components, got %d", len(t.SGXTCBComponents), len(tcb.SGXTCBComponents))
		}
		t.SGXTCBComponents = [16]TCBComponent(tcb.SGXTCBComponents)
		return nil
	}

	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("unmarshaling TCB JSON: %w", err)
	}
	found := 0
	for i := range t.SGXTCBComponents {
		raw, ok := flat[fmt.Sprintf("sgxtcbcomp%02dsvn", i+1)]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &t.SGXTCBComponents[i].SVN); err != nil {
			return fmt.Errorf("unmarshaling SGX TCB component %d: %w", i+1, err)
		}
		found++
	}
	if found != 0 && found != len(t.SGXTCBComponents) {
		return fmt.Errorf("expected %d SGX TCB components, got %d", len(t.SGXTCBComponents), found)
	}
	return nil
}

// SGXSVNs returns the SVNs of the SGX TCB components.
func (t *TCB) SGXSVNs() [16]uint8 {
	var svns [16]uint8
	for i, c := range t.SGXTCBComponents {
		svns[i] = c.SVN
	}
	return svns
}

// TDXSVNs returns the SVNs of the TDX TCB components.
func (t *TCB) TDXSVNs() [16]uint8 {
	var svns [16]uint8
	for i, c := range t.TDXTCBComponents {
		svns[i] = c.SVN
	}
	return svns
}

type tcbJSON struct {
	SGXTCBComponents []TCBComponent `json:"sgxtcbcomponents"`
	TDXTCBComponents []TCBComponent `json:"tdxtcbcomponents"`
	PCESVN           uint16         `json:"pcesvn"`
	ISVSVN           uint16         `json:"isvsvn"`
}

// TCBComponent describes SVN information for an SGX/TDX TCB component.
type TCBComponent struct {
	SVN      uint8  `json:"svn"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type,omitempty"`
}

// decodeHexToByte decodes a hex string into a byte array.
// This function errors if the decoded string is not the expected length,
// to save the caller from having to check the length when parsing into fixed-size arrays.
func decodeHexToByte(in string, expectedLen int) ([]byte, error) {
	out, err := hex.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("decoding hex string: %w", err)
	}

	if len(out) != expectedLen {
		return nil, fmt.Errorf("expected %d bytes, but got %d", expectedLen, len(out))
	}

	return out, nil
}
