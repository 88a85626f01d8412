/*
Package tcb evaluates the Trusted Computing Base (TCB) status of a platform and its Quoting Enclave.

Both TCB Info and QE Identity list TCB levels from the highest to the lowest TCB.
The status of the first level the reported security version numbers (SVNs) satisfy applies.
Since this relies on the order of the levels, the order is checked before matching:
a level that is not reachable because an earlier level is always matched first is rejected.

Based on:
https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteVerification/QVL/Src/AttestationLibrary/src/Verifiers/QuoteVerifier.cpp
*/
package tcb

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgelesssys/go-dcap-qvl/verification/status"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
)

var (
	// ErrTCBEvaluationFailed is returned if the TCB Info does not apply to the platform,
	// is malformed, or contains no level matching the platform.
	ErrTCBEvaluationFailed = errors.New("TCB evaluation failed")
	// ErrQEIdentityMismatch is returned if the Quoting Enclave does not match the QE Identity.
	ErrQEIdentityMismatch = errors.New("QE identity mismatch")
	// ErrCollateralExpired is returned if TCB Info or QE Identity are not valid at the time of verification.
	ErrCollateralExpired = errors.New("collateral expired")
)

// PlatformResult is the outcome of evaluating a platform against TCB Info.
type PlatformResult struct {
	Status      status.TCBStatus
	AdvisoryIDs []string
	FMSPC       [6]byte
	Level       types.TCBLevel
	TDXModule   *TDXModuleResult // set if the TDX module was evaluated against a TDX module identity
}

// TDXModuleResult is the outcome of evaluating the TDX module against its TDX module identity.
type TDXModuleResult struct {
	ID          string
	Status      status.TCBStatus
	AdvisoryIDs []string
}

// QEResult is the outcome of evaluating a Quoting Enclave against QE Identity.
type QEResult struct {
	Status      status.TCBStatus
	AdvisoryIDs []string
}

// EvaluatePlatform matches the SVNs of the PCK certificate's SGX extensions, and for TDX the TEE TCB SVN of the
// quote body, against the TCB levels of tcbInfo.
//
// For TDX modules with a major version (TEE TCB SVN[1]) greater than 0, and TCB Info listing TDX module identities,
// the module's SVN (TEE TCB SVN[0]) is evaluated against the identity of its major version instead,
// the first two TDX components are excluded from platform level matching, and the module status is merged
// into the platform status.
//
// A Revoked status is returned as a result, not as an error. Callers decide how to handle it.
func EvaluatePlatform(ext types.SGXExtensions, body types.Body, tcbInfo types.TCBInfo) (PlatformResult, error) {
	teeType := body.TEEType()
	var tdReport *types.TDReport
	switch teeType {
	case types.TEETypeSGX:
		if tcbInfo.ID != types.TCBInfoSGXID {
			return PlatformResult{}, fmt.Errorf("%w: expected TCB Info for %s, got %s", ErrTCBEvaluationFailed, types.TCBInfoSGXID, tcbInfo.ID)
		}
	case types.TEETypeTDX:
		if tcbInfo.ID != types.TCBInfoTDXID {
			return PlatformResult{}, fmt.Errorf("%w: expected TCB Info for %s, got %s", ErrTCBEvaluationFailed, types.TCBInfoTDXID, tcbInfo.ID)
		}
		var ok bool
		if tdReport, ok = body.(*types.TDReport); !ok {
			return PlatformResult{}, fmt.Errorf("%w: unexpected body type %T for TDX", ErrTCBEvaluationFailed, body)
		}
	default:
		return PlatformResult{}, fmt.Errorf("%w: unknown TEE type 0x%x", ErrTCBEvaluationFailed, teeType)
	}

	if ext.FMSPC != tcbInfo.FMSPC {
		return PlatformResult{}, fmt.Errorf("%w: FMSPC of PCK certificate (%x) does not match TCB Info (%x)", ErrTCBEvaluationFailed, ext.FMSPC, tcbInfo.FMSPC)
	}
	if ext.PCEID != tcbInfo.PCEID {
		return PlatformResult{}, fmt.Errorf("%w: PCEID of PCK certificate (%x) does not match TCB Info (%x)", ErrTCBEvaluationFailed, ext.PCEID, tcbInfo.PCEID)
	}
	if len(tcbInfo.TCBLevels) == 0 {
		return PlatformResult{}, fmt.Errorf("%w: TCB Info has no TCB levels", ErrTCBEvaluationFailed)
	}
	if err := checkPlatformLevelOrder(tcbInfo.TCBLevels, teeType); err != nil {
		return PlatformResult{}, err
	}

	var module *TDXModuleResult
	if tdReport != nil {
		var err error
		if module, err = evaluateTDXModule(tdReport, tcbInfo); err != nil {
			return PlatformResult{}, err
		}
	}

	for _, level := range tcbInfo.TCBLevels {
		if !dominates(ext.TCB.TCBSVN, level.TCB.SGXSVNs()) || ext.TCB.PCESVN < level.TCB.PCESVN {
			continue
		}
		if tdReport != nil {
			teeTCBSVN, required := tdReport.TEETCBSVN, level.TCB.TDXSVNs()
			if module != nil {
				// SVN and major version of the TDX module
				teeTCBSVN[0], teeTCBSVN[1] = 0, 0
				required[0], required[1] = 0, 0
			}
			if !dominates(teeTCBSVN, required) {
				continue
			}
		}

		result := PlatformResult{
			Status:      level.TCBStatus,
			AdvisoryIDs: level.AdvisoryIDs,
			FMSPC:       tcbInfo.FMSPC,
			Level:       level,
			TDXModule:   module,
		}
		if module != nil {
			result.Status = convergeTDXModule(level.TCBStatus, module.Status)
			result.AdvisoryIDs = mergeAdvisoryIDs(level.AdvisoryIDs, module.AdvisoryIDs)
		}
		return result, nil
	}

	return PlatformResult{}, fmt.Errorf("%w: no TCB level matches the platform", ErrTCBEvaluationFailed)
}

// EvaluateQEIdentity matches the Quoting Enclave's report against qeIdentity.
//
// If no TCB level applies to the QE's ISVSVN, the status is [status.Unrecognized].
func EvaluateQEIdentity(qeReport types.EnclaveReport, teeType uint32, qeIdentity types.QEIdentity) (QEResult, error) {
	expectedID := types.QEIdentitySGXID
	if teeType == types.TEETypeTDX {
		expectedID = types.QEIdentityTDXID
	}
	if qeIdentity.ID != expectedID {
		return QEResult{}, fmt.Errorf("%w: expected QE Identity %s, got %s", ErrTCBEvaluationFailed, expectedID, qeIdentity.ID)
	}

	if qeReport.MRSIGNER != qeIdentity.MRSIGNER {
		return QEResult{}, fmt.Errorf("%w: MRSIGNER mismatch: expected %x, got %x", ErrQEIdentityMismatch, qeIdentity.MRSIGNER, qeReport.MRSIGNER)
	}
	if qeReport.ISVProdID != qeIdentity.ISVProdID {
		return QEResult{}, fmt.Errorf("%w: ISVProdID mismatch: expected %d, got %d", ErrQEIdentityMismatch, qeIdentity.ISVProdID, qeReport.ISVProdID)
	}
	if qeReport.MiscSelect&qeIdentity.MiscSelectMask != qeIdentity.MiscSelect {
		return QEResult{}, fmt.Errorf("%w: MISCSELECT mismatch: expected %x, got %x (mask %x)",
			ErrQEIdentityMismatch, qeIdentity.MiscSelect, qeReport.MiscSelect, qeIdentity.MiscSelectMask)
	}
	for i := range qeReport.Attributes {
		if qeReport.Attributes[i]&qeIdentity.AttributesMask[i] != qeIdentity.Attributes[i] {
			return QEResult{}, fmt.Errorf("%w: attributes mismatch: expected %x, got %x (mask %x)",
				ErrQEIdentityMismatch, qeIdentity.Attributes, qeReport.Attributes, qeIdentity.AttributesMask)
		}
	}

	for i := 1; i < len(qeIdentity.TCBLevels); i++ {
		if qeIdentity.TCBLevels[i].TCB.ISVSVN >= qeIdentity.TCBLevels[i-1].TCB.ISVSVN {
			return QEResult{}, fmt.Errorf("%w: QE Identity TCB levels are not ordered by descending ISVSVN (level %d: %d, level %d: %d)",
				ErrTCBEvaluationFailed, i-1, qeIdentity.TCBLevels[i-1].TCB.ISVSVN, i, qeIdentity.TCBLevels[i].TCB.ISVSVN)
		}
	}

	for _, level := range qeIdentity.TCBLevels {
		if level.TCB.ISVSVN <= qeReport.ISVSVN {
			return QEResult{Status: level.TCBStatus, AdvisoryIDs: level.AdvisoryIDs}, nil
		}
	}
	return QEResult{Status: status.Unrecognized}, nil
}

// CheckCollateralFreshness checks that now lies within the validity period of TCB Info and QE Identity,
// both bounds inclusive.
func CheckCollateralFreshness(tcbInfo types.TCBInfo, qeIdentity types.QEIdentity, now time.Time) error {
	if now.Before(tcbInfo.IssueDate) || now.After(tcbInfo.NextUpdate) {
		return fmt.Errorf("%w: TCB Info is valid from %s until %s", ErrCollateralExpired, tcbInfo.IssueDate, tcbInfo.NextUpdate)
	}
	if now.Before(qeIdentity.IssueDate) || now.After(qeIdentity.NextUpdate) {
		return fmt.Errorf("%w: QE Identity is valid from %s until %s", ErrCollateralExpired, qeIdentity.IssueDate, qeIdentity.NextUpdate)
	}
	return nil
}

// evaluateTDXModule checks the TDX module against its TDX module identity, if the TCB Info has one,
// and otherwise against the TDX module of the TCB Info.
// The result is nil if no TDX module identity applies.
func evaluateTDXModule(report *types.TDReport, tcbInfo types.TCBInfo) (*TDXModuleResult, error) {
	moduleSVN, majorVersion := report.TEETCBSVN[0], report.TEETCBSVN[1]
	if majorVersion == 0 || len(tcbInfo.TDXModuleIdentities) == 0 {
		if tcbInfo.TDXModule == nil {
			return nil, nil
		}
		return nil, checkTDXModule(report, tcbInfo.TDXModule)
	}

	identity, ok := tcbInfo.TDXModuleIdentity(majorVersion)
	if !ok {
		return nil, fmt.Errorf("%w: TCB Info has no identity for TDX module major version %d", ErrTCBEvaluationFailed, majorVersion)
	}
	if err := checkTDXModule(report, &identity.TDXModule); err != nil {
		return nil, err
	}
	for i := 1; i < len(identity.TCBLevels); i++ {
		if identity.TCBLevels[i].TCB.ISVSVN >= identity.TCBLevels[i-1].TCB.ISVSVN {
			return nil, fmt.Errorf("%w: TCB levels of %s are not ordered by descending ISVSVN", ErrTCBEvaluationFailed, identity.ID)
		}
	}
	for _, level := range identity.TCBLevels {
		if level.TCB.ISVSVN <= uint16(moduleSVN) {
			return &TDXModuleResult{ID: identity.ID, Status: level.TCBStatus, AdvisoryIDs: level.AdvisoryIDs}, nil
		}
	}
	return nil, fmt.Errorf("%w: no TCB level of %s matches TDX module SVN %d", ErrTCBEvaluationFailed, identity.ID, moduleSVN)
}

// convergeTDXModule applies the TDX module status to the platform status.
func convergeTDXModule(platform, module status.TCBStatus) status.TCBStatus {
	switch module {
	case status.OutOfDate:
		switch platform {
		case status.UpToDate, status.SWHardeningNeeded:
			return status.OutOfDate
		case status.ConfigurationNeeded, status.ConfigurationAndSWHardeningNeeded:
			return status.OutOfDateConfigurationNeeded
		}
	case status.Revoked:
		return status.Revoked
	}
	return platform
}

func mergeAdvisoryIDs(a, b []string) []string {
	merged := append([]string(nil), a...)
	for _, id := range b {
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// checkTDXModule verifies the TDX module's signer and attributes against the TCB Info.
func checkTDXModule(report *types.TDReport, module *types.TDXModule) error {
	if !bytes.Equal(report.MRSIGNERSEAM[:], module.MRSIGNERSEAM[:]) {
		return fmt.Errorf("%w: MRSIGNERSEAM mismatch: expected %x, got %x", ErrTCBEvaluationFailed, module.MRSIGNERSEAM, report.MRSIGNERSEAM)
	}
	if report.SEAMAttributes&module.SEAMAttributesMask != module.SEAMAttributes {
		return fmt.Errorf("%w: SEAM attributes mismatch: expected %x, got %x (mask %x)",
			ErrTCBEvaluationFailed, module.SEAMAttributes, report.SEAMAttributes, module.SEAMAttributesMask)
	}
	return nil
}

// checkPlatformLevelOrder rejects TCB levels that are never matched,
// because an earlier level requires no higher SVN in any component.
func checkPlatformLevelOrder(levels []types.TCBLevel, teeType uint32) error {
	for later := 1; later < len(levels); later++ {
		for earlier := 0; earlier < later; earlier++ {
			if levelDominates(levels[later], levels[earlier], teeType) {
				return fmt.Errorf("%w: TCB level %d is unreachable, level %d always matches first", ErrTCBEvaluationFailed, later, earlier)
			}
		}
	}
	return nil
}

// levelDominates reports whether every SVN of a is at least the corresponding SVN of b.
func levelDominates(a, b types.TCBLevel, teeType uint32) bool {
	if !dominates(a.TCB.SGXSVNs(), b.TCB.SGXSVNs()) || a.TCB.PCESVN < b.TCB.PCESVN {
		return false
	}
	if teeType == types.TEETypeTDX {
		return dominates(a.TCB.TDXSVNs(), b.TCB.TDXSVNs())
	}
	return true
}

// dominates reports whether every component of svns is at least the corresponding component of required.
func dominates(svns, required [16]uint8) bool {
	for i := range svns {
		if svns[i] < required[i] {
			return false
		}
	}
	return true
}
