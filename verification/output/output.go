/*
Package output implements the fixed 135 byte encoding of a verification result.

	offset  size  field
	0       1     TCB status discriminant (0 = UpToDate ... 7 = Unrecognized)
	1       32    MRENCLAVE
	33      32    MRSIGNER
	65      64    report data
	129     6     FMSPC
*/
package output

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/edgelesssys/go-dcap-qvl/verification/status"
)

// Size is the length of an encoded VerifiedOutput.
const Size = 135

// ErrInvalidEncoding is returned when decoding bytes that are not a valid VerifiedOutput.
var ErrInvalidEncoding = errors.New("invalid verified output encoding")

// VerifiedOutput is the result of a successful quote verification.
type VerifiedOutput struct {
	TCBStatus  status.TCBStatus
	MREnclave  [32]byte
	MRSigner   [32]byte
	ReportData [64]byte
	FMSPC      [6]byte
}

// Encode serializes the output to its binary representation.
// A TCB status outside the known range is encoded as [status.Unrecognized].
func (o VerifiedOutput) Encode() [Size]byte {
	var result [Size]byte
	result[0] = byte(o.TCBStatus)
	if !o.TCBStatus.Valid() {
		result[0] = byte(status.Unrecognized)
	}
	copy(result[1:33], o.MREnclave[:])
	copy(result[33:65], o.MRSigner[:])
	copy(result[65:129], o.ReportData[:])
	copy(result[129:135], o.FMSPC[:])
	return result
}

// MarshalBinary implements [encoding.BinaryMarshaler].
// It fails for a TCB status outside the known range.
func (o VerifiedOutput) MarshalBinary() ([]byte, error) {
	if !o.TCBStatus.Valid() {
		return nil, fmt.Errorf("%w: TCB status %d", ErrInvalidEncoding, uint8(o.TCBStatus))
	}
	b := o.Encode()
	return b[:], nil
}

// UnmarshalBinary implements [encoding.BinaryUnmarshaler].
func (o *VerifiedOutput) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*o = decoded
	return nil
}

// Decode parses the binary representation of a VerifiedOutput.
func Decode(data []byte) (VerifiedOutput, error) {
	if len(data) != Size {
		return VerifiedOutput{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidEncoding, Size, len(data))
	}
	tcbStatus := status.TCBStatus(data[0])
	if !tcbStatus.Valid() {
		return VerifiedOutput{}, fmt.Errorf("%w: unknown TCB status discriminant %d", ErrInvalidEncoding, data[0])
	}
	return VerifiedOutput{
		TCBStatus:  tcbStatus,
		MREnclave:  [32]byte(data[1:33]),
		MRSigner:   [32]byte(data[33:65]),
		ReportData: [64]byte(data[65:129]),
		FMSPC:      [6]byte(data[129:135]),
	}, nil
}

// String returns the hex encoding of the binary representation.
func (o VerifiedOutput) String() string {
	b := o.Encode()
	return hex.EncodeToString(b[:])
}

// DecodeHex parses a hex encoded VerifiedOutput, as returned by [VerifiedOutput.String].
// Surrounding whitespace and a 0x prefix are ignored.
func DecodeHex(s string) (VerifiedOutput, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	data, err := hex.DecodeString(s)
	if err != nil {
		return VerifiedOutput{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	return Decode(data)
}
