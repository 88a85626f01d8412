package output

import (
	"bytes"
	"testing"

	"github.com/edgelesssys/go-dcap-qvl/verification/status"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	assert := assert.New(t)

	out := VerifiedOutput{
		TCBStatus:  status.OutOfDate,
		MREnclave:  [32]byte{0x01, 31: 0x02},
		MRSigner:   [32]byte{0x03, 31: 0x04},
		ReportData: [64]byte{0x05, 63: 0x06},
		FMSPC:      [6]byte{0x00, 0x90, 0x6E, 0xA1, 0x00, 0x00},
	}
	b := out.Encode()

	assert.Equal(byte(4), b[0])
	assert.Equal(byte(0x01), b[1])
	assert.Equal(byte(0x02), b[32])
	assert.Equal(byte(0x03), b[33])
	assert.Equal(byte(0x04), b[64])
	assert.Equal(byte(0x05), b[65])
	assert.Equal(byte(0x06), b[128])
	assert.Equal([]byte{0x00, 0x90, 0x6E, 0xA1, 0x00, 0x00}, b[129:135])

	marshaled, err := out.MarshalBinary()
	assert.NoError(err)
	assert.Equal(b[:], marshaled)
}

func TestEncodeInvalidStatus(t *testing.T) {
	assert := assert.New(t)

	out := VerifiedOutput{TCBStatus: status.TCBStatus(8), FMSPC: [6]byte{1}}
	b := out.Encode()
	assert.Equal(byte(status.Unrecognized), b[0])

	decoded, err := Decode(b[:])
	assert.NoError(err)
	assert.Equal(status.Unrecognized, decoded.TCBStatus)
	assert.Equal(out.FMSPC, decoded.FMSPC)

	_, err = out.MarshalBinary()
	assert.ErrorIs(err, ErrInvalidEncoding)
}

func TestDiscriminants(t *testing.T) {
	testCases := map[status.TCBStatus]byte{
		status.UpToDate:                          0,
		status.SWHardeningNeeded:                 1,
		status.ConfigurationAndSWHardeningNeeded: 2,
		status.ConfigurationNeeded:               3,
		status.OutOfDate:                         4,
		status.OutOfDateConfigurationNeeded:      5,
		status.Revoked:                           6,
		status.Unrecognized:                      7,
	}

	for tcbStatus, discriminant := range testCases {
		t.Run(tcbStatus.String(), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			out := VerifiedOutput{TCBStatus: tcbStatus, FMSPC: [6]byte{1, 2, 3, 4, 5, 6}}
			b := out.Encode()
			assert.Equal(discriminant, b[0])

			decoded, err := Decode(b[:])
			require.NoError(err)
			if diff := cmp.Diff(out, decoded); diff != "" {
				t.Errorf("decoded output differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := VerifiedOutput{TCBStatus: status.UpToDate}.Encode()

	testCases := map[string][]byte{
		"empty":     nil,
		"too short": valid[:Size-1],
		"too long":  append(valid[:], 0x00),
		"discriminant 8": func() []byte {
			b := valid
			b[0] = 8
			return b[:]
		}(),
		"discriminant 255": func() []byte {
			b := valid
			b[0] = 0xFF
			return b[:]
		}(),
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.ErrorIs(t, err, ErrInvalidEncoding)

			var out VerifiedOutput
			assert.ErrorIs(t, out.UnmarshalBinary(data), ErrInvalidEncoding)
		})
	}
}

func TestHex(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	out := VerifiedOutput{
		TCBStatus:  status.SWHardeningNeeded,
		MREnclave:  [32]byte{0xAA},
		ReportData: [64]byte{0xBB},
		FMSPC:      [6]byte{0x00, 0x60, 0x6A, 0x00, 0x00, 0x00},
	}
	s := out.String()
	assert.Len(s, 2*Size)
	assert.Equal("01aa", s[:4])

	decoded, err := DecodeHex(s)
	require.NoError(err)
	assert.Equal(out, decoded)

	decoded, err = DecodeHex(" 0x" + s + "\n")
	require.NoError(err)
	assert.Equal(out, decoded)

	_, err = DecodeHex("zz")
	assert.ErrorIs(err, ErrInvalidEncoding)
	_, err = DecodeHex(s[:len(s)-2])
	assert.ErrorIs(err, ErrInvalidEncoding)
}

func FuzzDecode(f *testing.F) {
	valid := VerifiedOutput{TCBStatus: status.OutOfDate, FMSPC: [6]byte{1}}.Encode()
	f.Add(valid[:])
	f.Add([]byte{0x08})
	f.Fuzz(func(t *testing.T, data []byte) {
		var out VerifiedOutput
		var err error
		assert.NotPanics(t, func() { out, err = Decode(data) })
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidEncoding)
			return
		}
		encoded := out.Encode()
		assert.True(t, bytes.Equal(data, encoded[:]), "decoding and encoding must round-trip")
	})
}
