package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscriminants(t *testing.T) {
	assert := assert.New(t)

	assert.EqualValues(0, UpToDate)
	assert.EqualValues(1, SWHardeningNeeded)
	assert.EqualValues(2, ConfigurationAndSWHardeningNeeded)
	assert.EqualValues(3, ConfigurationNeeded)
	assert.EqualValues(4, OutOfDate)
	assert.EqualValues(5, OutOfDateConfigurationNeeded)
	assert.EqualValues(6, Revoked)
	assert.EqualValues(7, Unrecognized)
}

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		label string
		want  TCBStatus
	}{
		"up to date":           {label: "UpToDate", want: UpToDate},
		"sw hardening":         {label: "SWHardeningNeeded", want: SWHardeningNeeded},
		"config and hardening": {label: "ConfigurationAndSWHardeningNeeded", want: ConfigurationAndSWHardeningNeeded},
		"config":               {label: "ConfigurationNeeded", want: ConfigurationNeeded},
		"out of date":          {label: "OutOfDate", want: OutOfDate},
		"out of date config":   {label: "OutOfDateConfigurationNeeded", want: OutOfDateConfigurationNeeded},
		"revoked":              {label: "Revoked", want: Revoked},
		"unknown label":        {label: "TDRelaunchAdvised", want: Unrecognized},
		"wrong case":           {label: "uptodate", want: Unrecognized},
		"empty":                {label: "", want: Unrecognized},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tc.want, Parse(tc.label))
		})
	}
}

func TestJSON(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var levels []struct {
		Status TCBStatus `json:"tcbStatus"`
	}
	require.NoError(json.Unmarshal([]byte(`[{"tcbStatus":"OutOfDate"},{"tcbStatus":"Revoked"},{"tcbStatus":"Something"}]`), &levels))
	require.Len(levels, 3)
	assert.Equal(OutOfDate, levels[0].Status)
	assert.Equal(Revoked, levels[1].Status)
	assert.Equal(Unrecognized, levels[2].Status)

	out, err := json.Marshal(SWHardeningNeeded)
	require.NoError(err)
	assert.Equal(`"SWHardeningNeeded"`, string(out))

	var s TCBStatus
	assert.Error(json.Unmarshal([]byte(`4`), &s))
}

func TestString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("UpToDate", UpToDate.String())
	assert.Equal("Unrecognized", Unrecognized.String())
	assert.Equal("TCBStatus(42)", TCBStatus(42).String())
}

func TestConverge(t *testing.T) {
	testCases := map[string]struct {
		platform TCBStatus
		qe       TCBStatus
		want     TCBStatus
		wantErr  bool
	}{
		"both up to date": {
			platform: UpToDate,
			qe:       UpToDate,
			want:     UpToDate,
		},
		"qe out of date": {
			platform: UpToDate,
			qe:       OutOfDate,
			want:     OutOfDate,
		},
		"platform more severe": {
			platform: OutOfDateConfigurationNeeded,
			qe:       SWHardeningNeeded,
			want:     OutOfDateConfigurationNeeded,
		},
		"qe unrecognized": {
			platform: ConfigurationNeeded,
			qe:       Unrecognized,
			want:     Unrecognized,
		},
		"platform revoked": {
			platform: Revoked,
			qe:       UpToDate,
			wantErr:  true,
		},
		"platform revoked and qe unrecognized": {
			platform: Revoked,
			qe:       Unrecognized,
			wantErr:  true,
		},
		"qe revoked": {
			platform: UpToDate,
			qe:       Revoked,
			wantErr:  true,
		},
		"invalid qe value": {
			platform: UpToDate,
			qe:       TCBStatus(200),
			want:     Unrecognized,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := Converge(tc.platform, tc.qe)
			if tc.wantErr {
				assert.ErrorIs(err, ErrTCBRevoked)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestConvergeMonotonic(t *testing.T) {
	assert := assert.New(t)

	for platform := UpToDate; platform <= Unrecognized; platform++ {
		for qe := UpToDate; qe <= Unrecognized; qe++ {
			if platform == Revoked || qe == Revoked {
				continue
			}
			got, err := Converge(platform, qe)
			assert.NoError(err)
			assert.GreaterOrEqual(uint8(got), uint8(platform), "platform=%s qe=%s", platform, qe)
			assert.GreaterOrEqual(uint8(got), uint8(qe), "platform=%s qe=%s", platform, qe)
		}

		if platform != Revoked {
			got, err := Converge(platform, Unrecognized)
			assert.NoError(err)
			assert.Equal(Unrecognized, got)
		}
	}
}
