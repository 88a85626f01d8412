// Package status defines the TCB status values reported by Intel's PCS
// and how the platform and Quoting Enclave statuses combine into a final verdict.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTCBRevoked is returned when the platform (or its Quoting Enclave) has been revoked.
var ErrTCBRevoked = errors.New("TCB revoked")

// TCBStatus is the status of a TCB level, ordered by severity.
// The numeric value is part of the verified output encoding and must not change.
type TCBStatus uint8

const (
	// UpToDate indicates the platform is patched to the latest TCB level.
	UpToDate TCBStatus = iota
	// SWHardeningNeeded indicates the platform is up to date, but software mitigations are required.
	SWHardeningNeeded
	// ConfigurationAndSWHardeningNeeded indicates additional configuration and software mitigations are required.
	ConfigurationAndSWHardeningNeeded
	// ConfigurationNeeded indicates the platform requires additional configuration.
	ConfigurationNeeded
	// OutOfDate indicates the platform TCB is outdated.
	OutOfDate
	// OutOfDateConfigurationNeeded indicates the platform TCB is outdated and requires additional configuration.
	OutOfDateConfigurationNeeded
	// Revoked indicates the platform TCB has been revoked.
	Revoked
	// Unrecognized is used for any status that can not be vouched for.
	Unrecognized
)

var labels = [...]string{
	UpToDate:                          "UpToDate",
	SWHardeningNeeded:                 "SWHardeningNeeded",
	ConfigurationAndSWHardeningNeeded: "ConfigurationAndSWHardeningNeeded",
	ConfigurationNeeded:               "ConfigurationNeeded",
	OutOfDate:                         "OutOfDate",
	OutOfDateConfigurationNeeded:      "OutOfDateConfigurationNeeded",
	Revoked:                           "Revoked",
	Unrecognized:                      "Unrecognized",
}

// String returns the label Intel's PCS uses for the status.
func (s TCBStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("TCBStatus(%d)", uint8(s))
	}
	return labels[s]
}

// Valid reports whether s is one of the defined statuses.
func (s TCBStatus) Valid() bool {
	return s <= Unrecognized
}

// Parse returns the status for a PCS label.
// Labels this package does not know are mapped to Unrecognized.
func Parse(label string) TCBStatus {
	for i, l := range labels {
		if l == label {
			return TCBStatus(i)
		}
	}
	return Unrecognized
}

// MarshalJSON encodes the status as its PCS label.
func (s TCBStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a PCS status label.
func (s *TCBStatus) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("unmarshaling TCB status: %w", err)
	}
	*s = Parse(label)
	return nil
}

// MoreSevere returns the more severe of two statuses.
func MoreSevere(a, b TCBStatus) TCBStatus {
	if a > b {
		return a
	}
	return b
}

// Converge combines the platform TCB status and the Quoting Enclave TCB status into the final status.
//
// A revoked platform is never combined: it is returned as [ErrTCBRevoked].
// An unrecognized QE status always yields [Unrecognized].
// Otherwise the more severe of the two statuses wins.
func Converge(platform, qe TCBStatus) (TCBStatus, error) {
	if platform == Revoked {
		return Revoked, fmt.Errorf("platform: %w", ErrTCBRevoked)
	}
	if qe == Unrecognized || !qe.Valid() || !platform.Valid() {
		return Unrecognized, nil
	}

	converged := MoreSevere(platform, qe)
	if converged == Revoked {
		return Revoked, fmt.Errorf("quoting enclave: %w", ErrTCBRevoked)
	}
	return converged, nil
}
