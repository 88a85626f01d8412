package types

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
)

// ErrInvalidExtension is returned if a PCK certificate does not carry a valid SGX extension.
var ErrInvalidExtension = errors.New("invalid SGX extension")

// SGXExtensionOID is the OID for Intel's custom x509 SGX extension.
var SGXExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

var (
	oidPPID               = sgxOID(1)
	oidTCB                = sgxOID(2)
	oidPCESVN             = sgxOID(2, 17)
	oidCPUSVN             = sgxOID(2, 18)
	oidPCEID              = sgxOID(3)
	oidFMSPC              = sgxOID(4)
	oidSGXType            = sgxOID(5)
	oidPlatformInstanceID = sgxOID(6)
	oidConfiguration      = sgxOID(7)
	oidDynamicPlatform    = sgxOID(7, 1)
	oidCachedKeys         = sgxOID(7, 2)
	oidSMTEnabled         = sgxOID(7, 3)
)

// SGXExtensions are the x509 certificate extensions of a PCK certificate.
type SGXExtensions struct {
	PPID               [16]byte
	TCB                PCKTCB
	PCEID              [2]byte
	FMSPC              [6]byte
	SGXType            int // 0 standard, 1 scalable, 2 scalable with integrity
	PlatformInstanceID []byte
	Configuration      *PCKConfiguration
}

// PCKTCB describes the TCB of a PCK certificate.
// They are part of the SGX extensions.
type PCKTCB struct {
	TCBSVN [16]uint8
	PCESVN uint16
	CPUSVN [16]byte
}

// PCKConfiguration describes the configuration of a PCK certificate.
// They are part of the SGX extensions for multi-package platforms.
type PCKConfiguration struct {
	DynamicPlatform bool
	CachedKeys      bool
	SMTEnabled      bool
}

type oidValue struct {
	oid   asn1.ObjectIdentifier
	value any
}

// asn1Element is a single OID and value pair, the building block of the SGX extension.
type asn1Element struct {
	Oid   asn1.ObjectIdentifier
	Value asn1.RawValue
}

// ParsePCKSGXExtensions parses the SGX extensions of a PCK certificate.
func ParsePCKSGXExtensions(pckCert *x509.Certificate) (SGXExtensions, error) {
	var sgxExtension []byte
	for _, ext := range pckCert.Extensions {
		if ext.Id.Equal(SGXExtensionOID) {
			sgxExtension = ext.Value
			break
		}
	}
	if len(sgxExtension) == 0 {
		return SGXExtensions{}, fmt.Errorf("%w: no SGX extension found in certificate", ErrInvalidExtension)
	}
	return UnmarshalSGXExtensions(sgxExtension)
}

// UnmarshalSGXExtensions parses the DER encoded value of the SGX extension.
func UnmarshalSGXExtensions(der []byte) (SGXExtensions, error) {
	var elements []asn1Element
	if rest, err := asn1.Unmarshal(der, &elements); err != nil {
		return SGXExtensions{}, fmt.Errorf("%w: unmarshaling SGX extension: %w", ErrInvalidExtension, err)
	} else if len(rest) != 0 {
		return SGXExtensions{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidExtension, len(rest))
	}

	var ext SGXExtensions
	var hasPPID, hasTCB, hasPCEID, hasFMSPC, hasSGXType bool
	for _, element := range elements {
		var err error
		switch {
		case element.Oid.Equal(oidPPID):
			err = unmarshalFixedOctets(element.Value, ext.PPID[:])
			hasPPID = true
		case element.Oid.Equal(oidTCB):
			ext.TCB, err = unmarshalTCB(element.Value)
			hasTCB = true
		case element.Oid.Equal(oidPCEID):
			err = unmarshalFixedOctets(element.Value, ext.PCEID[:])
			hasPCEID = true
		case element.Oid.Equal(oidFMSPC):
			err = unmarshalFixedOctets(element.Value, ext.FMSPC[:])
			hasFMSPC = true
		case element.Oid.Equal(oidSGXType):
			var sgxType asn1.Enumerated
			_, err = asn1.Unmarshal(element.Value.FullBytes, &sgxType)
			ext.SGXType = int(sgxType)
			hasSGXType = true
		case element.Oid.Equal(oidPlatformInstanceID):
			// optional, but if present, must be 16 bytes.
			instanceID := make([]byte, 16)
			err = unmarshalFixedOctets(element.Value, instanceID)
			ext.PlatformInstanceID = instanceID
		case element.Oid.Equal(oidConfiguration):
			ext.Configuration, err = unmarshalConfiguration(element.Value)
		}
		if err != nil {
			return SGXExtensions{}, fmt.Errorf("%w: element %s: %w", ErrInvalidExtension, element.Oid, err)
		}
	}

	if !hasPPID || !hasTCB || !hasPCEID || !hasFMSPC || !hasSGXType {
		return SGXExtensions{}, fmt.Errorf("%w: missing mandatory element", ErrInvalidExtension)
	}
	return ext, nil
}

// MarshalSGXExtensions encodes ext as the DER value of the SGX extension.
func MarshalSGXExtensions(ext SGXExtensions) ([]byte, error) {
	var tcb []asn1Element
	for i, svn := range ext.TCB.TCBSVN {
		element, err := newElement(sgxOID(2, i+1), int(svn))
		if err != nil {
			return nil, err
		}
		tcb = append(tcb, element)
	}
	pceSVN, err := newElement(oidPCESVN, int(ext.TCB.PCESVN))
	if err != nil {
		return nil, err
	}
	cpuSVN, err := newElement(oidCPUSVN, ext.TCB.CPUSVN[:])
	if err != nil {
		return nil, err
	}
	tcb = append(tcb, pceSVN, cpuSVN)

	values := []oidValue{
		{oidPPID, ext.PPID[:]},
		{oidTCB, tcb},
		{oidPCEID, ext.PCEID[:]},
		{oidFMSPC, ext.FMSPC[:]},
		{oidSGXType, asn1.Enumerated(ext.SGXType)},
	}
	if ext.PlatformInstanceID != nil {
		values = append(values, oidValue{oidPlatformInstanceID, ext.PlatformInstanceID})
	}
	if ext.Configuration != nil {
		var config []asn1Element
		for _, flag := range []struct {
			oid asn1.ObjectIdentifier
			set bool
		}{
			{oidDynamicPlatform, ext.Configuration.DynamicPlatform},
			{oidCachedKeys, ext.Configuration.CachedKeys},
			{oidSMTEnabled, ext.Configuration.SMTEnabled},
		} {
			element, err := newElement(flag.oid, flag.set)
			if err != nil {
				return nil, err
			}
			config = append(config, element)
		}
		values = append(values, oidValue{oidConfiguration, config})
	}

	var elements []asn1Element
	for _, v := range values {
		element, err := newElement(v.oid, v.value)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	return asn1.Marshal(elements)
}

// SGXExtension returns ext as an x509 extension, ready to be used in a certificate template.
func (ext SGXExtensions) SGXExtension() (pkix.Extension, error) {
	value, err := MarshalSGXExtensions(ext)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: SGXExtensionOID, Value: value}, nil
}

func unmarshalTCB(value asn1.RawValue) (PCKTCB, error) {
	var elements []asn1Element
	if _, err := asn1.Unmarshal(value.FullBytes, &elements); err != nil {
		return PCKTCB{}, err
	}

	var tcb PCKTCB
	var found [18]bool
	for _, element := range elements {
		if len(element.Oid) != len(oidTCB)+1 || !element.Oid[:len(oidTCB)].Equal(oidTCB) {
			continue
		}
		idx := element.Oid[len(oidTCB)]
		switch {
		case idx >= 1 && idx <= 16:
			svn, err := unmarshalBoundedInt(element.Value, 0xFF)
			if err != nil {
				return PCKTCB{}, fmt.Errorf("component %d: %w", idx, err)
			}
			tcb.TCBSVN[idx-1] = uint8(svn)
		case idx == 17:
			svn, err := unmarshalBoundedInt(element.Value, 0xFFFF)
			if err != nil {
				return PCKTCB{}, fmt.Errorf("PCESVN: %w", err)
			}
			tcb.PCESVN = uint16(svn)
		case idx == 18:
			if err := unmarshalFixedOctets(element.Value, tcb.CPUSVN[:]); err != nil {
				return PCKTCB{}, fmt.Errorf("CPUSVN: %w", err)
			}
		default:
			continue
		}
		found[idx-1] = true
	}

	for i, ok := range found {
		if !ok {
			return PCKTCB{}, fmt.Errorf("missing TCB element %d", i+1)
		}
	}
	return tcb, nil
}

func unmarshalConfiguration(value asn1.RawValue) (*PCKConfiguration, error) {
	var elements []asn1Element
	if _, err := asn1.Unmarshal(value.FullBytes, &elements); err != nil {
		return nil, err
	}

	config := &PCKConfiguration{}
	for _, element := range elements {
		var target *bool
		switch {
		case element.Oid.Equal(oidDynamicPlatform):
			target = &config.DynamicPlatform
		case element.Oid.Equal(oidCachedKeys):
			target = &config.CachedKeys
		case element.Oid.Equal(oidSMTEnabled):
			target = &config.SMTEnabled
		default:
			continue
		}
		if _, err := asn1.Unmarshal(element.Value.FullBytes, target); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func unmarshalFixedOctets(value asn1.RawValue, dst []byte) error {
	var octets []byte
	if _, err := asn1.Unmarshal(value.FullBytes, &octets); err != nil {
		return err
	}
	if len(octets) != len(dst) {
		return fmt.Errorf("expected %d bytes, but got %d", len(dst), len(octets))
	}
	copy(dst, octets)
	return nil
}

func unmarshalBoundedInt(value asn1.RawValue, limit int) (int, error) {
	var i int
	if _, err := asn1.Unmarshal(value.FullBytes, &i); err != nil {
		return 0, err
	}
	if i < 0 || i > limit {
		return 0, fmt.Errorf("value %d out of range [0, %d]", i, limit)
	}
	return i, nil
}

func newElement(oid asn1.ObjectIdentifier, value any) (asn1Element, error) {
	der, err := asn1.Marshal(value)
	if err != nil {
		return asn1Element{}, fmt.Errorf("marshaling %s: %w", oid, err)
	}
	return asn1Element{Oid: oid, Value: asn1.RawValue{FullBytes: der}}, nil
}

func sgxOID(arcs ...int) asn1.ObjectIdentifier {
	oid := make(asn1.ObjectIdentifier, 0, len(SGXExtensionOID)+len(arcs))
	oid = append(oid, SGXExtensionOID...)
	return append(oid, arcs...)
}
