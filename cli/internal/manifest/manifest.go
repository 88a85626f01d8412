/*
Package manifest loads a collateral bundle described by a YAML manifest.

A manifest lists one file per collateral slot. Relative paths are resolved against the manifest's directory.

	quoteVersion: 4                # optional, accept only quotes of this version
	trustedRoots:                  # optional, SHA-256 fingerprints of acceptable root CAs, default: Intel SGX Root CA
	  - a1acc73eb45794fa1734f14d882e91925b6006f79d3bb2460df9d01b333d7009
	tcbInfo: tcbinfo.json          # PCS response, signed by the TCB signing certificate
	qeIdentity: qe_identity.json   # PCS response, signed by the TCB signing certificate
	rootCA: root_ca.pem
	tcbSigningCert: tcb_signing.pem
	pckCertChain: pck_chain.pem    # optional, if the quote embeds the chain
	rootCACRL: root_ca.crl
	pckProcessorCRL: processor.crl # at least one of the PCK CRLs
	pckPlatformCRL: platform.crl
*/
package manifest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/edgelesssys/go-dcap-qvl/verification/collateral"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest describes where to find the collateral of a verification.
type Manifest struct {
	QuoteVersion    uint16   `yaml:"quoteVersion"`
	TrustedRoots    []string `yaml:"trustedRoots"`
	TCBInfo         string   `yaml:"tcbInfo"`
	QEIdentity      string   `yaml:"qeIdentity"`
	RootCA          string   `yaml:"rootCA"`
	TCBSigningCert  string   `yaml:"tcbSigningCert"`
	PCKCertChain    string   `yaml:"pckCertChain"`
	RootCACRL       string   `yaml:"rootCACRL"`
	PCKProcessorCRL string   `yaml:"pckProcessorCRL"`
	PCKPlatformCRL  string   `yaml:"pckPlatformCRL"`

	dir string
}

// Load reads and decodes the manifest at path. Unknown keys are rejected.
func Load(fs afero.Fs, path string) (*Manifest, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes a manifest. Relative paths of a parsed manifest are resolved against the working directory.
func Parse(raw []byte) (*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var m Manifest
	if err := decoder.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if _, err := m.Fingerprints(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Fingerprints returns the decoded trusted root fingerprints.
func (m *Manifest) Fingerprints() ([][32]byte, error) {
	fingerprints := make([][32]byte, 0, len(m.TrustedRoots))
	for _, root := range m.TrustedRoots {
		raw, err := hex.DecodeString(root)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("invalid trusted root fingerprint %q: expected 64 hex characters", root)
		}
		fingerprints = append(fingerprints, [32]byte(raw))
	}
	return fingerprints, nil
}

// Bundle reads the files listed by the manifest into a collateral bundle.
// Slots without a file are left empty.
func (m *Manifest) Bundle(fs afero.Fs) (*collateral.Bundle, error) {
	bundle := &collateral.Bundle{}
	slots := []struct {
		name string
		path string
		set  func([]byte) error
	}{
		{"tcbInfo", m.TCBInfo, bundle.SetTCBInfoJSON},
		{"qeIdentity", m.QEIdentity, bundle.SetQEIdentityJSON},
		{"rootCA", m.RootCA, bundle.SetRootCA},
		{"tcbSigningCert", m.TCBSigningCert, bundle.SetTCBSigningCert},
		{"pckCertChain", m.PCKCertChain, bundle.SetPCKCertChain},
		{"rootCACRL", m.RootCACRL, bundle.SetRootCACRL},
		{"pckProcessorCRL", m.PCKProcessorCRL, bundle.SetPCKProcessorCRL},
		{"pckPlatformCRL", m.PCKPlatformCRL, bundle.SetPCKPlatformCRL},
	}

	for _, slot := range slots {
		if slot.path == "" {
			continue
		}
		raw, err := afero.ReadFile(fs, m.resolve(slot.path))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", slot.name, err)
		}
		if err := slot.set(raw); err != nil {
			return nil, fmt.Errorf("loading %s from %s: %w", slot.name, slot.path, err)
		}
	}
	return bundle, nil
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) || m.dir == "" {
		return path
	}
	return filepath.Join(m.dir, path)
}
