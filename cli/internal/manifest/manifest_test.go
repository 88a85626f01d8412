package manifest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgelesssys/go-dcap-qvl/testing/fixtures"
	"github.com/edgelesssys/go-dcap-qvl/verification/pki"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		manifest string
		want     Manifest
		wantErr  bool
	}{
		"full manifest": {
			manifest: `
quoteVersion: 4
trustedRoots:
  - a1acc73eb45794fa1734f14d882e91925b6006f79d3bb2460df9d01b333d7009
tcbInfo: tcb.json
qeIdentity: qe.json
rootCA: root.pem
tcbSigningCert: signing.pem
pckCertChain: chain.pem
rootCACRL: root.crl
pckProcessorCRL: processor.crl
pckPlatformCRL: platform.crl
`,
			want: Manifest{
				QuoteVersion:    4,
				TrustedRoots:    []string{"a1acc73eb45794fa1734f14d882e91925b6006f79d3bb2460df9d01b333d7009"},
				TCBInfo:         "tcb.json",
				QEIdentity:      "qe.json",
				RootCA:          "root.pem",
				TCBSigningCert:  "signing.pem",
				PCKCertChain:    "chain.pem",
				RootCACRL:       "root.crl",
				PCKProcessorCRL: "processor.crl",
				PCKPlatformCRL:  "platform.crl",
			},
		},
		"empty manifest": {
			manifest: "",
		},
		"unknown key": {
			manifest: "tcbinfo: tcb.json\n",
			wantErr:  true,
		},
		"invalid YAML": {
			manifest: "tcbInfo: [",
			wantErr:  true,
		},
		"fingerprint not hex": {
			manifest: "trustedRoots: [xyz]\n",
			wantErr:  true,
		},
		"fingerprint too short": {
			manifest: "trustedRoots: [a1acc73e]\n",
			wantErr:  true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m, err := Parse([]byte(tc.manifest))
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, *m)
		})
	}
}

func TestFingerprints(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	intelRoot := pki.Fingerprint(pki.IntelRootCA())
	m, err := Parse([]byte("trustedRoots:\n  - a1acc73eb45794fa1734f14d882e91925b6006f79d3bb2460df9d01b333d7009\n"))
	require.NoError(err)

	fingerprints, err := m.Fingerprints()
	require.NoError(err)
	require.Len(fingerprints, 1)
	assert.Len(fingerprints[0], len(intelRoot))
}

func TestBundle(t *testing.T) {
	p, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(t, err)
	files, err := p.CollateralFiles(types.TEETypeTDX)
	require.NoError(t, err)

	testCases := map[string]struct {
		fs          func() afero.Fs
		path        string
		wantErr     bool
		wantMissing bool
	}{
		"collateral next to manifest": {
			fs:   func() afero.Fs { return writeFiles(t, "/collateral", files) },
			path: "/collateral/" + fixtures.ManifestFile,
		},
		"missing manifest": {
			fs:      afero.NewMemMapFs,
			path:    "/collateral/" + fixtures.ManifestFile,
			wantErr: true,
		},
		"missing collateral file": {
			fs: func() afero.Fs {
				fs := writeFiles(t, "/collateral", files)
				require.NoError(t, fs.Remove("/collateral/root_ca.crl"))
				return fs
			},
			path:    "/collateral/" + fixtures.ManifestFile,
			wantErr: true,
		},
		"invalid collateral file": {
			fs: func() afero.Fs {
				fs := writeFiles(t, "/collateral", files)
				require.NoError(t, afero.WriteFile(fs, "/collateral/root_ca.pem", []byte("not a certificate"), 0o644))
				return fs
			},
			path:    "/collateral/" + fixtures.ManifestFile,
			wantErr: true,
		},
		"slot without file": {
			fs: func() afero.Fs {
				fs := writeFiles(t, "/collateral", files)
				manifest := strings.Replace(string(files[fixtures.ManifestFile]), "qeIdentity: qe_identity.json\n", "", 1)
				require.NoError(t, afero.WriteFile(fs, "/collateral/"+fixtures.ManifestFile, []byte(manifest), 0o644))
				return fs
			},
			path:        "/collateral/" + fixtures.ManifestFile,
			wantMissing: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			fs := tc.fs()
			m, err := Load(fs, tc.path)
			if err == nil {
				_, err = m.Bundle(fs)
			}
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			bundle, err := m.Bundle(fs)
			require.NoError(err)
			if tc.wantMissing {
				assert.Error(bundle.Require(types.TEETypeTDX))
				return
			}
			assert.NoError(bundle.Require(types.TEETypeTDX))
			assert.NoError(bundle.VerifySignatures(p.TCBSigning))
		})
	}
}

func TestResolve(t *testing.T) {
	m := &Manifest{dir: "/etc/dcap"}
	assert.Equal(t, "/etc/dcap/root.pem", m.resolve("root.pem"))
	assert.Equal(t, "/etc/dcap/crl/root.crl", m.resolve("crl/root.crl"))
	assert.Equal(t, "/tmp/root.pem", m.resolve("/tmp/root.pem"))

	parsed := &Manifest{}
	assert.Equal(t, "root.pem", parsed.resolve("root.pem"))
}

func writeFiles(t *testing.T, dir string, files map[string][]byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name), content, 0o644))
	}
	return fs
}
