package collateral

import (
	"strings"
	"sync"
	"testing"

	"github.com/edgelesssys/go-dcap-qvl/testing/fixtures"
	"github.com/edgelesssys/go-dcap-qvl/verification/crypto"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRequire(t *testing.T) {
	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(t, err)

	testCases := map[string]struct {
		bundle      func(t *testing.T) *Bundle
		teeType     uint32
		wantErr     bool
		wantMissing []string
	}{
		"complete SGX bundle": {
			bundle:  func(t *testing.T) *Bundle { return newBundle(t, pki, types.TEETypeSGX) },
			teeType: types.TEETypeSGX,
		},
		"complete TDX bundle": {
			bundle:  func(t *testing.T) *Bundle { return newBundle(t, pki, types.TEETypeTDX) },
			teeType: types.TEETypeTDX,
		},
		"empty bundle": {
			bundle:  func(*testing.T) *Bundle { return &Bundle{} },
			teeType: types.TEETypeSGX,
			wantErr: true,
			wantMissing: []string{
				"TCB Info", "QE Identity", "root CA", "TCB signing certificate", "root CA CRL", "PCK CRL",
			},
		},
		"processor CRL is sufficient": {
			bundle: func(t *testing.T) *Bundle {
				b := newBundle(t, pki, types.TEETypeSGX)
				b.pckPlatformCRL = nil
				b.pckProcessorCRL = mustDER(pki.PCKCRL())
				return b
			},
			teeType: types.TEETypeSGX,
		},
		"missing QE Identity": {
			bundle: func(t *testing.T) *Bundle {
				b := newBundle(t, pki, types.TEETypeSGX)
				b.qeIdentity = nil
				return b
			},
			teeType:     types.TEETypeSGX,
			wantErr:     true,
			wantMissing: []string{"QE Identity"},
		},
		"missing PCK CRLs": {
			bundle: func(t *testing.T) *Bundle {
				b := newBundle(t, pki, types.TEETypeSGX)
				b.pckPlatformCRL = nil
				return b
			},
			teeType:     types.TEETypeSGX,
			wantErr:     true,
			wantMissing: []string{"PCK CRL"},
		},
		"TDX with TCB Info v2": {
			bundle: func(t *testing.T) *Bundle {
				b := newBundle(t, pki, types.TEETypeTDX)
				b.tcbInfo.Version = 2
				return b
			},
			teeType: types.TEETypeTDX,
			wantErr: true,
		},
		"SGX with TCB Info v2": {
			bundle: func(t *testing.T) *Bundle {
				b := newBundle(t, pki, types.TEETypeSGX)
				b.tcbInfo.Version = 2
				return b
			},
			teeType: types.TEETypeSGX,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			err := tc.bundle(t).Require(tc.teeType)
			if !tc.wantErr {
				assert.NoError(err)
				return
			}
			assert.ErrorIs(err, ErrMissingCollateral)
			for _, slot := range tc.wantMissing {
				assert.Contains(err.Error(), slot)
			}
		})
	}
}

func TestSetSignedJSON(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(err)
	otherPKI, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(err)

	tcbInfoBody := fixtures.DefaultTCBInfo(types.TEETypeTDX).JSON()
	tcbInfoResponse, err := pki.SignTCBInfo(tcbInfoBody)
	require.NoError(err)
	qeIdentityResponse, err := pki.SignQEIdentity(fixtures.DefaultQEIdentity(types.TEETypeTDX).JSON())
	require.NoError(err)

	var bundle Bundle
	require.NoError(bundle.SetTCBInfoJSON(tcbInfoResponse))
	require.NoError(bundle.SetQEIdentityJSON(qeIdentityResponse))

	tcbInfo, ok := bundle.TCBInfo()
	assert.True(ok)
	assert.Equal(types.TCBInfoTDXID, tcbInfo.ID)
	assert.Equal(fixtures.FMSPC, tcbInfo.FMSPC)

	signed, ok := bundle.SignedTCBInfo()
	assert.True(ok)
	assert.Equal(tcbInfoBody, signed.Body)
	assert.Len(signed.Signature, 64)

	qeIdentity, ok := bundle.QEIdentity()
	assert.True(ok)
	assert.Equal(types.QEIdentityTDXID, qeIdentity.ID)

	assert.NoError(bundle.VerifySignatures(pki.TCBSigning))
	assert.ErrorIs(bundle.VerifySignatures(otherPKI.TCBSigning), crypto.ErrSignatureInvalid)

	// a typed document replaces the signed one and is not verified
	bundle.SetTCBInfo(tcbInfo)
	_, ok = bundle.SignedTCBInfo()
	assert.False(ok)
	bundle.SetQEIdentity(qeIdentity)
	assert.NoError(bundle.VerifySignatures(otherPKI.TCBSigning))
}

func TestSetSignedJSONTampered(t *testing.T) {
	require := require.New(t)

	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(err)
	response, err := pki.SignTCBInfo(fixtures.DefaultTCBInfo(types.TEETypeSGX).JSON())
	require.NoError(err)

	// reformatting the body keeps the JSON semantics, but invalidates the signature
	tampered := strings.Replace(string(response), `"id":"SGX"`, `"id": "SGX"`, 1)
	require.NotEqual(string(response), tampered)

	var bundle Bundle
	require.NoError(bundle.SetTCBInfoJSON([]byte(tampered)))
	assert.ErrorIs(t, bundle.VerifySignatures(pki.TCBSigning), crypto.ErrSignatureInvalid)
}

func TestSetSignedJSONErrors(t *testing.T) {
	testCases := map[string]string{
		"invalid JSON":          `{"tcbInfo":`,
		"missing body":          `{"signature":"00"}`,
		"body is not an object": `{"tcbInfo":"abc","signature":"00"}`,
		"missing signature":     `{"tcbInfo":{}}`,
		"signature not hex":     `{"tcbInfo":{},"signature":"xyz"}`,
		"invalid TCB Info":      `{"tcbInfo":{"fmspc":"00"},"signature":"00"}`,
	}

	for name, response := range testCases {
		t.Run(name, func(t *testing.T) {
			var bundle Bundle
			assert.Error(t, bundle.SetTCBInfoJSON([]byte(response)))
			_, ok := bundle.TCBInfo()
			assert.False(t, ok)
		})
	}
}

func TestCertificateSlots(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(err)

	var bundle Bundle
	_, err = bundle.RootCA()
	assert.ErrorIs(err, ErrMissingCollateral)
	_, err = bundle.PCKCertChain()
	assert.ErrorIs(err, ErrMissingCollateral)
	assert.False(bundle.HasPCKCertChain())

	// DER and PEM are both accepted
	require.NoError(bundle.SetRootCA(pki.Root.Raw))
	require.NoError(bundle.SetTCBSigningCert(fixtures.PEM(pki.TCBSigning)))
	assert.Error(bundle.SetRootCA([]byte("not a certificate")))

	root, err := bundle.RootCA()
	require.NoError(err)
	assert.True(root.Equal(pki.Root))
	signing, err := bundle.TCBSigningCert()
	require.NoError(err)
	assert.True(signing.Equal(pki.TCBSigning))

	require.NoError(bundle.SetPCKCertChain(pki.PCKCertChainPEM()))
	chain, err := bundle.PCKCertChain()
	require.NoError(err)
	require.Len(chain, 3)
	assert.True(chain[0].Equal(pki.PCK))

	require.NoError(bundle.SetPCKCertChainDER(pki.PCK.Raw, pki.PCKCA.Raw))
	chain, err = bundle.PCKCertChain()
	require.NoError(err)
	assert.Len(chain, 2)
	assert.Error(bundle.SetPCKCertChainDER(pki.PCK.Raw, []byte{0x30}))
}

func TestBundleOwnsBuffers(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(err)

	der := append([]byte(nil), pki.Root.Raw...)
	var bundle Bundle
	require.NoError(bundle.SetRootCA(der))
	for i := range der {
		der[i] = 0
	}

	root, err := bundle.RootCA()
	require.NoError(err)
	assert.True(root.Equal(pki.Root))
}

func TestCRLSlots(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(err)

	var bundle Bundle
	crls, err := bundle.CRLs()
	require.NoError(err)
	assert.Empty(crls)

	require.NoError(bundle.SetRootCACRL(mustDER(pki.RootCRL())))
	require.NoError(bundle.SetPCKPlatformCRL(mustDER(pki.PCKCRL())))
	assert.Error(bundle.SetPCKProcessorCRL(pki.Root.Raw))

	crls, err = bundle.CRLs()
	require.NoError(err)
	require.Len(crls, 2)
	assert.Equal(pki.Root.RawSubject, crls[0].RawIssuer)
	assert.Equal(pki.PCKCA.RawSubject, crls[1].RawIssuer)
}

func TestConcurrentAccess(t *testing.T) {
	pki, err := fixtures.NewPKI(fixtures.PKIOptions{})
	require.NoError(t, err)
	bundle := newBundle(t, pki, types.TEETypeTDX)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, bundle.Require(types.TEETypeTDX))
			_, err := bundle.CRLs()
			assert.NoError(t, err)
			_, err = bundle.RootCA()
			assert.NoError(t, err)
			assert.NoError(t, bundle.VerifySignatures(pki.TCBSigning))
		}()
	}
	wg.Wait()
}

func newBundle(t *testing.T, pki *fixtures.PKI, teeType uint32) *Bundle {
	t.Helper()
	require := require.New(t)

	tcbInfo, err := pki.SignTCBInfo(fixtures.DefaultTCBInfo(teeType).JSON())
	require.NoError(err)
	qeIdentity, err := pki.SignQEIdentity(fixtures.DefaultQEIdentity(teeType).JSON())
	require.NoError(err)

	var bundle Bundle
	require.NoError(bundle.SetTCBInfoJSON(tcbInfo))
	require.NoError(bundle.SetQEIdentityJSON(qeIdentity))
	require.NoError(bundle.SetRootCA(pki.Root.Raw))
	require.NoError(bundle.SetTCBSigningCert(pki.TCBSigning.Raw))
	require.NoError(bundle.SetRootCACRL(mustDER(pki.RootCRL())))
	require.NoError(bundle.SetPCKPlatformCRL(mustDER(pki.PCKCRL())))
	return &bundle
}

func mustDER(der []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return der
}
