package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildECDSAPublicKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	var raw [64]byte
	key.PublicKey.X.FillBytes(raw[:32])
	key.PublicKey.Y.FillBytes(raw[32:])

	testCases := map[string]struct {
		raw     [64]byte
		wantErr bool
	}{
		"valid key": {
			raw: raw,
		},
		"zero key": {
			wantErr: true,
		},
		"point not on curve": {
			raw: func() [64]byte {
				r := raw
				r[63] ^= 0x01
				return r
			}(),
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			pub, err := BuildECDSAPublicKey(tc.raw)
			if tc.wantErr {
				assert.ErrorIs(err, ErrSignatureInvalid)
				return
			}
			assert.NoError(err)
			assert.True(pub.Equal(&key.PublicKey))
		})
	}
}

func TestVerifyECDSASignature(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	data := []byte("quote header and body")
	signature := sign(t, key, data)

	testCases := map[string]struct {
		publicKey any
		data      []byte
		signature []byte
		wantErr   bool
	}{
		"valid signature": {
			publicKey: &key.PublicKey,
			data:      data,
			signature: signature,
		},
		"wrong key": {
			publicKey: &otherKey.PublicKey,
			data:      data,
			signature: signature,
			wantErr:   true,
		},
		"modified data": {
			publicKey: &key.PublicKey,
			data:      []byte("quote header and bodY"),
			signature: signature,
			wantErr:   true,
		},
		"short signature": {
			publicKey: &key.PublicKey,
			data:      data,
			signature: signature[:63],
			wantErr:   true,
		},
		"zero signature": {
			publicKey: &key.PublicKey,
			data:      data,
			signature: make([]byte, 64),
			wantErr:   true,
		},
		"RSA key": {
			publicKey: &rsaKey.PublicKey,
			data:      data,
			signature: signature,
			wantErr:   true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			err := VerifyECDSASignature(tc.publicKey, tc.data, tc.signature)
			if tc.wantErr {
				assert.ErrorIs(err, ErrSignatureInvalid)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestVerifyReportDataBinding(t *testing.T) {
	attestationKey := [64]byte{1, 2, 3}
	authData := []byte{0, 1, 2, 3}
	digest := sha256.Sum256(append(attestationKey[:], authData...))
	var reportData [64]byte
	copy(reportData[:], digest[:])

	assert := assert.New(t)
	assert.NoError(VerifyReportDataBinding(reportData, attestationKey, authData))
	assert.ErrorIs(VerifyReportDataBinding(reportData, attestationKey, nil), ErrSignatureInvalid)
	assert.ErrorIs(VerifyReportDataBinding(reportData, [64]byte{}, authData), ErrSignatureInvalid)

	padded := reportData
	padded[63] = 1
	assert.ErrorIs(VerifyReportDataBinding(padded, attestationKey, authData), ErrSignatureInvalid)
}

func TestParsePEMCertificateChain(t *testing.T) {
	first := newCertDER(t, "first")
	second := newCertDER(t, "second")
	chainPEM := append(pemEncode("CERTIFICATE", first), pemEncode("CERTIFICATE", second)...)

	testCases := map[string]struct {
		pem       []byte
		wantCount int
		wantErr   bool
	}{
		"two certificates": {
			pem:       chainPEM,
			wantCount: 2,
		},
		"null terminated": {
			pem:       append(chainPEM, 0x00),
			wantCount: 2,
		},
		"empty": {
			wantErr: true,
		},
		"not a certificate": {
			pem:     pemEncode("PRIVATE KEY", []byte{1, 2, 3}),
			wantErr: true,
		},
		"invalid DER": {
			pem:     pemEncode("CERTIFICATE", []byte{1, 2, 3}),
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			certs, err := ParsePEMCertificateChain(tc.pem)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Len(certs, tc.wantCount)
			assert.Equal("first", certs[0].Subject.CommonName)
		})
	}
}

func TestParseCertificate(t *testing.T) {
	assert := assert.New(t)
	der := newCertDER(t, "cert")

	fromDER, err := ParseCertificate(der)
	assert.NoError(err)
	fromPEM, err := ParseCertificate(pemEncode("CERTIFICATE", der))
	assert.NoError(err)
	assert.True(fromDER.Equal(fromPEM))

	_, err = ParseCertificate([]byte("garbage"))
	assert.Error(err)
}

func TestParseCRL(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	issuerDER := newCertDERWithKey(t, "issuer", key)
	issuer, err := x509.ParseCertificate(issuerDER)
	require.NoError(err)

	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}, issuer, key)
	require.NoError(err)

	fromDER, err := ParseCRL(crlDER)
	assert.NoError(err)
	fromPEM, err := ParseCRL(pemEncode("X509 CRL", crlDER))
	assert.NoError(err)
	assert.Equal(fromDER.Raw, fromPEM.Raw)

	_, err = ParseCRL(issuerDER)
	assert.Error(err)
}

func TestMustParsePEMCertificate(t *testing.T) {
	assert := assert.New(t)

	assert.NotPanics(func() { MustParsePEMCertificate(pemEncode("CERTIFICATE", newCertDER(t, "cert"))) })
	assert.Panics(func() { MustParsePEMCertificate(nil) })
}

func FuzzParsePEMCertificateChain(f *testing.F) {
	f.Add([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n\x00"))
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = ParsePEMCertificateChain(a) })
	})
}

func sign(t *testing.T, key *ecdsa.PrivateKey, data []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature
}

func newCertDER(t *testing.T, commonName string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return newCertDERWithKey(t, commonName, key)
}

func newCertDERWithKey(t *testing.T, commonName string, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func pemEncode(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
