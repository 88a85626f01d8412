/*
# Intel SGX and TDX Quote Verification

This package verifies Intel SGX (version 3 and 4) and TDX (version 4) ECDSA quotes against caller supplied collateral.
No network or disk access is performed: a verification is a function of the quote, the [collateral.Bundle], and the time.

Verification of a quote follows these steps:

  - Parse the quote and check that the bundle holds the collateral required for its TEE type.

  - Optionally check the bundle's root CA against a set of pinned fingerprints.

  - Verify the PCK certificate chain, embedded in the quote or taken from the bundle,
    using the Root CA CRL and the PCK CA CRL.

  - Verify the TCB signing certificate using the Root CA CRL and the root CA,
    and the signatures of TCB Info and QE Identity using the TCB signing certificate.

  - Check that TCB Info and QE Identity are valid at the time of verification.

  - Verify the QE report signature using the PCK certificate,
    and the binding of the attestation key to the QE report.

  - Verify the quote signature using the attestation key.

  - Evaluate the platform TCB level using TCB Info and the SGX extensions of the PCK certificate,
    and the QE TCB level using QE Identity.

  - Converge both statuses into the final TCB status.
*/
package verification

import (
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/edgelesssys/go-dcap-qvl/verification/collateral"
	"github.com/edgelesssys/go-dcap-qvl/verification/crypto"
	"github.com/edgelesssys/go-dcap-qvl/verification/output"
	"github.com/edgelesssys/go-dcap-qvl/verification/pki"
	"github.com/edgelesssys/go-dcap-qvl/verification/status"
	"github.com/edgelesssys/go-dcap-qvl/verification/tcb"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Step names a stage of the verification pipeline.
type Step string

// Verification steps, in the order they are run.
const (
	StepParse                Step = "parsing quote"
	StepCollateral           Step = "checking collateral"
	StepRootCA               Step = "checking root CA"
	StepPCKCertChain         Step = "verifying PCK certificate chain"
	StepTCBSigningCert       Step = "verifying TCB signing certificate"
	StepCollateralSignatures Step = "verifying collateral signatures"
	StepCollateralFreshness  Step = "checking collateral validity"
	StepQEReport             Step = "verifying QE report"
	StepQuoteSignature       Step = "verifying quote signature"
	StepPCKExtensions        Step = "parsing PCK certificate extensions"
	StepPlatformTCB          Step = "evaluating platform TCB"
	StepQEIdentity           Step = "evaluating QE identity"
	StepConverge             Step = "converging TCB status"
)

// VerificationError is returned if a quote fails verification.
type VerificationError struct {
	Step Step
	Err  error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Result is the result of a successful verification.
type Result struct {
	// Output is the canonical verification result.
	Output output.VerifiedOutput
	// PlatformStatus is the TCB status of the platform, as evaluated against TCB Info.
	PlatformStatus status.TCBStatus
	// QEStatus is the TCB status of the Quoting Enclave, as evaluated against QE Identity.
	QEStatus status.TCBStatus
	// AdvisoryIDs lists the Intel security advisories of the matched platform and QE TCB levels.
	AdvisoryIDs []string
	// Quote is the parsed quote. Its byte slices reference the raw quote.
	Quote types.Quote
	// Extensions are the SGX extensions of the PCK certificate.
	Extensions types.SGXExtensions
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger of the Verifier.
func WithLogger(log *zap.Logger) Option {
	return func(v *Verifier) {
		v.log = log
	}
}

// WithClock sets the clock used by [Verifier.Verify].
func WithClock(clock clock.PassiveClock) Option {
	return func(v *Verifier) {
		v.clock = clock
	}
}

// WithQuoteVersion restricts verification to quotes of the given version.
func WithQuoteVersion(version uint16) Option {
	return func(v *Verifier) {
		v.quoteVersion = version
	}
}

// WithTrustedRoots pins the root CA of the collateral to one of the given SHA-256 fingerprints,
// replacing the default pin of Intel's root CA. See [pki.Fingerprint].
func WithTrustedRoots(fingerprints ...[32]byte) Option {
	return func(v *Verifier) {
		v.trustedRoots = append(v.trustedRoots, fingerprints...)
	}
}

// WithoutRootPinning accepts any self-signed root CA supplied by the collateral.
func WithoutRootPinning() Option {
	return func(v *Verifier) {
		v.skipRootPinning = true
	}
}

// WithCollateralExpiryCheck enables or disables checking the validity period of TCB Info and QE Identity.
// The check is enabled by default.
func WithCollateralExpiryCheck(check bool) Option {
	return func(v *Verifier) {
		v.checkCollateralExpiry = check
	}
}

// Verifier verifies SGX and TDX quotes. It is safe for concurrent use.
type Verifier struct {
	log                   *zap.Logger
	clock                 clock.PassiveClock
	quoteVersion          uint16
	trustedRoots          [][32]byte
	skipRootPinning       bool
	checkCollateralExpiry bool
}

// New creates a new Verifier.
// Unless configured otherwise, the root CA of the collateral must be Intel's SGX root CA.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		log:                   zap.NewNop(),
		clock:                 clock.RealClock{},
		checkCollateralExpiry: true,
	}
	for _, opt := range opts {
		opt(v)
	}
	if len(v.trustedRoots) == 0 {
		v.trustedRoots = [][32]byte{intelRootFingerprint}
	}
	return v
}

var intelRootFingerprint = pki.Fingerprint(pki.IntelRootCA())

// VerifyQuote verifies a raw quote at the given time, in seconds since the Unix epoch,
// using the default Verifier, which trusts Intel's root CA only.
func VerifyQuote(quote []byte, bundle *collateral.Bundle, currentTime int64) (output.VerifiedOutput, error) {
	res, err := New().VerifyAt(quote, bundle, time.Unix(currentTime, 0))
	if err != nil {
		return output.VerifiedOutput{}, err
	}
	return res.Output, nil
}

// Verify verifies a raw quote at the current time of the Verifier's clock.
func (v *Verifier) Verify(rawQuote []byte, bundle *collateral.Bundle) (Result, error) {
	return v.VerifyAt(rawQuote, bundle, v.clock.Now())
}

// VerifyAt verifies a raw quote at time now.
// Certificates, CRLs, and collateral are checked for validity at now.
func (v *Verifier) VerifyAt(rawQuote []byte, bundle *collateral.Bundle, now time.Time) (Result, error) {
	if bundle == nil {
		return Result{}, &VerificationError{Step: StepCollateral, Err: fmt.Errorf("%w: no collateral bundle", collateral.ErrMissingCollateral)}
	}

	// 1. parse quote
	var quote types.Quote
	var err error
	if v.quoteVersion != 0 {
		quote, err = types.ParseQuoteVersion(rawQuote, v.quoteVersion)
	} else {
		quote, err = types.ParseQuote(rawQuote)
	}
	if err != nil {
		return Result{}, &VerificationError{Step: StepParse, Err: err}
	}
	teeType := quote.Header.TEEType
	log := v.log.With(zap.Uint16("version", quote.Header.Version), zap.String("teeType", teeName(teeType)))
	log.Debug("Parsed quote", zap.Uint32("signatureLength", quote.SignatureLength))

	// 2. collateral completeness
	if err := bundle.Require(teeType); err != nil {
		return Result{}, &VerificationError{Step: StepCollateral, Err: err}
	}
	tcbInfo, _ := bundle.TCBInfo()
	qeIdentity, _ := bundle.QEIdentity()
	crls, err := bundle.CRLs()
	if err != nil {
		return Result{}, &VerificationError{Step: StepCollateral, Err: err}
	}

	// 3. root CA pinning
	rootCA, err := bundle.RootCA()
	if err != nil {
		return Result{}, &VerificationError{Step: StepRootCA, Err: err}
	}
	if err := v.checkTrustedRoot(rootCA); err != nil {
		return Result{}, &VerificationError{Step: StepRootCA, Err: err}
	}

	// 4. PCK certificate chain
	pckChain, err := pckCertChain(quote, bundle)
	if err != nil {
		return Result{}, &VerificationError{Step: StepPCKCertChain, Err: err}
	}
	if err := pki.VerifyChain(pckChain, rootCA, crls, now); err != nil {
		return Result{}, &VerificationError{Step: StepPCKCertChain, Err: err}
	}
	pckCert := pckChain[0]
	log.Debug("Verified PCK certificate chain", zap.String("pckSubject", pckCert.Subject.CommonName), zap.Int("chainLength", len(pckChain)))

	// 5. TCB signing certificate
	tcbSigningCert, err := bundle.TCBSigningCert()
	if err != nil {
		return Result{}, &VerificationError{Step: StepTCBSigningCert, Err: err}
	}
	if err := pki.VerifyChain([]*x509.Certificate{tcbSigningCert}, rootCA, crls, now); err != nil {
		return Result{}, &VerificationError{Step: StepTCBSigningCert, Err: err}
	}

	// 6. TCB Info and QE Identity signatures
	if err := bundle.VerifySignatures(tcbSigningCert); err != nil {
		return Result{}, &VerificationError{Step: StepCollateralSignatures, Err: err}
	}

	// 7. TCB Info and QE Identity validity
	if v.checkCollateralExpiry {
		if err := tcb.CheckCollateralFreshness(tcbInfo, qeIdentity, now); err != nil {
			return Result{}, &VerificationError{Step: StepCollateralFreshness, Err: err}
		}
	}

	// 8. QE report signature and attestation key binding
	qeReport := quote.Signature.QEReport
	qeReportBytes := qeReport.Marshal()
	if err := crypto.VerifyECDSASignature(pckCert.PublicKey, qeReportBytes[:], quote.Signature.QEReportSignature[:]); err != nil {
		return Result{}, &VerificationError{Step: StepQEReport, Err: fmt.Errorf("verifying QE report signature: %w", err)}
	}
	if err := crypto.VerifyReportDataBinding(qeReport.ReportData, quote.Signature.AttestationKey, quote.Signature.QEAuthData); err != nil {
		return Result{}, &VerificationError{Step: StepQEReport, Err: err}
	}

	// 9. quote signature
	attestationKey, err := crypto.BuildECDSAPublicKey(quote.Signature.AttestationKey)
	if err != nil {
		return Result{}, &VerificationError{Step: StepQuoteSignature, Err: err}
	}
	if err := crypto.VerifyECDSASignature(attestationKey, quote.SignedData(), quote.Signature.Signature[:]); err != nil {
		return Result{}, &VerificationError{Step: StepQuoteSignature, Err: err}
	}

	// 10. PCK certificate extensions
	ext, err := types.ParsePCKSGXExtensions(pckCert)
	if err != nil {
		return Result{}, &VerificationError{Step: StepPCKExtensions, Err: err}
	}
	log = log.With(zap.String("fmspc", fmt.Sprintf("%x", ext.FMSPC)))

	// 11. platform TCB level
	platform, err := tcb.EvaluatePlatform(ext, quote.Body, tcbInfo)
	if err != nil {
		return Result{}, &VerificationError{Step: StepPlatformTCB, Err: err}
	}
	if platform.TDXModule != nil {
		log.Debug("Evaluated TDX module", zap.String("identity", platform.TDXModule.ID), zap.Stringer("status", platform.TDXModule.Status))
	}
	log.Debug("Evaluated platform TCB", zap.Stringer("status", platform.Status), zap.Int("advisories", len(platform.AdvisoryIDs)))
	if platform.Status == status.Revoked {
		return Result{}, &VerificationError{Step: StepPlatformTCB, Err: fmt.Errorf("platform: %w", status.ErrTCBRevoked)}
	}

	// 12. QE TCB level
	qe, err := tcb.EvaluateQEIdentity(qeReport, teeType, qeIdentity)
	if err != nil {
		return Result{}, &VerificationError{Step: StepQEIdentity, Err: err}
	}
	log.Debug("Evaluated QE identity", zap.Stringer("status", qe.Status), zap.Int("advisories", len(qe.AdvisoryIDs)))

	// 13. final status
	finalStatus, err := status.Converge(platform.Status, qe.Status)
	if err != nil {
		return Result{}, &VerificationError{Step: StepConverge, Err: err}
	}

	// 14. output
	out := output.VerifiedOutput{
		TCBStatus: finalStatus,
		FMSPC:     platform.FMSPC,
	}
	switch body := quote.Body.(type) {
	case *types.EnclaveReport:
		out.MREnclave = body.MRENCLAVE
		out.MRSigner = body.MRSIGNER
		out.ReportData = body.ReportData
	case *types.TDReport:
		out.MREnclave = sha256.Sum256(body.MRTD[:])
		out.MRSigner = sha256.Sum256(body.MRSIGNERSEAM[:])
		out.ReportData = body.ReportData
	default:
		return Result{}, &VerificationError{Step: StepParse, Err: fmt.Errorf("%w: unexpected body type %T", types.ErrMalformedQuote, quote.Body)}
	}
	log.Debug("Quote verified", zap.Stringer("status", finalStatus))

	return Result{
		Output:         out,
		PlatformStatus: platform.Status,
		QEStatus:       qe.Status,
		AdvisoryIDs:    mergeAdvisoryIDs(platform.AdvisoryIDs, qe.AdvisoryIDs),
		Quote:          quote,
		Extensions:     ext,
	}, nil
}

// checkTrustedRoot checks rootCA against the pinned fingerprints.
func (v *Verifier) checkTrustedRoot(rootCA *x509.Certificate) error {
	if v.skipRootPinning {
		return nil
	}
	fingerprint := pki.Fingerprint(rootCA)
	for _, trusted := range v.trustedRoots {
		if fingerprint == trusted {
			return nil
		}
	}
	return fmt.Errorf("%w: root CA %q (SHA-256 %x) is not trusted", pki.ErrCertChainInvalid, rootCA.Subject, fingerprint)
}

// pckCertChain returns the PCK certificate chain embedded in the quote,
// or the chain of the bundle if the quote carries a different kind of certification data.
func pckCertChain(quote types.Quote, bundle *collateral.Bundle) ([]*x509.Certificate, error) {
	if chainPEM, ok := quote.Signature.CertificationData.PCKCertChain(); ok {
		chain, err := crypto.ParsePEMCertificateChain(chainPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing PCK certificate chain of quote: %w", pki.ErrCertChainInvalid, err)
		}
		return chain, nil
	}
	if !bundle.HasPCKCertChain() {
		return nil, fmt.Errorf("%w: quote does not contain a PCK certificate chain (certification data type %d)",
			collateral.ErrMissingCollateral, quote.Signature.CertificationData.Type)
	}
	return bundle.PCKCertChain()
}

func mergeAdvisoryIDs(lists ...[]string) []string {
	var merged []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}

func teeName(teeType uint32) string {
	switch teeType {
	case types.TEETypeSGX:
		return "SGX"
	case types.TEETypeTDX:
		return "TDX"
	default:
		return fmt.Sprintf("0x%x", teeType)
	}
}

