// verify runs the verification pipeline on generated SGX and TDX quotes.
package main

import (
	"fmt"
	"os"

	"github.com/edgelesssys/go-dcap-qvl/testing/fixtures"
	"github.com/edgelesssys/go-dcap-qvl/verification"
	"github.com/edgelesssys/go-dcap-qvl/verification/collateral"
	"github.com/edgelesssys/go-dcap-qvl/verification/pki"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := testVerify(log); err != nil {
		log.Fatal("Verification failed", zap.Error(err))
	}
}

func testVerify(log *zap.Logger) error {
	p, err := fixtures.NewPKI(fixtures.PKIOptions{})
	if err != nil {
		return err
	}
	verifier := verification.New(
		verification.WithLogger(log),
		verification.WithTrustedRoots(pki.Fingerprint(p.Root)),
	)

	for _, body := range []types.Body{fixtures.SGXReport(), fixtures.TDReport()} {
		quote, err := p.NewQuote(fixtures.QuoteOptions{Body: body})
		if err != nil {
			return err
		}
		bundle, err := newBundle(p, body.TEEType())
		if err != nil {
			return err
		}
		res, err := verifier.VerifyAt(quote.Marshal(), bundle, fixtures.Now)
		if err != nil {
			return err
		}
		fmt.Println(res.Output.String())
	}
	return nil
}

func newBundle(p *fixtures.PKI, teeType uint32) (*collateral.Bundle, error) {
	bundle := &collateral.Bundle{}
	tcbInfo, err := p.SignTCBInfo(fixtures.DefaultTCBInfo(teeType).JSON())
	if err != nil {
		return nil, err
	}
	if err := bundle.SetTCBInfoJSON(tcbInfo); err != nil {
		return nil, err
	}
	qeIdentity, err := p.SignQEIdentity(fixtures.DefaultQEIdentity(teeType).JSON())
	if err != nil {
		return nil, err
	}
	if err := bundle.SetQEIdentityJSON(qeIdentity); err != nil {
		return nil, err
	}
	if err := bundle.SetRootCA(fixtures.PEM(p.Root)); err != nil {
		return nil, err
	}
	if err := bundle.SetTCBSigningCert(fixtures.PEM(p.TCBSigning)); err != nil {
		return nil, err
	}
	rootCRL, err := p.RootCRL()
	if err != nil {
		return nil, err
	}
	if err := bundle.SetRootCACRL(rootCRL); err != nil {
		return nil, err
	}
	pckCRL, err := p.PCKCRL()
	if err != nil {
		return nil, err
	}
	return bundle, bundle.SetPCKPlatformCRL(pckCRL)
}
