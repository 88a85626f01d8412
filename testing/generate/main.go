// generate writes a fixture quote and matching collateral to a directory.
// The files can be verified with:
//
//	dcap-qvl verify --quote <dir>/quote.bin --collateral <dir>/collateral.yaml --time <unix time>
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgelesssys/go-dcap-qvl/testing/fixtures"
	"github.com/edgelesssys/go-dcap-qvl/verification/types"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func main() {
	outDir := flag.String("out", "fixtures", "output directory")
	tdx := flag.Bool("tdx", false, "generate a TDX quote instead of an SGX quote")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := generate(afero.NewOsFs(), *outDir, *tdx, log); err != nil {
		log.Fatal("Generating fixtures failed", zap.Error(err))
	}
}

func generate(fs afero.Fs, outDir string, tdx bool, log *zap.Logger) error {
	p, err := fixtures.NewPKI(fixtures.PKIOptions{})
	if err != nil {
		return err
	}
	teeType := uint32(types.TEETypeSGX)
	var body types.Body = fixtures.SGXReport()
	if tdx {
		teeType = types.TEETypeTDX
		body = fixtures.TDReport()
	}
	quote, err := p.NewQuote(fixtures.QuoteOptions{Body: body})
	if err != nil {
		return err
	}
	files, err := p.CollateralFiles(teeType)
	if err != nil {
		return err
	}
	files["quote.bin"] = quote.Marshal()

	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, filepath.Join(outDir, name), content, 0o644); err != nil {
			return err
		}
	}
	log.Info("Successfully written fixtures",
		zap.String("dir", outDir),
		zap.Int64("time", fixtures.Now.Unix()),
		zap.Uint32("teeType", teeType),
	)
	return nil
}
