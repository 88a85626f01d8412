package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgelesssys/go-dcap-qvl/cli/internal/manifest"
	"github.com/edgelesssys/go-dcap-qvl/verification"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVerifyCmd(fs afero.Fs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a quote",
		Long: `Verify an SGX or TDX quote against the collateral listed in a YAML manifest.
On success, the hex encoded verification result is printed.`,
		Example: "dcap-qvl verify --quote quote.bin --collateral collateral.yaml --time 1717243200",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, fs)
		},
	}

	cmd.Flags().String("quote", "", "path to the binary quote")
	cmd.Flags().String("collateral", "", "path to the collateral manifest")
	cmd.Flags().Int64("time", 0, "verification time in seconds since the Unix epoch (default: now)")
	cmd.Flags().Bool("json", false, "print a JSON summary instead of the hex encoded result")
	must(cmd.MarkFlagRequired("quote"))
	must(cmd.MarkFlagRequired("collateral"))
	return cmd
}

type verifyFlags struct {
	quotePath      string
	collateralPath string
	unixTime       int64
	json           bool
}

func parseVerifyFlags(cmd *cobra.Command) (verifyFlags, error) {
	quotePath, err := cmd.Flags().GetString("quote")
	if err != nil {
		return verifyFlags{}, err
	}
	collateralPath, err := cmd.Flags().GetString("collateral")
	if err != nil {
		return verifyFlags{}, err
	}
	unixTime, err := cmd.Flags().GetInt64("time")
	if err != nil {
		return verifyFlags{}, err
	}
	printJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return verifyFlags{}, err
	}
	return verifyFlags{
		quotePath:      quotePath,
		collateralPath: collateralPath,
		unixTime:       unixTime,
		json:           printJSON,
	}, nil
}

func runVerify(cmd *cobra.Command, fs afero.Fs) error {
	flags, err := parseVerifyFlags(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	rawQuote, err := afero.ReadFile(fs, flags.quotePath)
	if err != nil {
		return fmt.Errorf("reading quote: %w", err)
	}
	m, err := manifest.Load(fs, flags.collateralPath)
	if err != nil {
		return err
	}
	bundle, err := m.Bundle(fs)
	if err != nil {
		return err
	}
	fingerprints, err := m.Fingerprints()
	if err != nil {
		return err
	}

	verifier := verification.New(
		verification.WithLogger(log),
		verification.WithQuoteVersion(m.QuoteVersion),
		verification.WithTrustedRoots(fingerprints...),
	)
	var res verification.Result
	if flags.unixTime != 0 {
		res, err = verifier.VerifyAt(rawQuote, bundle, time.Unix(flags.unixTime, 0))
	} else {
		res, err = verifier.Verify(rawQuote, bundle)
	}
	if err != nil {
		log.Info("Quote verification failed", zap.String("quote", flags.quotePath), zap.Error(err))
		return err
	}
	log.Info("Quote verified", zap.String("quote", flags.quotePath), zap.Stringer("status", res.Output.TCBStatus))

	if !flags.json {
		fmt.Fprintln(cmd.OutOrStdout(), res.Output.String())
		return nil
	}
	summary, err := json.MarshalIndent(newSummary(res), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(summary))
	return nil
}

// summary is the JSON output of the verify command.
type summary struct {
	Status         string   `json:"status"`
	PlatformStatus string   `json:"platformStatus"`
	QEStatus       string   `json:"qeStatus"`
	AdvisoryIDs    []string `json:"advisoryIDs"`
	MREnclave      string   `json:"mrEnclave"`
	MRSigner       string   `json:"mrSigner"`
	ReportData     string   `json:"reportData"`
	FMSPC          string   `json:"fmspc"`
	Output         string   `json:"output"`
}

func newSummary(res verification.Result) summary {
	advisoryIDs := res.AdvisoryIDs
	if advisoryIDs == nil {
		advisoryIDs = []string{}
	}
	return summary{
		Status:         res.Output.TCBStatus.String(),
		PlatformStatus: res.PlatformStatus.String(),
		QEStatus:       res.QEStatus.String(),
		AdvisoryIDs:    advisoryIDs,
		MREnclave:      hex.EncodeToString(res.Output.MREnclave[:]),
		MRSigner:       hex.EncodeToString(res.Output.MRSigner[:]),
		ReportData:     hex.EncodeToString(res.Output.ReportData[:]),
		FMSPC:          hex.EncodeToString(res.Output.FMSPC[:]),
		Output:         res.Output.String(),
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
