package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/edgelesssys/go-dcap-qvl/verification/output"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a verification result",
		Long:  "Decode the hex encoded verification result printed by the verify command",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}
	return cmd
}

func runDecode(cmd *cobra.Command, args []string) error {
	out, err := output.DecodeHex(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "TCB status:  %s\n", out.TCBStatus)
	fmt.Fprintf(cmd.OutOrStdout(), "MRENCLAVE:   %s\n", hex.EncodeToString(out.MREnclave[:]))
	fmt.Fprintf(cmd.OutOrStdout(), "MRSIGNER:    %s\n", hex.EncodeToString(out.MRSigner[:]))
	fmt.Fprintf(cmd.OutOrStdout(), "Report data: %s\n", hex.EncodeToString(out.ReportData[:]))
	fmt.Fprintf(cmd.OutOrStdout(), "FMSPC:       %s\n", hex.EncodeToString(out.FMSPC[:]))
	return nil
}
