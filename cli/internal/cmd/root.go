// Package cmd implements the dcap-qvl CLI commands.
package cmd

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var globalUsage = `The dcap-qvl CLI verifies Intel SGX and TDX quotes against Intel PCS collateral.

To verify a quote, run:

    $ dcap-qvl verify --quote quote.bin --collateral collateral.yaml
`

// Execute starts the CLI.
func Execute() error {
	return NewRootCmd(afero.NewOsFs()).Execute()
}

// NewRootCmd returns the root command, reading files from fs.
func NewRootCmd(fs afero.Fs) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dcap-qvl",
		Short:        "Verify Intel SGX and TDX quotes",
		Long:         globalUsage,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newVerifyCmd(fs))
	rootCmd.AddCommand(newDecodeCmd())
	return rootCmd
}

// newLogger creates a logger writing to stderr.
// Verbose loggers use the development config and log at debug level.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
