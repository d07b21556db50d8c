package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/cmd/kb"
	"github.com/scan-io-git/triageio/cmd/triage"
	"github.com/scan-io-git/triageio/cmd/version"
	"github.com/scan-io-git/triageio/internal/config"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "triageio [command]",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Short:                 "Triageio ranks source files by security risk and enriches findings with known fixes.",
		Long: `Triageio scores candidate files with static signals and a reasoning oracle, analyses the riskiest
	ones in depth and attaches patch suggestions grounded in a knowledge base of historical fixes.
	`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $TRIAGEIO_CONFIG or ./config.yml)")
	rootCmd.AddCommand(triage.TriageCmd)
	rootCmd.AddCommand(kb.NewKBCmd())
	rootCmd.AddCommand(version.NewVersionCmd())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		var cmdErr *shared.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode != 0 {
			return cmdErr.ExitCode
		}
		return 1
	}
	return 0
}

func initConfig() {
	var err error

	AppConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing config file function is crashed - %v \n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	triage.Init(AppConfig)
	kb.Init(AppConfig)
	version.Init(AppConfig)
}
