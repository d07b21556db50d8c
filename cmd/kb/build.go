package kb

import (
	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/logger"
	knowledge "github.com/scan-io-git/triageio/internal/kb"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// RunOptionsBuild holds the arguments for the kb build command.
type RunOptionsBuild struct {
	RecordsFile string
	OutputPath  string
}

var (
	buildOptions      RunOptionsBuild
	exampleBuildUsage = `  # Build an index from a JSON array of fix records
  triageio kb build --records fixes.json --out kb/index.json.zst`
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "build --records PATH --out PATH",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Example:               exampleBuildUsage,
		Short:                 "Build a knowledge base index from fix records",
		RunE:                  runBuildCommand,
	}
	cmd.Flags().StringVar(&buildOptions.RecordsFile, "records", "", "JSON array of fix records.")
	cmd.Flags().StringVarP(&buildOptions.OutputPath, "out", "o", "", "Index file or folder to write.")
	return cmd
}

func runBuildCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && cmd.Flags().NFlag() == 0 {
		return cmd.Help()
	}
	logger := logger.NewLogger(AppConfig, "core-kb")

	if err := validateBuildArgs(&buildOptions); err != nil {
		logger.Error("invalid kb build arguments", "error", err)
		return shared.NewCommandError(nil, err, 1)
	}

	records, err := knowledge.LoadRecords(buildOptions.RecordsFile)
	if err != nil {
		logger.Error("failed to load fix records", "error", err)
		return shared.NewCommandError(nil, shared.NewConfigError("records", "%v", err), 1)
	}
	if _, err := buildIndex(commandContext(cmd), currentConfig(), records, buildOptions.OutputPath, logger); err != nil {
		logger.Error("kb build failed", "error", err)
		return err
	}
	return nil
}
