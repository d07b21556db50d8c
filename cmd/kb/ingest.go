package kb

import (
	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/logger"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// RunOptionsIngest holds the arguments for the kb ingest command.
type RunOptionsIngest struct {
	Database      string
	OutputPath    string
	RecordsOut    string
	Limit         int
	Severity      string
	Language      string
	MethodsPerFix int
}

var (
	ingestOptions      RunOptionsIngest
	exampleIngestUsage = `  # Import every fix from a CVEfixes database
  triageio kb ingest --cvefixes CVEfixes.db --out kb/index.json.zst

  # Import at most 5000 high severity Go fixes and keep the records for later rebuilds
  triageio kb ingest --cvefixes CVEfixes.db --severity high --language go --limit 5000 --out kb/ --records-out kb/records.json`
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "ingest --cvefixes PATH --out PATH [--limit N] [--severity LEVEL] [--language LANG]",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Example:               exampleIngestUsage,
		Short:                 "Import fix records from a CVEfixes SQLite database and build an index",
		RunE:                  runIngestCommand,
	}
	cmd.Flags().StringVar(&ingestOptions.Database, "cvefixes", "", "Path to the CVEfixes SQLite database.")
	cmd.Flags().StringVarP(&ingestOptions.OutputPath, "out", "o", "", "Index file or folder to write.")
	cmd.Flags().StringVar(&ingestOptions.RecordsOut, "records-out", "", "Also write the imported records as a JSON array.")
	cmd.Flags().IntVar(&ingestOptions.Limit, "limit", 0, "Maximum number of fix commits to import. 0 imports all.")
	cmd.Flags().StringVar(&ingestOptions.Severity, "severity", "", "Only import CVEs of this severity.")
	cmd.Flags().StringVar(&ingestOptions.Language, "language", "", "Only import fixes from repositories in this language.")
	cmd.Flags().IntVar(&ingestOptions.MethodsPerFix, "methods-per-fix", 0, "Maximum records produced from one fix commit. 0 keeps the default.")
	return cmd
}

func runIngestCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && cmd.Flags().NFlag() == 0 {
		return cmd.Help()
	}
	logger := logger.NewLogger(AppConfig, "core-kb")

	if err := validateIngestArgs(&ingestOptions); err != nil {
		logger.Error("invalid kb ingest arguments", "error", err)
		return shared.NewCommandError(nil, err, 1)
	}

	if err := runIngest(commandContext(cmd), currentConfig(), &ingestOptions, logger); err != nil {
		logger.Error("kb ingest failed", "error", err)
		if shared.IsConfigError(err) {
			return shared.NewCommandError(nil, err, 1)
		}
		return err
	}
	return nil
}
