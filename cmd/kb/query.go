package kb

import (
	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/logger"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// RunOptionsQuery holds the arguments for the kb query command.
type RunOptionsQuery struct {
	IndexPath string
	Text      string
	Snippet   string
	K         int
}

var (
	queryOptions      RunOptionsQuery
	exampleQueryUsage = `  # Look up the fixes closest to a finding description
  triageio kb query --index kb/index.json.zst --text "SQL injection in report export" -k 3

  # Include the vulnerable code in the query
  triageio kb query --index kb/index.json.zst --text "path traversal" --snippet 'os.Open(filepath.Join(root, name))'`
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "query [--index PATH] --text TEXT [--snippet CODE] [-k N]",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Example:               exampleQueryUsage,
		Short:                 "Print the fix records most similar to a text and code snippet",
		RunE:                  runQueryCommand,
	}
	cmd.Flags().StringVar(&queryOptions.IndexPath, "index", "", "Knowledge base index file. Defaults to knowledge_base.index_path.")
	cmd.Flags().StringVar(&queryOptions.Text, "text", "", "Description of the weakness to look up.")
	cmd.Flags().StringVar(&queryOptions.Snippet, "snippet", "", "Code snippet to look up.")
	cmd.Flags().IntVarP(&queryOptions.K, "k", "k", 5, "Number of records to return.")
	return cmd
}

func runQueryCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && cmd.Flags().NFlag() == 0 {
		return cmd.Help()
	}
	logger := logger.NewLogger(AppConfig, "core-kb")
	cfg := currentConfig()

	if err := validateQueryArgs(&queryOptions, cfg); err != nil {
		logger.Error("invalid kb query arguments", "error", err)
		return shared.NewCommandError(nil, err, 1)
	}

	out, err := runQuery(commandContext(cmd), cfg, &queryOptions, logger)
	if err != nil {
		logger.Error("kb query failed", "error", err)
		if shared.IsConfigError(err) {
			return shared.NewCommandError(nil, err, 1)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
