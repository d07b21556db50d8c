package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/config"
)

var (
	AppConfig     *config.Config
	CoreVersion   = "unknown"
	GolangVersion = runtime.Version()
	BuildTime     = "unknown"
)

// Versions holds build information plus the backends the current configuration selects.
type Versions struct {
	Version           string `json:"version"`
	GolangVersion     string `json:"golang_version"`
	BuildTime         string `json:"build_time"`
	OracleProvider    string `json:"oracle_provider,omitempty"`
	OracleModel       string `json:"oracle_model,omitempty"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

// NewVersionCmd creates a new cobra.Command for the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "version",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Print the version number of the application and the configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := json.MarshalIndent(Current(AppConfig), "", "  ")
			if err != nil {
				return fmt.Errorf("error marshaling version information: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// Current returns the version information for cfg, which may be nil.
func Current(cfg *config.Config) Versions {
	v := Versions{
		Version:       CoreVersion,
		GolangVersion: GolangVersion,
		BuildTime:     BuildTime,
	}
	if cfg != nil {
		v.OracleProvider = config.SetThen(cfg.Oracle.Provider, "openai")
		v.OracleModel = cfg.Oracle.Model
		v.EmbeddingProvider = config.SetThen(cfg.KnowledgeBase.Embedding.Provider, "hashing")
	}
	return v
}
