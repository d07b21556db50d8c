package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/config"
	knowledge "github.com/scan-io-git/triageio/internal/kb"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

// AppConfig is shared by the knowledge base subcommands.
var AppConfig *config.Config

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

// NewKBCmd creates the knowledge base command group.
func NewKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Build, import and query the fix knowledge base",
		Long: `Manages the index of historical vulnerability fixes that triage uses to suggest patches.

An index is a single zstd-compressed JSON file holding the fix records, their embeddings and the LSH parameters
it was built with. Point knowledge_base.index_path (or triage --index) at it.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newBuildCmd(), newIngestCmd(), newQueryCmd())
	return cmd
}

func currentConfig() *config.Config {
	if AppConfig == nil {
		return &config.Config{}
	}
	return AppConfig
}

// lshFromConfig returns the index parameters of the knowledge_base section, defaults filling the gaps.
func lshFromConfig(cfg *config.Config) knowledge.LSHOptions {
	d := knowledge.DefaultLSHOptions()
	return knowledge.LSHOptions{
		Tables: config.SetThen(cfg.KnowledgeBase.LSHTables, d.Tables),
		Bits:   config.SetThen(cfg.KnowledgeBase.LSHBits, d.Bits),
		Seed:   config.SetThen(cfg.KnowledgeBase.Seed, d.Seed),
	}
}

// buildIndex embeds records with the configured embedder and writes the index to out.
func buildIndex(ctx context.Context, cfg *config.Config, records []knowledge.Record, out string, logger hclog.Logger) (*knowledge.Snapshot, error) {
	embedder, err := knowledge.NewEmbedder(logger, cfg)
	if err != nil {
		return nil, shared.NewConfigError("knowledge_base.embedding.provider", "%v", err)
	}
	snap, err := knowledge.Build(ctx, records, embedder, knowledge.BuildOptions{
		LSH:    lshFromConfig(cfg),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	path, folder, err := files.DetermineFileFullPath(out, "kb-index.json.zst")
	if err != nil {
		return nil, err
	}
	if err := files.CreateFolderIfNotExists(folder); err != nil {
		return nil, err
	}
	if err := knowledge.SaveSnapshot(path, snap); err != nil {
		return nil, fmt.Errorf("failed to save index: %w", err)
	}
	logger.Info("knowledge base index written",
		"path", path,
		"records", snap.Len(),
		"vectors", snap.VectorCount(),
		"embedder", embedder.Name())
	return snap, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
