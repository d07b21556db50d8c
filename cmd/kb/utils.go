package kb

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/config"
	knowledge "github.com/scan-io-git/triageio/internal/kb"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runIngest imports CVEfixes records and builds an index from them.
func runIngest(ctx context.Context, cfg *config.Config, o *RunOptionsIngest, logger hclog.Logger) error {
	records, err := knowledge.IngestCVEfixes(ctx, o.Database, knowledge.IngestOptions{
		Limit:         o.Limit,
		Severity:      o.Severity,
		Language:      o.Language,
		MethodsPerFix: o.MethodsPerFix,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to import %q: %w", o.Database, err)
	}
	if len(records) == 0 {
		return shared.NewConfigError("cvefixes", "no fix records matched the filters in %q", o.Database)
	}

	if o.RecordsOut != "" {
		if err := files.WriteJSON(o.RecordsOut, records); err != nil {
			return err
		}
		logger.Info("fix records written", "path", o.RecordsOut, "records", len(records))
	}

	_, err = buildIndex(ctx, cfg, records, o.OutputPath, logger)
	return err
}

// QueryOutput is what kb query prints.
type QueryOutput struct {
	Index    string        `json:"index"`
	Version  uint64        `json:"version"`
	Degraded bool          `json:"degraded"`
	Matches  []QueryRecord `json:"matches"`
}

// QueryRecord is one printed match. Embeddings are left out.
type QueryRecord struct {
	Rank        int     `json:"rank"`
	Similarity  float64 `json:"similarity"`
	ID          string  `json:"id"`
	WeaknessID  string  `json:"weakness_id,omitempty"`
	Severity    string  `json:"severity,omitempty"`
	Source      string  `json:"source,omitempty"`
	Description string  `json:"description"`
	After       string  `json:"after,omitempty"`
}

// runQuery loads the index and runs a single retrieval against it.
func runQuery(ctx context.Context, cfg *config.Config, o *RunOptionsQuery, logger hclog.Logger) (*QueryOutput, error) {
	path := config.SetThen(o.IndexPath, cfg.KnowledgeBase.IndexPath)
	snap, err := knowledge.LoadSnapshot(path)
	if err != nil {
		return nil, shared.NewConfigError("index", "%v", err)
	}
	embedder, err := knowledge.NewEmbedder(logger, cfg)
	if err != nil {
		return nil, shared.NewConfigError("knowledge_base.embedding.provider", "%v", err)
	}
	if snap.Embedder != "" && snap.Embedder != embedder.Name() {
		logger.Warn("index was built with a different embedder, vector scores may be meaningless",
			"index_embedder", snap.Embedder, "embedder", embedder.Name())
	}

	kb := knowledge.New(embedder, logger)
	kb.Swap(snap)
	res := kb.Query(ctx, o.Text, o.Snippet, o.K)

	out := &QueryOutput{Index: path, Version: res.Version, Degraded: res.Degraded, Matches: []QueryRecord{}}
	for _, m := range res.Matches {
		out.Matches = append(out.Matches, QueryRecord{
			Rank:        m.Rank,
			Similarity:  m.Similarity,
			ID:          m.Record.ID,
			WeaknessID:  m.Record.WeaknessID,
			Severity:    m.Record.Severity,
			Source:      m.Record.Source,
			Description: m.Record.Description,
			After:       m.Record.After,
		})
	}
	return out, nil
}
