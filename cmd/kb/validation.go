package kb

import (
	"path/filepath"

	"github.com/scan-io-git/triageio/internal/config"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

// validateBuildArgs validates the arguments provided to the kb build command.
func validateBuildArgs(o *RunOptionsBuild) error {
	if o.RecordsFile == "" {
		return shared.NewConfigError("records", "the 'records' flag must be specified")
	}
	if err := files.ValidatePath(o.RecordsFile); err != nil {
		return shared.NewConfigError("records", "%v", err)
	}
	if o.OutputPath == "" {
		return shared.NewConfigError("out", "the 'out' flag must be specified")
	}
	return nil
}

// validateIngestArgs validates the arguments provided to the kb ingest command.
func validateIngestArgs(o *RunOptionsIngest) error {
	if o.Database == "" {
		return shared.NewConfigError("cvefixes", "the 'cvefixes' flag must be specified")
	}
	if err := files.ValidatePath(o.Database); err != nil {
		return shared.NewConfigError("cvefixes", "%v", err)
	}
	if o.OutputPath == "" {
		return shared.NewConfigError("out", "the 'out' flag must be specified")
	}
	if o.Limit < 0 {
		return shared.NewConfigError("limit", "the 'limit' flag cannot be negative")
	}
	if o.MethodsPerFix < 0 {
		return shared.NewConfigError("methods-per-fix", "the 'methods-per-fix' flag cannot be negative")
	}
	if o.RecordsOut != "" && filepath.Clean(o.RecordsOut) == filepath.Clean(o.OutputPath) {
		return shared.NewConfigError("records-out", "the 'records-out' and 'out' flags point to the same file")
	}
	return nil
}

// validateQueryArgs validates the arguments provided to the kb query command.
func validateQueryArgs(o *RunOptionsQuery, cfg *config.Config) error {
	path := config.SetThen(o.IndexPath, cfg.KnowledgeBase.IndexPath)
	if path == "" {
		return shared.NewConfigError("index", "the 'index' flag or knowledge_base.index_path must be specified")
	}
	if err := files.ValidatePath(path); err != nil {
		return shared.NewConfigError("index", "%v", err)
	}
	if o.Text == "" && o.Snippet == "" {
		return shared.NewConfigError("text", "at least one of the 'text' and 'snippet' flags must be specified")
	}
	if o.K < 1 {
		return shared.NewConfigError("k", "the 'k' flag must be at least 1")
	}
	return nil
}
