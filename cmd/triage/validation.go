package triage

import (
	"os"
	"path/filepath"

	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

// validateTriageArgs validates the arguments provided to the triage command.
func validateTriageArgs(o *RunOptionsTriage) error {
	if o.InputFile == "" {
		return shared.NewConfigError("input", "the 'input' flag must be specified")
	}
	if err := files.ValidatePath(o.InputFile); err != nil {
		return shared.NewConfigError("input", "%v", err)
	}

	if o.ThresholdSet && (o.Threshold < 0 || o.Threshold > 100) {
		return shared.NewConfigError("threshold", "the 'threshold' flag must be within [0,100], got %v", o.Threshold)
	}
	if o.BatchSize < 0 {
		return shared.NewConfigError("batch-size", "the 'batch-size' flag must be a positive integer")
	}
	if o.Timeout < 0 {
		return shared.NewConfigError("timeout", "the 'timeout' flag cannot be negative")
	}

	if o.IssuesSarif != "" {
		if err := files.ValidatePath(o.IssuesSarif); err != nil {
			return shared.NewConfigError("issues", "%v", err)
		}
	}
	if o.IndexPath != "" {
		if err := files.ValidatePath(o.IndexPath); err != nil {
			return shared.NewConfigError("index", "%v", err)
		}
	}
	if o.SourceFolder != "" {
		info, err := os.Stat(o.SourceFolder)
		if err != nil {
			return shared.NewConfigError("source", "the source folder does not exist: %v", o.SourceFolder)
		}
		if !info.IsDir() {
			return shared.NewConfigError("source", "the source path %q is not a directory", o.SourceFolder)
		}
	}

	if o.History && o.SourceFolder == "" {
		return shared.NewConfigError("history", "the 'history' flag requires the 'source' flag")
	}

	if samePath(o.OutputPath, o.SarifPath) {
		return shared.NewConfigError("sarif", "the 'output' and 'sarif' flags point to the same file")
	}
	if samePath(o.OutputPath, o.HTMLPath) || samePath(o.SarifPath, o.HTMLPath) {
		return shared.NewConfigError("html", "the 'html' flag points to the same file as another output")
	}
	if o.DojoProduct != "" && o.SarifPath == "" {
		return shared.NewConfigError("dojo-product", "the 'dojo-product' flag requires the 'sarif' flag")
	}
	for _, p := range o.OverridePaths {
		if p == "" {
			return shared.NewConfigError("override", "empty value in the 'override' flag")
		}
	}
	return nil
}

func samePath(a, b string) bool {
	return a != "" && b != "" && filepath.Clean(a) == filepath.Clean(b)
}
