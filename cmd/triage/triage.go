package triage

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/triageio/internal/ci"
	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/git"
	"github.com/scan-io-git/triageio/internal/logger"
	"github.com/scan-io-git/triageio/internal/pipeline"
	"github.com/scan-io-git/triageio/internal/task"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// RunOptionsTriage holds the arguments for the triage command.
type RunOptionsTriage struct {
	InputFile     string
	OutputPath    string
	SarifPath     string
	HTMLPath      string
	DojoProduct   string
	IssuesSarif   string
	SourceFolder  string
	History       bool
	IndexPath     string
	Threshold     float64
	ThresholdSet  bool
	BatchSize     int
	OverridePaths []string
	TaskID        string
	Timeout       time.Duration
}

// Global variables for configuration and command arguments
var (
	AppConfig          *config.Config
	triageOptions      RunOptionsTriage
	exampleTriageUsage = `  # Triage a candidate set and print the result as JSON
  triageio triage --input candidates.json

  # Save the result and a SARIF report for CI
  triageio triage --input candidates.json --output results/ --sarif results/triage.sarif

  # Also render an HTML report for reviewers
  triageio triage --input candidates.json --output results/ --html results/triage.html

  # Read file contents from a checkout and corroborate findings with an existing scanner report
  triageio triage --input candidates.json --source /path/to/repo --issues semgrep.sarif

  # Derive missing change and fix counts from the git history of the checkout
  triageio triage --input candidates.json --source /path/to/repo --history

  # Lower the risk gate and always analyse a specific file
  triageio triage --input candidates.json --threshold 50 --override src/auth/login.go`
)

// TriageCmd represents the triage command.
var TriageCmd = &cobra.Command{
	Use:                   "triage --input/-i PATH [--output/-o PATH] [--sarif PATH] [--html PATH] [--issues PATH] [--source PATH [--history]] [--index PATH] [--threshold N] [--batch-size N] [--override PATH ...]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleTriageUsage,
	Short:                 "Run the three-stage risk triage over a set of candidate files",
	Long: `Scores every candidate file, analyses the files at or above the risk threshold in depth and
enriches their findings with patch suggestions drawn from the fix knowledge base.

Oracle and retrieval failures degrade the result instead of failing the command; only invalid
configuration or input makes it exit with a non-zero code.`,
	RunE: runTriageCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

// runTriageCommand executes the triage command.
func runTriageCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && cmd.Flags().NFlag() == 0 {
		return cmd.Help()
	}

	logger := logger.NewLogger(AppConfig, "core-triage")
	triageOptions.ThresholdSet = cmd.Flags().Changed("threshold")

	if err := validateTriageArgs(&triageOptions); err != nil {
		logger.Error("invalid triage arguments", "error", err)
		return shared.NewCommandError(nil, err, 1)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runTriage(ctx, AppConfig, &triageOptions, cmd.OutOrStdout(), logger)
	if err != nil {
		logger.Error("triage command failed", "error", err)
		if shared.IsConfigError(err) {
			return shared.NewCommandError(res, err, 1)
		}
		return err
	}

	if res.State == string(task.StateCancelled) {
		logger.Warn("triage was cancelled, the result is partial")
		return nil
	}
	logger.Info("triage command completed successfully")
	return nil
}

// runTriage wires the pipeline from cfg, runs one task and writes its outputs.
func runTriage(ctx context.Context, cfg *config.Config, opts *RunOptionsTriage, stdout io.Writer, logger hclog.Logger) (*findings.Result, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	settings := applyOverrides(pipeline.SettingsFromConfig(cfg.Pipeline), opts)

	candidates, err := loadCandidates(opts, logger)
	if err != nil {
		return nil, err
	}
	if err := fillHistory(ctx, opts, candidates, logger); err != nil {
		return nil, err
	}

	env, err := newEnvironment(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	orch, err := pipeline.New(pipeline.Options{
		Settings:  settings,
		Oracle:    env.oracle,
		Retriever: env.knowledge,
		Cache:     env.cache,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	t, err := env.tasks.Create(opts.TaskID)
	if err != nil {
		return nil, shared.NewConfigError("task_id", "%v", err)
	}
	logger.Info("triage task created", "task", t.ID(), "candidates", len(candidates))

	res, err := orch.Run(ctx, t, candidates)
	if err != nil {
		return nil, err
	}

	if env := ci.Detect(); env.Provider != ci.ProviderUnknown {
		res.Provenance = env.Provenance()
		logger.Debug("running in CI", "provider", env.Provider, "repository", env.Repository, "commit", env.Commit)
	} else if opts.SourceFolder != "" {
		if md, err := git.CollectRepositoryMetadata(opts.SourceFolder); err == nil {
			res.Provenance = md.Provenance()
		} else {
			logger.Debug("source folder has no git metadata", "error", err)
		}
	}

	if err := writeOutputs(res, opts, stdout, logger); err != nil {
		return res, err
	}
	publishReport(ctx, cfg, opts, logger)
	logSummary(logger, res)
	return res, nil
}

// Initialize flags for the triage command.
func init() {
	TriageCmd.Flags().StringVarP(&triageOptions.InputFile, "input", "i", "", "Path to the candidate set JSON file.")
	TriageCmd.Flags().StringVarP(&triageOptions.OutputPath, "output", "o", "", "Path to the output file or directory for the JSON result. Printed to stdout when omitted.")
	TriageCmd.Flags().StringVar(&triageOptions.SarifPath, "sarif", "", "Path to write the findings as a SARIF report.")
	TriageCmd.Flags().StringVar(&triageOptions.HTMLPath, "html", "", "Path to write a human-readable HTML report.")
	TriageCmd.Flags().StringVar(&triageOptions.DojoProduct, "dojo-product", "", "DefectDojo product that receives the SARIF report. Overrides defectdojo.product.")
	TriageCmd.Flags().StringVar(&triageOptions.IssuesSarif, "issues", "", "SARIF report of an existing scanner whose issues are attached to the candidates.")
	TriageCmd.Flags().StringVar(&triageOptions.SourceFolder, "source", "", "Repository checkout used to read missing file contents and resolve report paths.")
	TriageCmd.Flags().BoolVar(&triageOptions.History, "history", false, "Count modifications and fix commits from the git history of the source folder for candidates without history.")
	TriageCmd.Flags().StringVar(&triageOptions.IndexPath, "index", "", "Knowledge base index file. Overrides knowledge_base.index_path.")
	TriageCmd.Flags().Float64Var(&triageOptions.Threshold, "threshold", pipeline.DefaultRiskThreshold, "Risk threshold in [0,100] for deep analysis. Overrides pipeline.risk_threshold.")
	TriageCmd.Flags().IntVar(&triageOptions.BatchSize, "batch-size", 0, "Files per coarse scoring request. Overrides pipeline.stage1_batch_size.")
	TriageCmd.Flags().StringSliceVar(&triageOptions.OverridePaths, "override", nil, "Paths analysed in depth regardless of their score.")
	TriageCmd.Flags().StringVar(&triageOptions.TaskID, "task-id", "", "Identifier of the task. Random when omitted.")
	TriageCmd.Flags().DurationVar(&triageOptions.Timeout, "timeout", 0, "Cancel the task after this long. 0 disables the limit.")
	TriageCmd.Flags().BoolP("help", "h", false, "Show help for the triage command.")
}

func logSummary(logger hclog.Logger, res *findings.Result) {
	s := res.Summary
	logger.Info("triage summary",
		"task", res.TaskID,
		"state", res.State,
		"files", s.TotalFiles,
		"high_risk", len(s.HighRiskFiles),
		"findings", s.TotalFindings,
		"enhanced", s.EnhancedFindings,
		"corroborated", s.CorroboratedFindings,
		"unconfirmed_static_issues", s.UnconfirmedStaticIssues,
		"degraded", s.Degraded,
		"errors", len(res.Errors))
	for _, hr := range s.HighRiskFiles {
		logger.Debug("high risk file", "file", hr.File, "score", fmt.Sprintf("%.2f", hr.Score), "source", hr.Source)
	}
}
