package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/cmd/version"
	"github.com/scan-io-git/triageio/internal/cache"
	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/internal/dojo"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/git"
	"github.com/scan-io-git/triageio/internal/kb"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/notify"
	"github.com/scan-io-git/triageio/internal/oracle"
	"github.com/scan-io-git/triageio/internal/pipeline"
	"github.com/scan-io-git/triageio/internal/sarif"
	"github.com/scan-io-git/triageio/internal/task"
	report "github.com/scan-io-git/triageio/internal/template"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

const (
	shutdownTimeout = 5 * time.Second
	publishTimeout  = 2 * time.Minute
)

// applyOverrides lets command flags take precedence over the pipeline section.
func applyOverrides(s pipeline.Settings, o *RunOptionsTriage) pipeline.Settings {
	if o.ThresholdSet {
		s.RiskThreshold = o.Threshold
	}
	if o.BatchSize > 0 {
		s.BatchSize = o.BatchSize
	}
	if len(o.OverridePaths) > 0 {
		s.OverridePaths = append(append([]string(nil), s.OverridePaths...), o.OverridePaths...)
	}
	return s
}

// loadCandidates reads the candidate set, fills missing contents from the source folder and
// attaches the issues of an existing scanner report. Validation is left to the pipeline so that
// an invalid set fails the task.
func loadCandidates(o *RunOptionsTriage, logger hclog.Logger) ([]findings.CandidateFile, error) {
	data, err := os.ReadFile(o.InputFile)
	if err != nil {
		return nil, shared.NewConfigError("input", "failed to read candidates %q: %v", o.InputFile, err)
	}
	set, err := findings.DecodeCandidates(data)
	if err != nil {
		return nil, shared.NewConfigError("input", "%v", err)
	}

	if o.SourceFolder != "" {
		read := 0
		for i := range set.Files {
			if set.Files[i].Content != "" || set.Files[i].Path == "" {
				continue
			}
			path, err := files.EnsureWithinRoot(o.SourceFolder, set.Files[i].Path)
			if err != nil {
				logger.Warn("candidate path rejected", "path", set.Files[i].Path, "error", err)
				continue
			}
			content, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("failed to read candidate content", "path", set.Files[i].Path, "error", err)
				continue
			}
			set.Files[i].Content = string(content)
			read++
		}
		logger.Debug("candidate contents read from source folder", "files", read)
	}

	if o.IssuesSarif != "" {
		issues, err := sarif.ReadReport(o.IssuesSarif, logger, o.SourceFolder, true)
		if err != nil {
			return nil, shared.NewConfigError("issues", "%v", err)
		}
		attached := sarif.AttachIssues(set.Files, issues.StaticIssues())
		logger.Info("static issues attached", "report", o.IssuesSarif, "files", attached)
	}
	return set.Files, nil
}

// fillHistory counts modifications from the git history of the source folder for candidates that
// carry no history of their own. A folder outside git only produces a warning.
func fillHistory(ctx context.Context, o *RunOptionsTriage, candidates []findings.CandidateFile, logger hclog.Logger) error {
	if !o.History {
		return nil
	}
	var paths []string
	for _, c := range candidates {
		if c.History == (findings.History{}) && c.Path != "" {
			paths = append(paths, c.Path)
		}
	}
	if len(paths) == 0 {
		return nil
	}

	counts, err := git.MineHistory(ctx, o.SourceFolder, paths, git.HistoryOptions{Logger: logger})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("failed to read git history, history signals stay empty", "source", o.SourceFolder, "error", err)
		return nil
	}
	for i := range candidates {
		if h, ok := counts[candidates[i].Path]; ok && candidates[i].History == (findings.History{}) {
			candidates[i].History = h
		}
	}
	logger.Debug("history filled from git", "files", len(counts))
	return nil
}

// environment holds the long-lived collaborators of one command run.
type environment struct {
	oracle    *oracle.Client
	knowledge *kb.KnowledgeBase
	cache     cache.Store
	tasks     *task.Manager

	closers []func()
}

func newEnvironment(ctx context.Context, cfg *config.Config, o *RunOptionsTriage, logger hclog.Logger) (*environment, error) {
	env := &environment{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	if addr := cfg.Metrics.ListenAddress; addr != "" {
		srv := serveMetrics(addr, logger)
		env.closers = append(env.closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		})
	}

	backend, err := oracle.NewBackend(cfg)
	if err != nil {
		return nil, shared.NewConfigError("oracle.provider", "%v", err)
	}
	if backend == nil {
		logger.Warn("no oracle configured, every file is scored statically and deep analysis is skipped")
	}
	env.oracle = oracle.NewClient(backend, oracle.OptionsFromConfig(cfg.Oracle), logger)

	knowledge, err := openKnowledgeBase(ctx, cfg, o.IndexPath, logger, env)
	if err != nil {
		return nil, err
	}
	env.knowledge = knowledge

	store, err := cache.Open(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings cache: %w", err)
	}
	if store != nil {
		env.cache = store
		env.closers = append(env.closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close findings cache", "error", err)
			}
		})
	}

	sinks := notify.MultiSink{notify.NewLogSink(logger)}
	if url := cfg.Notify.WebSocketURL; url != "" {
		ws := notify.NewWebSocketSink(url, nil, logger)
		sinks = append(sinks, ws)
		env.closers = append(env.closers, func() {
			if err := ws.Close(); err != nil {
				logger.Warn("progress events were not all delivered", "url", url, "error", err)
			}
		})
	}
	env.tasks = task.NewManager(task.WeightsFromConfig(cfg.ProgressWeights), notify.NewDedupeSink(sinks), logger)
	env.closers = append(env.closers, func() { env.tasks.Shutdown() })

	ok = true
	return env, nil
}

// openKnowledgeBase loads the index when one is configured and keeps it fresh when watching is
// enabled. Without an index the knowledge base stays empty and findings are not enhanced.
func openKnowledgeBase(ctx context.Context, cfg *config.Config, indexPath string, logger hclog.Logger, env *environment) (*kb.KnowledgeBase, error) {
	embedder, err := kb.NewEmbedder(logger, cfg)
	if err != nil {
		return nil, shared.NewConfigError("knowledge_base.embedding.provider", "%v", err)
	}
	knowledge := kb.New(embedder, logger)

	path := config.SetThen(indexPath, cfg.KnowledgeBase.IndexPath)
	if path == "" {
		logger.Warn("no knowledge base index configured, findings will not be enhanced")
		return knowledge, nil
	}
	snap, err := kb.LoadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	knowledge.Swap(snap)

	if cfg.KnowledgeBase.Watch {
		w, err := kb.NewWatcher(knowledge, path, 0, logger)
		if err != nil {
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			return nil, err
		}
		env.closers = append(env.closers, w.Stop)
	}
	return knowledge, nil
}

// Close releases resources in reverse order of acquisition.
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func serveMetrics(addr string, logger hclog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", "address", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "address", addr)
	return srv
}

// writeOutputs stores the JSON result (stdout when no output path is set) and the optional reports.
func writeOutputs(res *findings.Result, o *RunOptionsTriage, stdout io.Writer, logger hclog.Logger) error {
	if o.OutputPath == "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to print result: %w", err)
		}
	} else {
		path, _, err := files.DetermineFileFullPath(o.OutputPath, fmt.Sprintf("triageio-%s.json", res.TaskID))
		if err != nil {
			return err
		}
		if err := files.WriteJSON(path, res); err != nil {
			return err
		}
		logger.Info("result written", "path", path)
	}

	if o.SarifPath != "" {
		sarifReport, err := sarif.FromResult(res, version.CoreVersion)
		if err != nil {
			return err
		}
		if err := sarifReport.Write(o.SarifPath); err != nil {
			return err
		}
		logger.Info("SARIF report written", "path", o.SarifPath, "results", sarifReport.CollectSeverityInfo()["total"])
	}

	if o.HTMLPath != "" {
		if err := report.WriteReport(o.HTMLPath, res, version.CoreVersion); err != nil {
			return err
		}
		logger.Info("HTML report written", "path", o.HTMLPath)
	}
	return nil
}

// publishReport imports the SARIF report into DefectDojo when a server and a product are
// configured. Failures are logged and do not fail the run. A cancelled run still publishes the
// report it wrote, bounded by publishTimeout.
func publishReport(ctx context.Context, cfg *config.Config, o *RunOptionsTriage, logger hclog.Logger) {
	product := config.SetThen(o.DojoProduct, cfg.DefectDojo.Product)
	if cfg.DefectDojo.URL == "" || product == "" {
		return
	}
	if o.SarifPath == "" {
		logger.Warn("DefectDojo publishing needs the 'sarif' flag, skipping", "product", product)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	client := dojo.New(logger, cfg)
	if _, err := client.PublishSARIF(ctx, cfg.DefectDojo.ProductType, product, o.SarifPath); err != nil {
		logger.Error("failed to publish the report to DefectDojo", "product", product, "error", err)
	}
}
