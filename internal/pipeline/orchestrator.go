// Package pipeline runs the three triage stages over a candidate set: coarse batch scoring,
// gated deep analysis and retrieval-augmented fix synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/risk"
	"github.com/scan-io-git/triageio/internal/task"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// Options wires an Orchestrator. Oracle is required; a nil Retriever behaves as an empty
// knowledge base and a nil Cache disables cross-run reuse.
type Options struct {
	Settings  Settings
	Risk      *risk.Aggregator
	Oracle    Oracle
	Retriever Retriever
	Cache     FindingCache
	Logger    hclog.Logger
}

// Orchestrator is stateless between runs and may serve several tasks concurrently.
type Orchestrator struct {
	settings  Settings
	scorer    *risk.Aggregator
	oracle    Oracle
	retriever Retriever
	cache     FindingCache
	logger    hclog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Oracle == nil {
		return nil, errors.New("pipeline requires an oracle")
	}
	if opts.Risk == nil {
		opts.Risk = risk.NewDefault()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Orchestrator{
		settings:  opts.Settings,
		scorer:    opts.Risk,
		oracle:    opts.Oracle,
		retriever: opts.Retriever,
		cache:     opts.Cache,
		logger:    opts.Logger.Named("pipeline"),
	}, nil
}

// Settings returns the settings the orchestrator was built with.
func (o *Orchestrator) Settings() Settings { return o.settings }

// Run drives t through the stages over files and returns the aggregate result.
//
// Configuration and input problems move the task to FAILED and are returned as a ConfigError.
// Every other failure is recorded on the task and degrades the result instead. A cancelled task
// stops scheduling work at the next checkpoint and returns the partial result with a nil error.
func (o *Orchestrator) Run(ctx context.Context, t *task.Task, files []findings.CandidateFile) (*findings.Result, error) {
	if t.State().Terminal() {
		return t.Result(), fmt.Errorf("task %s already finished as %s", t.ID(), t.State())
	}
	r, err := o.newRun(t, files)
	if err != nil {
		r.logger.Error("task rejected", "error", err)
		_ = t.Fail(err)
		return nil, err
	}
	return r.execute(ctx)
}

// validateInput copies and checks the candidate set.
func (o *Orchestrator) validateInput(files []findings.CandidateFile) ([]findings.CandidateFile, error) {
	if err := o.settings.Validate(); err != nil {
		return nil, err
	}
	if len(files) == 0 && o.settings.RequireCandidates {
		return nil, shared.NewConfigError("candidates", "no candidate files were provided")
	}
	set := findings.CandidateSet{Files: append([]findings.CandidateFile(nil), files...)}
	if err := set.Validate(); err != nil {
		return nil, shared.NewConfigError("candidates", "%v", err)
	}
	set.EnsureFingerprints()
	return set.Files, nil
}

// run holds the state of one execution. Stage workers only touch it under mu or fpMu.
type run struct {
	o        *Orchestrator
	t        *task.Task
	logger   hclog.Logger
	files    []findings.CandidateFile
	byPath   map[string]findings.CandidateFile
	risk     map[string]findings.RiskScore
	override map[string]bool

	mu                sync.Mutex
	stage1            map[string]findings.Stage1Result
	analyses          map[string]findings.FileAnalysis
	retrievalDegraded int

	fpMu sync.Mutex
	fps  map[string]*fingerprintState
	sf   singleflight.Group
}

func (o *Orchestrator) newRun(t *task.Task, files []findings.CandidateFile) (*run, error) {
	r := &run{
		o:        o,
		t:        t,
		logger:   o.logger.With("task", t.ID()),
		override: o.settings.overrides(),
		stage1:   map[string]findings.Stage1Result{},
		analyses: map[string]findings.FileAnalysis{},
		fps:      map[string]*fingerprintState{},
	}
	checked, err := o.validateInput(files)
	if err != nil {
		return r, err
	}
	r.files = checked
	r.byPath = make(map[string]findings.CandidateFile, len(checked))
	for _, f := range checked {
		r.byPath[f.Path] = f
	}
	return r, nil
}

// stopped is the cooperative cancellation checkpoint.
func (r *run) stopped(ctx context.Context) bool {
	return r.t.Cancelled() || ctx.Err() != nil
}

func (r *run) recordError(stage task.Phase, file, kind, message string) {
	r.t.RecordError(findings.ItemError{Stage: string(stage), File: file, Kind: kind, Message: message})
}

// errCancelled stops execute early; it never leaves the package.
var errCancelled = errors.New("run cancelled")

// advance moves the task on, reporting errCancelled when a cancellation got there first.
func (r *run) advance(ctx context.Context, to task.State) error {
	if r.stopped(ctx) {
		return errCancelled
	}
	if err := r.t.Transition(to); err != nil {
		if r.t.State() == task.StateCancelled {
			return errCancelled
		}
		return err
	}
	return nil
}

func (r *run) execute(ctx context.Context) (*findings.Result, error) {
	start := time.Now()
	r.logger.Info("triage started", "files", len(r.files), "threshold", r.o.settings.RiskThreshold)

	res, err := r.stages(ctx)
	if errors.Is(err, errCancelled) {
		return r.finishCancelled(ctx)
	}
	if err != nil {
		return nil, err
	}
	res.State = string(task.StateCompleted)
	if err := r.t.Complete(res); err != nil {
		if r.t.State() == task.StateCancelled {
			return r.finishCancelled(ctx)
		}
		return nil, err
	}
	r.logger.Info("triage completed",
		"high_risk", len(res.Summary.HighRiskFiles),
		"findings", res.Summary.TotalFindings,
		"degraded", res.Summary.Degraded,
		"duration", time.Since(start))
	return res, nil
}

// stages runs everything up to the final transition and returns the finished result.
func (r *run) stages(ctx context.Context) (*findings.Result, error) {
	if err := r.advance(ctx, task.StateStage1Running); err != nil {
		return nil, err
	}
	r.t.SetStageProgress(task.PhaseAcquisition, 1)
	r.scoreRisk()

	r.runStage1(ctx)
	if err := r.advance(ctx, task.StateStage1Done); err != nil {
		return nil, err
	}

	gated := r.gate()
	if len(gated) == 0 {
		r.logger.Info("no file passed the risk gate, skipping deep analysis")
		return r.finalize(ctx, false), nil
	}

	if err := r.advance(ctx, task.StateStage2Running); err != nil {
		return nil, err
	}
	r.runStage2(ctx, gated)
	if err := r.advance(ctx, task.StateStage2Done); err != nil {
		return nil, err
	}

	units := r.enhancementUnits()
	if len(units) == 0 {
		r.storeCache(ctx)
		return r.finalize(ctx, false), nil
	}
	if err := r.advance(ctx, task.StateStage3Running); err != nil {
		return nil, err
	}
	r.runStage3(ctx, units)
	if r.stopped(ctx) {
		return nil, errCancelled
	}
	r.storeCache(ctx)
	return r.finalize(ctx, false), nil
}

func (r *run) finishCancelled(ctx context.Context) (*findings.Result, error) {
	// a cancelled parent context cancels the task too
	r.t.Cancel()
	r.storeCache(context.WithoutCancel(ctx))
	res := r.finalize(ctx, true)
	res.State = string(task.StateCancelled)
	if err := r.t.MarkCancelled(res); err != nil && r.t.State() != task.StateCancelled {
		return nil, err
	}
	r.logger.Info("triage cancelled", "stage1_results", len(res.Stage1Results), "analysed", len(res.Stage2Results))
	return res, nil
}

// scoreRisk runs the aggregator over every candidate. It is cheap and not interruptible.
func (r *run) scoreRisk() {
	r.risk = make(map[string]findings.RiskScore, len(r.files))
	if len(r.files) == 0 {
		r.t.SetStageProgress(task.PhaseFeatureExtraction, 1)
		return
	}
	for i, score := range r.o.scorer.ScoreAll(r.files) {
		r.risk[score.File] = score
		r.t.SetStageProgress(task.PhaseFeatureExtraction, float64(i+1)/float64(len(r.files)))
	}
}

// gate returns the files selected for deep analysis, sorted by descending score then path.
func (r *run) gate() []findings.HighRiskFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []findings.HighRiskFile{}
	for path, s := range r.stage1 {
		if s.Score >= r.o.settings.RiskThreshold || r.override[path] {
			out = append(out, findings.HighRiskFile{File: path, Score: s.Score, Source: s.Source})
		}
	}
	sortHighRisk(out)
	return out
}

func sortHighRisk(hr []findings.HighRiskFile) {
	sort.Slice(hr, func(i, j int) bool {
		if hr[i].Score != hr[j].Score {
			return hr[i].Score > hr[j].Score
		}
		return hr[i].File < hr[j].File
	})
}
