// Package oracle is the client of the external reasoning service.
//
// Every operation goes through a shared concurrency budget, an optional rate limit, a per-call
// timeout and the resilience executor. Operations never return errors: failures surface as the
// Unavailable or Unparseable outcome so callers can fall back.
package oracle

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/resilience"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

const (
	OpScoreBatch = "score_batch"
	OpAnalyze    = "analyze"
	OpSynthesize = "synthesize_fix"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxConcurrency = 8
	defaultMaxTokens      = 4096
)

// BatchItem is one file of a Stage 1 batch with its static risk score.
type BatchItem struct {
	File        findings.CandidateFile
	StaticScore float64
}

// PerFileScore is the oracle's coarse verdict for one file.
type PerFileScore struct {
	File       string
	Score      float64
	Confidence float64
	Rationale  string
}

// BatchScore is the tagged outcome of ScoreBatch. Missing lists requested files without a usable
// score; Unknown lists files the oracle scored but that were not requested, which are ignored.
type BatchScore struct {
	Outcome Outcome
	Scores  map[string]PerFileScore
	Missing []string
	Unknown []string
	Reason  string
}

// Analysis is the tagged outcome of Analyze.
type Analysis struct {
	Outcome  Outcome
	Findings []findings.Finding
	Reason   string
}

// Precedent is a historical fix handed to synthesis.
type Precedent struct {
	ID          string
	Description string
	WeaknessID  string
	Before      string
	After       string
}

// FixContext is the retrieved context for SynthesizeFix. It may be empty.
type FixContext struct {
	Precedents  []Precedent
	FixPatterns []string
}

// Options tunes a Client. Zero values take defaults.
type Options struct {
	Timeout           time.Duration
	MaxConcurrency    int
	RequestsPerSecond float64
	MaxTokens         int
	Temperature       float32
	Policy            resilience.Policy
	Breaker           resilience.BreakerConfig
}

// OptionsFromConfig maps the oracle config section onto Options.
func OptionsFromConfig(o config.Oracle) Options {
	policy := resilience.DefaultPolicy()
	policy.MaxAttempts = config.SetThen(o.MaxAttempts, policy.MaxAttempts)
	policy.InitialBackoff = config.SetThen(o.InitialBackoff, policy.InitialBackoff)
	policy.MaxBackoff = config.SetThen(o.MaxBackoff, policy.MaxBackoff)

	breaker := resilience.DefaultBreakerConfig()
	breaker.Window = config.SetThen(o.FailureWindow, breaker.Window)
	breaker.Threshold = config.SetThen(o.FailureThreshold, breaker.Threshold)
	breaker.Cooldown = config.SetThen(o.Cooldown, breaker.Cooldown)

	return Options{
		Timeout:           config.SetThen(o.Timeout, defaultTimeout),
		MaxConcurrency:    config.SetThen(o.MaxConcurrency, defaultMaxConcurrency),
		RequestsPerSecond: o.RequestsPerSecond,
		MaxTokens:         config.SetThen(o.MaxTokens, defaultMaxTokens),
		Temperature:       o.Temperature,
		Policy:            policy,
		Breaker:           breaker,
	}
}

// Client is safe for concurrent use and meant to be shared by all tasks of a process.
type Client struct {
	backend Backend
	logger  hclog.Logger
	exec    *resilience.Executor
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	maxTok  int
	temp    float32
}

// NewClient wraps backend. A nil backend yields a client whose operations are always Unavailable.
func NewClient(backend Backend, opts Options, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("oracle")

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := int(math.Max(1, math.Ceil(opts.RequestsPerSecond)))

	breakerCfg := opts.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		metrics.SetBreakerState(int(to))
		logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		if userHook != nil {
			userHook(from, to)
		}
	}

	exec := resilience.NewExecutor(opts.Policy, resilience.NewBreaker(breakerCfg), logger,
		func(op string, _ int, err error) { metrics.ObserveOracleAttempt(op, err) })

	return &Client{
		backend: backend,
		logger:  logger,
		exec:    exec,
		sem:     semaphore.NewWeighted(int64(max(opts.MaxConcurrency, 1))),
		limiter: rate.NewLimiter(limit, burst),
		timeout: config.SetThen(opts.Timeout, defaultTimeout),
		maxTok:  config.SetThen(opts.MaxTokens, defaultMaxTokens),
		temp:    opts.Temperature,
	}
}

// Breaker exposes the circuit breaker state for reporting.
func (c *Client) Breaker() *resilience.Breaker {
	return c.exec.Breaker()
}

// ScoreBatch asks for a 0-100 risk score per file.
func (c *Client) ScoreBatch(ctx context.Context, items []BatchItem) BatchScore {
	start := time.Now()
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.File.Path
	}

	res := func() BatchScore {
		if len(items) == 0 {
			return BatchScore{Outcome: Parsed, Scores: map[string]PerFileScore{}}
		}
		prompt, err := render(batchTemplate, items)
		if err != nil {
			return unavailableBatch(paths, err)
		}
		text, err := c.complete(ctx, OpScoreBatch, prompt)
		if err != nil {
			return unavailableBatch(paths, err)
		}
		return parseBatch(text, paths)
	}()

	if len(res.Unknown) > 0 {
		c.logger.Debug("ignoring scores for files outside the batch", "count", len(res.Unknown), "files", res.Unknown)
	}
	if res.Outcome != Parsed {
		c.logger.Warn("batch scoring incomplete", "outcome", string(res.Outcome), "missing", len(res.Missing), "reason", res.Reason)
	}
	metrics.ObserveOracleCall(OpScoreBatch, string(res.Outcome), time.Since(start))
	return res
}

// Analyze runs deep analysis of one file.
func (c *Client) Analyze(ctx context.Context, file findings.CandidateFile) Analysis {
	start := time.Now()
	res := func() Analysis {
		prompt, err := render(analyzeTemplate, struct {
			File  findings.CandidateFile
			Limit int
		}{file, analyzeContentChars})
		if err != nil {
			return Analysis{Outcome: Unavailable, Reason: err.Error()}
		}
		text, err := c.complete(ctx, OpAnalyze, prompt)
		if err != nil {
			return Analysis{Outcome: Unavailable, Reason: err.Error()}
		}
		return parseAnalysis(text, file)
	}()

	if !res.Outcome.Usable() {
		c.logger.Warn("file analysis failed", "file", file.Path, "outcome", string(res.Outcome), "reason", res.Reason)
	}
	metrics.ObserveOracleCall(OpAnalyze, string(res.Outcome), time.Since(start))
	return res
}

// SynthesizeFix proposes a patch for finding. An empty context still produces a best-effort
// suggestion, flagged Degraded. When nothing usable comes back Available is false.
func (c *Client) SynthesizeFix(ctx context.Context, finding findings.Finding, fixCtx FixContext) (findings.PatchSuggestion, Outcome) {
	start := time.Now()
	patch, outcome := func() (findings.PatchSuggestion, Outcome) {
		prompt, err := render(fixTemplate, struct {
			Finding findings.Finding
			Context FixContext
		}{finding, fixCtx})
		if err != nil {
			return findings.PatchSuggestion{Explanation: noSuggestion}, Unavailable
		}
		text, err := c.complete(ctx, OpSynthesize, prompt)
		if err != nil {
			return findings.PatchSuggestion{Explanation: noSuggestion}, Unavailable
		}
		return parseFix(text)
	}()

	if patch.Available && len(fixCtx.Precedents) == 0 {
		patch.Degraded = true
	}
	metrics.ObserveOracleCall(OpSynthesize, string(outcome), time.Since(start))
	return patch, outcome
}

// complete runs one request under the budget, the rate limit and the resilience policy.
func (c *Client) complete(ctx context.Context, operation, prompt string) (string, error) {
	if c.backend == nil {
		return "", errors.New("no oracle backend configured")
	}
	req := Request{System: systemPrompt, Prompt: prompt, MaxTokens: c.maxTok, Temperature: c.temp}

	var out string
	err := c.exec.Do(ctx, operation, func(ctx context.Context) error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		text, err := c.backend.Complete(callCtx, req)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if errors.Is(err, shared.ErrCircuitOpen) {
		c.logger.Debug("oracle call skipped, circuit open", "operation", operation)
	}
	return out, err
}

func unavailableBatch(paths []string, err error) BatchScore {
	return BatchScore{
		Outcome: Unavailable,
		Scores:  map[string]PerFileScore{},
		Missing: append([]string(nil), paths...),
		Reason:  err.Error(),
	}
}
