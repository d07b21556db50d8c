package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/oracle"
	"github.com/scan-io-git/triageio/internal/task"
)

const fallbackRationale = "oracle score unavailable, static risk score used"

// runStage1 scores the candidates in batches over a bounded pool. Batches not yet scheduled when
// the task is cancelled are skipped.
func (r *run) runStage1(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ObserveStage(string(task.PhaseStage1), time.Since(start)) }()

	batches := chunk(r.files, r.o.settings.BatchSize)
	if len(batches) == 0 {
		r.t.SetStageProgress(task.PhaseStage1, 1)
		return
	}

	var (
		g    errgroup.Group
		done atomic.Int64
	)
	g.SetLimit(r.o.settings.Stage1Concurrency)
	for _, batch := range batches {
		batch := batch
		if r.stopped(ctx) {
			break
		}
		g.Go(func() error {
			if r.stopped(ctx) {
				return nil
			}
			r.scoreBatch(ctx, batch)
			r.t.SetStageProgress(task.PhaseStage1, float64(done.Add(1))/float64(len(batches)))
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Debug("stage 1 finished", "batches", done.Load(), "of", len(batches), "duration", time.Since(start))
}

func (r *run) scoreBatch(ctx context.Context, batch []findings.CandidateFile) {
	items := make([]oracle.BatchItem, len(batch))
	for i, f := range batch {
		items[i] = oracle.BatchItem{File: f, StaticScore: r.risk[f.Path].Value}
	}
	res := r.o.oracle.ScoreBatch(ctx, items)

	results := make([]findings.Stage1Result, 0, len(batch))
	for _, f := range batch {
		s, ok := res.Scores[f.Path]
		if !ok || !res.Outcome.Usable() {
			results = append(results, r.fallback(f))
			continue
		}
		results = append(results, findings.Stage1Result{
			File:       f.Path,
			Score:      s.Score,
			Confidence: s.Confidence,
			Rationale:  s.Rationale,
			Source:     findings.SourceOracle,
		})
	}

	switch res.Outcome {
	case oracle.Unavailable:
		r.recordError(task.PhaseStage1, "", findings.ErrKindOracleUnavailable,
			fmt.Sprintf("batch of %d files scored statically: %s", len(batch), res.Reason))
	case oracle.Unparseable:
		r.recordError(task.PhaseStage1, "", findings.ErrKindMalformedOutput,
			fmt.Sprintf("batch of %d files scored statically: %s", len(batch), res.Reason))
	case oracle.PartiallyParsed:
		for _, path := range res.Missing {
			r.recordError(task.PhaseStage1, path, findings.ErrKindMalformedOutput, "no usable score in the oracle response, static score used")
		}
	}

	r.mu.Lock()
	for _, s := range results {
		r.stage1[s.File] = s
	}
	r.mu.Unlock()
}

func (r *run) fallback(f findings.CandidateFile) findings.Stage1Result {
	return findings.Stage1Result{
		File:       f.Path,
		Score:      r.risk[f.Path].Value,
		Confidence: r.o.settings.FallbackConfidence,
		Rationale:  fallbackRationale,
		Source:     findings.SourceStaticFallback,
	}
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
