package pipeline

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scan-io-git/triageio/internal/cache"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/kb"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/oracle"
	"github.com/scan-io-git/triageio/internal/task"
)

// enhancementUnit is one finding of one distinct content awaiting Stage 3.
type enhancementUnit struct {
	state *fingerprintState
	index int
}

// enhancementUnits lists the findings still lacking Stage 3, ordered by owner path and index.
func (r *run) enhancementUnits() []enhancementUnit {
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	var units []enhancementUnit
	for _, st := range r.fps {
		if st.status != findings.AnalysisOK || st.complete {
			continue
		}
		for i := range st.findings {
			if st.enhanced[i] == nil {
				units = append(units, enhancementUnit{state: st, index: i})
			}
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].state.owner != units[j].state.owner {
			return units[i].state.owner < units[j].state.owner
		}
		return units[i].index < units[j].index
	})
	return units
}

// runStage3 enriches findings with retrieved precedent and a synthesised patch.
func (r *run) runStage3(ctx context.Context, units []enhancementUnit) {
	start := time.Now()
	defer func() { metrics.ObserveStage(string(task.PhaseStage3), time.Since(start)) }()

	var (
		g    errgroup.Group
		done atomic.Int64
	)
	g.SetLimit(r.o.settings.Stage3Concurrency)
	for _, u := range units {
		u := u
		if r.stopped(ctx) {
			break
		}
		g.Go(func() error {
			if r.stopped(ctx) {
				return nil
			}
			r.enhance(ctx, u)
			r.t.SetStageProgress(task.PhaseStage3, float64(done.Add(1))/float64(len(units)))
			return nil
		})
	}
	_ = g.Wait()

	if done.Load() == int64(len(units)) {
		r.fpMu.Lock()
		for _, u := range units {
			u.state.complete = true
			u.state.dirty = true
		}
		r.fpMu.Unlock()
	}
	r.logger.Debug("stage 3 finished", "findings", done.Load(), "of", len(units), "duration", time.Since(start))
}

// enhance queries the knowledge base for one finding and, when precedent exists, asks for a
// patch. A finding without matches stays unenhanced.
func (r *run) enhance(ctx context.Context, u enhancementUnit) {
	r.fpMu.Lock()
	f := u.state.findings[u.index]
	r.fpMu.Unlock()

	q := kb.QueryResult{Matches: []kb.Match{}}
	if r.o.retriever != nil {
		q = r.o.retriever.Query(ctx, f.Description, f.Snippet, r.o.settings.RetrievalK)
	}
	if q.Degraded {
		r.mu.Lock()
		r.retrievalDegraded++
		r.mu.Unlock()
		r.recordError(task.PhaseStage3, f.File, findings.ErrKindRetrievalDegraded, "vector index unavailable, matched lexically")
	}

	enhanced := f
	if len(q.Matches) > 0 {
		records := q.MatchedRecords()
		fixCtx := oracle.FixContext{
			Precedents:  precedents(records),
			FixPatterns: kb.CommonFixPatterns(records),
		}
		patch, outcome := r.o.oracle.SynthesizeFix(ctx, f, fixCtx)
		if !patch.Available {
			r.recordError(task.PhaseStage3, f.File, findings.ErrKindNoSuggestion, "no patch suggested ("+string(outcome)+")")
		}
		enhanced = f.WithEnhancement(findings.Enhancement{
			Patch:             patch,
			Matches:           q.RetrievalMatches(),
			FixPatterns:       fixCtx.FixPatterns,
			RetrievalDegraded: q.Degraded,
			IndexVersion:      q.Version,
		})
	}

	r.fpMu.Lock()
	u.state.enhanced[u.index] = &enhanced
	u.state.dirty = true
	r.fpMu.Unlock()
}

func precedents(records []kb.Record) []oracle.Precedent {
	out := make([]oracle.Precedent, 0, len(records))
	for _, rec := range records {
		out = append(out, oracle.Precedent{
			ID:          rec.ID,
			Description: rec.Description,
			WeaknessID:  rec.WeaknessID,
			Before:      rec.Before,
			After:       rec.After,
		})
	}
	return out
}

// storeCache writes contents analysed or enhanced in this run to the cross-run cache.
func (r *run) storeCache(ctx context.Context) {
	if r.o.cache == nil {
		return
	}
	r.fpMu.Lock()
	pending := map[string]cache.Entry{}
	for fp, st := range r.fps {
		if st.status != findings.AnalysisOK || !st.dirty {
			continue
		}
		e := cache.Entry{Status: st.status, Reason: st.reason, Enhanced: st.complete, Findings: make([]findings.Finding, len(st.findings))}
		for i, f := range st.findings {
			if st.enhanced[i] != nil {
				f = *st.enhanced[i]
			}
			e.Findings[i] = f
		}
		pending[fp] = e
		st.dirty = false
	}
	r.fpMu.Unlock()

	for fp, e := range pending {
		if err := r.o.cache.Put(ctx, fp, e); err != nil {
			r.recordError(task.PhaseFinalization, "", findings.ErrKindCache, err.Error())
		}
	}
}
