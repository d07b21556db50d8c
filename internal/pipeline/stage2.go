package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/oracle"
	"github.com/scan-io-git/triageio/internal/task"
)

// fingerprintState is the analysis of one distinct file content in this run. findings belong to
// owner, the first path analysed with that content; enhanced holds the Stage 3 version of each
// finding once it exists.
type fingerprintState struct {
	owner     string
	status    findings.AnalysisStatus
	reason    string
	findings  []findings.Finding
	enhanced  []*findings.Finding
	fromCache bool
	// complete means every finding went through Stage 3 (or came enhanced from the cache)
	complete bool
	// dirty marks work the cross-run cache has not seen yet
	dirty bool
}

var findingNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("triageio.finding"))

// findingID is stable for the same path, content and position in the analysis.
func findingID(path, fingerprint string, index int) string {
	return uuid.NewSHA1(findingNamespace, []byte(fmt.Sprintf("%s\x00%s\x00%d", path, fingerprint, index))).String()
}

// runStage2 analyses the gated files over a bounded pool.
func (r *run) runStage2(ctx context.Context, gated []findings.HighRiskFile) {
	start := time.Now()
	defer func() { metrics.ObserveStage(string(task.PhaseStage2), time.Since(start)) }()

	var (
		g    errgroup.Group
		done atomic.Int64
	)
	g.SetLimit(r.o.settings.Stage2Concurrency)
	for _, hr := range gated {
		if r.stopped(ctx) {
			break
		}
		file := r.byPath[hr.File]
		g.Go(func() error {
			if r.stopped(ctx) {
				return nil
			}
			fa := r.analyzeFile(ctx, file)
			r.mu.Lock()
			r.analyses[file.Path] = fa
			r.mu.Unlock()
			r.t.SetStageProgress(task.PhaseStage2, float64(done.Add(1))/float64(len(gated)))
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Debug("stage 2 finished", "files", done.Load(), "of", len(gated), "duration", time.Since(start))
}

// analyzeFile returns the analysis of file, reusing earlier work on identical content.
func (r *run) analyzeFile(ctx context.Context, file findings.CandidateFile) findings.FileAnalysis {
	st := r.fingerprint(ctx, file)
	fa := findings.FileAnalysis{
		File:     file.Path,
		Status:   st.status,
		Reason:   st.reason,
		Cached:   st.fromCache || st.owner != file.Path,
		Findings: []findings.Finding{},
	}
	for i, f := range st.findings {
		f = rekey(f, file, i)
		f.Enhancement = nil
		fa.Findings = append(fa.Findings, f)
	}
	return fa
}

// fingerprint resolves the analysis of the file's content once per run. Concurrent requests for
// the same content share one lookup.
func (r *run) fingerprint(ctx context.Context, file findings.CandidateFile) *fingerprintState {
	fp := file.Fingerprint
	if st := r.knownFingerprint(fp); st != nil {
		return st
	}
	v, _, _ := r.sf.Do(fp, func() (interface{}, error) {
		if st := r.knownFingerprint(fp); st != nil {
			return st, nil
		}
		st := r.resolve(ctx, file)
		r.fpMu.Lock()
		r.fps[fp] = st
		r.fpMu.Unlock()
		return st, nil
	})
	return v.(*fingerprintState)
}

func (r *run) knownFingerprint(fp string) *fingerprintState {
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	return r.fps[fp]
}

// resolve consults the cross-run cache, then the oracle.
func (r *run) resolve(ctx context.Context, file findings.CandidateFile) *fingerprintState {
	if r.o.cache != nil {
		e, ok, err := r.o.cache.Get(ctx, file.Fingerprint)
		if err != nil {
			r.recordError(task.PhaseStage2, file.Path, findings.ErrKindCache, err.Error())
		}
		metrics.CacheLookup(ok)
		if ok && e.Status == findings.AnalysisOK {
			st := &fingerprintState{
				owner:     file.Path,
				status:    findings.AnalysisOK,
				reason:    e.Reason,
				findings:  make([]findings.Finding, len(e.Findings)),
				enhanced:  make([]*findings.Finding, len(e.Findings)),
				fromCache: true,
				complete:  e.Enhanced,
			}
			for i, f := range e.Findings {
				f = rekey(f, file, i)
				if f.Enhancement != nil {
					enhanced := f
					st.enhanced[i] = &enhanced
				}
				f.Enhancement = nil
				st.findings[i] = f
			}
			return st
		}
	}

	an := r.o.oracle.Analyze(ctx, file)
	st := &fingerprintState{owner: file.Path, reason: an.Reason, dirty: true}
	switch an.Outcome {
	case oracle.Parsed, oracle.PartiallyParsed:
		st.status = findings.AnalysisOK
		if an.Outcome == oracle.PartiallyParsed {
			r.recordError(task.PhaseStage2, file.Path, findings.ErrKindMalformedOutput, an.Reason)
		}
	case oracle.Unavailable:
		st.status = findings.AnalysisFailed
		r.recordError(task.PhaseStage2, file.Path, findings.ErrKindOracleUnavailable, an.Reason)
	default:
		st.status = findings.AnalysisFailed
		r.recordError(task.PhaseStage2, file.Path, findings.ErrKindAnalysisFailed, an.Reason)
	}
	if st.status == findings.AnalysisOK {
		st.findings = make([]findings.Finding, len(an.Findings))
		for i, f := range an.Findings {
			st.findings[i] = rekey(f, file, i)
		}
		st.enhanced = make([]*findings.Finding, len(an.Findings))
		st.complete = len(an.Findings) == 0
	}
	return st
}

// rekey binds a finding to file.
func rekey(f findings.Finding, file findings.CandidateFile, index int) findings.Finding {
	f.File = file.Path
	f.ID = findingID(file.Path, file.Fingerprint, index)
	f.Corroborated = false
	return f
}
