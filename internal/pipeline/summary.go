package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/task"
	"github.com/scan-io-git/triageio/pkg/issuecorrelation"
)

const mostCommonLimit = 10

// finalize assembles the result from whatever the stages produced so far.
func (r *run) finalize(_ context.Context, cancelled bool) *findings.Result {
	start := time.Now()
	defer func() { metrics.ObserveStage(string(task.PhaseFinalization), time.Since(start)) }()

	highRisk := r.gate()

	r.mu.Lock()
	stage1 := make([]findings.Stage1Result, 0, len(r.stage1))
	for _, s := range r.stage1 {
		stage1 = append(stage1, s)
	}
	stage2 := make([]findings.FileAnalysis, 0, len(r.analyses))
	for _, fa := range r.analyses {
		stage2 = append(stage2, fa)
	}
	retrievalDegraded := r.retrievalDegraded
	r.mu.Unlock()

	sort.Slice(stage1, func(i, j int) bool { return stage1[i].File < stage1[j].File })
	sort.Slice(stage2, func(i, j int) bool { return stage2[i].File < stage2[j].File })

	final := r.finalFindings(stage2)
	unconfirmed, novel := r.correlate(stage2, final)

	res := &findings.Result{
		TaskID:        r.t.ID(),
		State:         string(r.t.State()),
		Stage1Results: stage1,
		Stage2Results: stage2,
		Stage3Results: final,
		Summary:       summarize(len(r.files), stage1, highRisk, stage2, final, retrievalDegraded, cancelled),
		Errors:        r.t.Errors(),
	}
	res.Summary.UnconfirmedStaticIssues = unconfirmed
	res.Summary.NovelFindings = novel
	if !cancelled {
		r.t.SetStageProgress(task.PhaseFinalization, 1)
	}
	return res
}

// finalFindings lists the findings of every analysed file, enhanced where Stage 3 produced one.
func (r *run) finalFindings(stage2 []findings.FileAnalysis) []findings.Finding {
	out := []findings.Finding{}
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	for _, fa := range stage2 {
		if fa.Status != findings.AnalysisOK {
			continue
		}
		file := r.byPath[fa.File]
		st := r.fps[file.Fingerprint]
		for i, f := range fa.Findings {
			if st != nil && i < len(st.enhanced) && st.enhanced[i] != nil {
				f = rekey(*st.enhanced[i], file, i)
			}
			out = append(out, f)
		}
	}
	return out
}

// correlate marks findings that line up with a pre-existing static issue of their file. It
// returns how many static issues of the analysed files no finding confirmed and how many findings
// have no static counterpart.
func (r *run) correlate(stage2 []findings.FileAnalysis, final []findings.Finding) (unconfirmed, novel int) {
	corroborated := map[string]bool{}
	for _, fa := range stage2 {
		if fa.Status != findings.AnalysisOK {
			continue
		}
		fc := issuecorrelation.CorrelateFile(r.byPath[fa.File], fa.Findings, r.o.settings.CorrelationWindow)
		for id := range fc.Corroborated {
			corroborated[id] = true
		}
		for _, is := range fc.Unconfirmed {
			r.logger.Debug("static issue not confirmed by deep analysis",
				"file", is.Filename, "scanner", is.Scanner, "rule", is.IssueID, "line", is.StartLine)
		}
		unconfirmed += len(fc.Unconfirmed)
		novel += fc.Novel
	}
	if len(corroborated) == 0 {
		return unconfirmed, novel
	}
	for i := range stage2 {
		for j := range stage2[i].Findings {
			if corroborated[stage2[i].Findings[j].ID] {
				stage2[i].Findings[j].Corroborated = true
			}
		}
	}
	for i := range final {
		if corroborated[final[i].ID] {
			final[i].Corroborated = true
		}
	}
	return unconfirmed, novel
}

func summarize(total int, stage1 []findings.Stage1Result, highRisk []findings.HighRiskFile,
	stage2 []findings.FileAnalysis, final []findings.Finding, retrievalDegraded int, cancelled bool,
) findings.Summary {
	s := findings.Summary{
		TotalFiles:           total,
		HighRiskFiles:        highRisk,
		SeverityBreakdown:    map[findings.Severity]int{},
		WeaknessDistribution: map[string]int{},
		MostCommonIssues:     []findings.IssueCount{},
		RetrievalDegraded:    retrievalDegraded,
		Cancelled:            cancelled,
	}
	for _, r := range stage1 {
		if r.Source == findings.SourceOracle {
			s.OracleScored++
		} else {
			s.StaticFallback++
		}
	}
	for _, fa := range stage2 {
		s.FilesAnalyzed++
		if fa.Cached {
			s.FilesFromCache++
		}
		if fa.Status == findings.AnalysisFailed {
			s.FilesFailed++
		}
	}

	titles := map[string]int{}
	for _, f := range final {
		s.TotalFindings++
		s.SeverityBreakdown[f.Severity]++
		if f.WeaknessID != "" {
			s.WeaknessDistribution[f.WeaknessID]++
		}
		titles[f.Title]++
		if f.Corroborated {
			s.CorroboratedFindings++
		}
		if f.Enhancement != nil {
			s.EnhancedFindings++
		} else {
			s.UnenhancedFindings++
		}
	}
	for title, n := range titles {
		s.MostCommonIssues = append(s.MostCommonIssues, findings.IssueCount{Title: title, Count: n})
	}
	sort.Slice(s.MostCommonIssues, func(i, j int) bool {
		a, b := s.MostCommonIssues[i], s.MostCommonIssues[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Title < b.Title
	})
	if len(s.MostCommonIssues) > mostCommonLimit {
		s.MostCommonIssues = s.MostCommonIssues[:mostCommonLimit]
	}

	s.Degraded = s.StaticFallback > 0 || s.FilesFailed > 0 || s.RetrievalDegraded > 0
	return s
}
