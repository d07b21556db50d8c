package pipeline

import (
	"context"
	"sync"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/kb"
	"github.com/scan-io-git/triageio/internal/notify"
	"github.com/scan-io-git/triageio/internal/oracle"
)

// fakeOracle scores from a table and reports the same findings for every analysed file unless
// told otherwise.
type fakeOracle struct {
	mu sync.Mutex

	scores        map[string]float64
	batchOutcome  oracle.Outcome
	findings      []findings.Finding
	perFile       map[string][]findings.Finding
	failAnalyze   map[string]bool
	onScoreBatch  func()
	onAnalyze     func(path string)
	scoreCalls    int
	analyzeCalls  int
	fixCalls      int
	analyzedPaths []string
}

func (f *fakeOracle) ScoreBatch(_ context.Context, items []oracle.BatchItem) oracle.BatchScore {
	f.mu.Lock()
	f.scoreCalls++
	hook := f.onScoreBatch
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	res := oracle.BatchScore{Outcome: oracle.Parsed, Scores: map[string]oracle.PerFileScore{}}
	if f.batchOutcome == oracle.Unavailable || f.batchOutcome == oracle.Unparseable {
		res.Outcome = f.batchOutcome
		res.Reason = "backend down"
		for _, it := range items {
			res.Missing = append(res.Missing, it.File.Path)
		}
		return res
	}
	for _, it := range items {
		score, ok := f.scores[it.File.Path]
		if !ok {
			res.Missing = append(res.Missing, it.File.Path)
			continue
		}
		res.Scores[it.File.Path] = oracle.PerFileScore{File: it.File.Path, Score: score, Confidence: 0.9, Rationale: "looks risky"}
	}
	if len(res.Missing) > 0 {
		res.Outcome = oracle.PartiallyParsed
	}
	return res
}

func (f *fakeOracle) Analyze(_ context.Context, file findings.CandidateFile) oracle.Analysis {
	f.mu.Lock()
	f.analyzeCalls++
	f.analyzedPaths = append(f.analyzedPaths, file.Path)
	hook := f.onAnalyze
	f.mu.Unlock()
	if hook != nil {
		hook(file.Path)
	}

	if f.failAnalyze[file.Path] {
		return oracle.Analysis{Outcome: oracle.Unparseable, Reason: "malformed oracle output"}
	}
	src := f.findings
	if fs, ok := f.perFile[file.Path]; ok {
		src = fs
	}
	out := make([]findings.Finding, len(src))
	for i, fd := range src {
		fd.File = file.Path
		out[i] = fd
	}
	return oracle.Analysis{Outcome: oracle.Parsed, Findings: out}
}

func (f *fakeOracle) SynthesizeFix(_ context.Context, finding findings.Finding, fixCtx oracle.FixContext) (findings.PatchSuggestion, oracle.Outcome) {
	f.mu.Lock()
	f.fixCalls++
	f.mu.Unlock()
	return findings.PatchSuggestion{
		Available:   true,
		Before:      finding.Snippet,
		After:       "// fixed",
		Explanation: "apply the precedent",
		References:  []string{fixCtx.Precedents[0].ID},
	}, oracle.Parsed
}

func (f *fakeOracle) calls() (score, analyze, fix int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scoreCalls, f.analyzeCalls, f.fixCalls
}

// fakeRetriever returns one fixed precedent for every query.
type fakeRetriever struct {
	mu      sync.Mutex
	queries int
}

func (r *fakeRetriever) Query(_ context.Context, _, _ string, k int) kb.QueryResult {
	r.mu.Lock()
	r.queries++
	r.mu.Unlock()
	matches := []kb.Match{{
		Record: kb.Record{
			ID:          "CVE-2020-0001#abc#0",
			Description: "SQL injection via string concatenation",
			WeaknessID:  "CWE-89",
			Before:      `db.Query("select " + id)`,
			After:       `db.Query("select ?", id)`,
		},
		Similarity: 0.82,
		Rank:       1,
	}}
	if k < len(matches) {
		matches = matches[:k]
	}
	return kb.QueryResult{Matches: matches, Version: 7}
}

func (r *fakeRetriever) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries
}

type captureSink struct {
	mu     sync.Mutex
	events []notify.ProgressEvent
}

func (c *captureSink) Publish(_ context.Context, ev notify.ProgressEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) all() []notify.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.ProgressEvent(nil), c.events...)
}

func sqlFinding() findings.Finding {
	return findings.Finding{
		Title:       "SQL injection",
		Severity:    findings.SeverityHigh,
		WeaknessID:  "CWE-89",
		Description: "user input concatenated into a SQL query",
		Location:    findings.Location{StartLine: 2, EndLine: 2},
		Confidence:  0.8,
		Snippet:     `db.Query("select " + id)`,
	}
}

func candidate(path string) findings.CandidateFile {
	content := "package app\nfunc q(id string) { db.Query(\"select \" + id) }\n// " + path + "\n"
	return findings.CandidateFile{Path: path, Language: "go", Content: content}
}
