package pipeline

import (
	"context"

	"github.com/scan-io-git/triageio/internal/cache"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/kb"
	"github.com/scan-io-git/triageio/internal/oracle"
)

// Oracle is the reasoning service as seen by the stages. Implementations never fail: problems
// surface as outcomes.
type Oracle interface {
	ScoreBatch(ctx context.Context, items []oracle.BatchItem) oracle.BatchScore
	Analyze(ctx context.Context, file findings.CandidateFile) oracle.Analysis
	SynthesizeFix(ctx context.Context, finding findings.Finding, fixCtx oracle.FixContext) (findings.PatchSuggestion, oracle.Outcome)
}

// Retriever finds historical fixes similar to a finding.
type Retriever interface {
	Query(ctx context.Context, text, snippet string, k int) kb.QueryResult
}

// FindingCache keeps analysis results across runs, keyed by content fingerprint.
type FindingCache interface {
	Get(ctx context.Context, fingerprint string) (cache.Entry, bool, error)
	Put(ctx context.Context, fingerprint string, e cache.Entry) error
}

var (
	_ Oracle       = (*oracle.Client)(nil)
	_ Retriever    = (*kb.KnowledgeBase)(nil)
	_ FindingCache = (cache.Store)(nil)
)
