// Package kb is the vector knowledge base of historical vulnerability fixes.
//
// A Snapshot bundles the records with a random-hyperplane ANN index over their embeddings and a
// lexical inverted index. Snapshots are immutable; KnowledgeBase publishes the active one behind an
// atomic pointer so rebuilds never block or tear concurrent queries.
package kb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/metrics"
)

const (
	// DefaultK is the number of matches returned when the caller passes k <= 0.
	DefaultK = 5

	semanticWeight = 0.7
	lexicalWeight  = 0.3
	// vector candidates considered per requested match
	candidateFactor = 3

	defaultEmbedBatch = 50
)

var snapshotVersion atomic.Uint64

// Snapshot is an immutable, queryable build of the index.
type Snapshot struct {
	Version  uint64
	BuiltAt  time.Time
	Embedder string
	Dims     int
	LSH      LSHOptions

	records []Record
	ann     *lshIndex
	lexical *lexicalIndex
}

// Len is the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns the records. Callers must not modify them.
func (s *Snapshot) Records() []Record {
	if s == nil {
		return nil
	}
	return s.records
}

// VectorCount is the number of records present in the ANN index.
func (s *Snapshot) VectorCount() int {
	if s == nil || s.ann == nil {
		return 0
	}
	return s.ann.size
}

// BuildOptions tunes Build.
type BuildOptions struct {
	LSH       LSHOptions
	BatchSize int
	Logger    hclog.Logger
}

// Build embeds records and indexes them. Records whose embedding fails stay searchable lexically.
// A nil embedder produces a lexical-only snapshot.
func Build(ctx context.Context, records []Record, embedder Embedder, opts BuildOptions) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultEmbedBatch
	}

	recs := make([]Record, len(records))
	for i, r := range records {
		recs[i] = r.withKeywords()
	}

	name := ""
	if embedder != nil {
		name = embedder.Name()
		var pending []int
		for i := range recs {
			if len(recs[i].Embedding) == 0 {
				pending = append(pending, i)
			}
		}
		for start := 0; start < len(pending); start += batch {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("knowledge base build cancelled: %w", err)
			}
			end := min(start+batch, len(pending))
			texts := make([]string, 0, end-start)
			for _, pos := range pending[start:end] {
				texts = append(texts, recs[pos].EmbeddingText())
			}
			vectors, err := embedder.Embed(ctx, texts)
			if err != nil {
				logger.Warn("embedding batch failed, records stay lexical-only", "from", start, "to", end, "error", err)
				continue
			}
			for j, pos := range pending[start:end] {
				recs[pos].Embedding = vectors[j]
			}
		}
	}

	return newSnapshot(recs, name, opts.LSH), nil
}

// newSnapshot indexes records as they are, using their stored embeddings.
func newSnapshot(recs []Record, embedderName string, lsh LSHOptions) *Snapshot {
	dims := 0
	for _, r := range recs {
		if len(r.Embedding) > 0 {
			dims = len(r.Embedding)
			break
		}
	}
	vectors := make([][]float32, len(recs))
	for i, r := range recs {
		if dims > 0 && len(r.Embedding) == dims {
			vectors[i] = r.Embedding
		}
	}

	lsh = lsh.withDefaults()
	return &Snapshot{
		Version:  snapshotVersion.Add(1),
		BuiltAt:  time.Now().UTC(),
		Embedder: embedderName,
		Dims:     dims,
		LSH:      lsh,
		records:  recs,
		ann:      newLSHIndex(vectors, dims, lsh),
		lexical:  newLexicalIndex(recs),
	}
}

// Match is a retrieved record with its combined similarity.
type Match struct {
	Record     Record
	Similarity float64
	Rank       int
}

// QueryResult is the outcome of a Query. Degraded means the vector path was unavailable and only
// lexical matching contributed.
type QueryResult struct {
	Matches  []Match
	Degraded bool
	Version  uint64
}

// RetrievalMatches converts matches to the finding model.
func (q QueryResult) RetrievalMatches() []findings.RetrievalMatch {
	out := make([]findings.RetrievalMatch, 0, len(q.Matches))
	for _, m := range q.Matches {
		out = append(out, findings.RetrievalMatch{
			RecordID:   m.Record.ID,
			Similarity: m.Similarity,
			Rank:       m.Rank,
			Source:     m.Record.Source,
			WeaknessID: m.Record.WeaknessID,
		})
	}
	return out
}

// MatchedRecords returns the records behind the matches in rank order.
func (q QueryResult) MatchedRecords() []Record {
	out := make([]Record, 0, len(q.Matches))
	for _, m := range q.Matches {
		out = append(out, m.Record)
	}
	return out
}

// KnowledgeBase serves queries against the active snapshot.
type KnowledgeBase struct {
	embedder Embedder
	logger   hclog.Logger
	current  atomic.Pointer[Snapshot]
}

// New creates an empty knowledge base that embeds queries with embedder.
func New(embedder Embedder, logger hclog.Logger) *KnowledgeBase {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &KnowledgeBase{embedder: embedder, logger: logger}
}

// Current returns the active snapshot, nil before the first Swap.
func (kb *KnowledgeBase) Current() *Snapshot {
	return kb.current.Load()
}

// Swap publishes s and returns the previous snapshot. Queries in flight keep using the snapshot they started with.
func (kb *KnowledgeBase) Swap(s *Snapshot) *Snapshot {
	old := kb.current.Swap(s)
	metrics.SetKBRecords(s.Len())
	if s != nil {
		kb.logger.Info("knowledge base snapshot activated", "version", s.Version, "records", s.Len(), "vectors", s.VectorCount())
	}
	return old
}

// Rebuild builds a snapshot from records with the knowledge base embedder and swaps it in.
func (kb *KnowledgeBase) Rebuild(ctx context.Context, records []Record, opts BuildOptions) (*Snapshot, error) {
	if opts.Logger == nil {
		opts.Logger = kb.logger
	}
	s, err := Build(ctx, records, kb.embedder, opts)
	if err != nil {
		return nil, err
	}
	kb.Swap(s)
	return s, nil
}

// Query returns at most k records most similar to the text and snippet, sorted by descending
// similarity in [0,1]. It never fails: an empty index yields no matches, and an unusable vector
// path yields lexical-only matches flagged as degraded.
func (kb *KnowledgeBase) Query(ctx context.Context, text, snippet string, k int) QueryResult {
	start := time.Now()
	if k <= 0 {
		k = DefaultK
	}
	res := QueryResult{Matches: []Match{}}
	snap := kb.Current()
	defer func() { metrics.ObserveKBQuery(res.Degraded, time.Since(start)) }()

	if snap.Len() == 0 {
		return res
	}
	res.Version = snap.Version

	query := joinNonEmpty(text, snippet)
	if strings.TrimSpace(query) == "" {
		return res
	}

	lexical := snap.lexical.score(termSet(query))
	semantic, err := kb.semantic(ctx, snap, query, candidateFactor*k)
	if err != nil {
		kb.logger.Debug("vector retrieval unavailable, using lexical matching only", "error", err)
		res.Degraded = true
	}

	scores := make(map[int]float64, len(semantic)+len(lexical))
	if res.Degraded {
		for pos, l := range lexical {
			scores[pos] = l
		}
	} else {
		for pos, s := range semantic {
			scores[pos] = semanticWeight * s
		}
		for pos, l := range lexical {
			scores[pos] += lexicalWeight * l
		}
	}

	res.Matches = rank(snap.records, scores, k)
	return res
}

// semantic returns clamped cosine similarities for the top n vector candidates.
func (kb *KnowledgeBase) semantic(ctx context.Context, snap *Snapshot, query string, n int) (map[int]float64, error) {
	if snap.ann.empty() {
		return nil, fmt.Errorf("vector index is empty")
	}
	if kb.embedder == nil {
		return nil, fmt.Errorf("no query embedder configured")
	}
	if snap.Embedder != "" && snap.Embedder != kb.embedder.Name() {
		return nil, fmt.Errorf("snapshot built with %q, queries use %q", snap.Embedder, kb.embedder.Name())
	}
	vecs, err := kb.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) != snap.Dims {
		return nil, fmt.Errorf("query embedding has unexpected shape")
	}
	q := vecs[0]

	cands := snap.ann.candidates(q)
	if len(cands) < n {
		cands = cands[:0]
		for pos, r := range snap.records {
			if len(r.Embedding) == snap.Dims {
				cands = append(cands, pos)
			}
		}
	}

	type scored struct {
		pos int
		sim float64
	}
	all := make([]scored, 0, len(cands))
	for _, pos := range cands {
		sim := clampUnit(cosine(q, snap.records[pos].Embedding))
		if sim > 0 {
			all = append(all, scored{pos: pos, sim: sim})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].sim != all[j].sim {
			return all[i].sim > all[j].sim
		}
		return all[i].pos < all[j].pos
	})
	if len(all) > n {
		all = all[:n]
	}

	out := make(map[int]float64, len(all))
	for _, s := range all {
		out[s.pos] = s.sim
	}
	return out, nil
}

// rank dedupes by record id keeping the best score, sorts descending and truncates to k.
func rank(records []Record, scores map[int]float64, k int) []Match {
	best := map[string]Match{}
	for pos, score := range scores {
		score = clampUnit(score)
		if score <= 0 {
			continue
		}
		r := records[pos]
		if cur, ok := best[r.ID]; ok && cur.Similarity >= score {
			continue
		}
		best[r.ID] = Match{Record: r, Similarity: score}
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
