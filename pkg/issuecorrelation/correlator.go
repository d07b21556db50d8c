package issuecorrelation

// IssueMetadata describes the minimal metadata required to correlate issues.
// Fields:
//   - IssueID: identifier of the issue in the caller's report, not used by correlation logic.
//   - Scanner, RuleID: identify the producer and the rule (or weakness id) behind the issue.
//   - Filename, StartLine, EndLine: location information inside a file.
//   - SnippetHash: optional code snippet fingerprint used for stronger matching.
type IssueMetadata struct {
	IssueID     string
	Scanner     string
	RuleID      string
	Severity    string
	Filename    string
	StartLine   int
	EndLine     int
	SnippetHash string
}

// Match groups a single known issue with the list of new issues that were
// correlated to it. A new issue may appear in multiple Match.New slices if it
// correlates to multiple known issues.
type Match struct {
	Known IssueMetadata
	New   []IssueMetadata
}

// Options relax the matching rules.
type Options struct {
	// IgnoreScanner matches issues produced by different tools, for example an
	// oracle finding against a static analyser result.
	IgnoreScanner bool
	// LineWindow enables a final stage that pairs issues in the same file whose
	// line ranges overlap or lie within LineWindow lines of each other. The rule
	// must agree unless one side has none.
	LineWindow int
}

// Correlator accepts slices of new and known issues and computes correlations
// between them. Use NewCorrelator to create an instance and call Process() to
// compute matches. After processing, use Matches(), UnmatchedNew() and
// UnmatchedKnown() to inspect results. The correlator preserves many-to-many
// relationships: a known issue may match multiple new issues and vice versa.
type Correlator struct {
	NewIssues   []IssueMetadata
	KnownIssues []IssueMetadata
	Options     Options

	// internal indexes populated by Process()
	knownToNew map[int][]int // known index -> list of new indices
	newToKnown map[int][]int // new index -> list of known indices

	processed bool
}

// NewCorrelator constructs a Correlator with the provided slices of new and
// known issues. The correlator is inert until Process() is called.
func NewCorrelator(newIssues, knownIssues []IssueMetadata, opts ...Options) *Correlator {
	c := &Correlator{
		NewIssues:   newIssues,
		KnownIssues: knownIssues,
	}
	if len(opts) > 0 {
		c.Options = opts[0]
	}
	return c
}

const windowStage = 5

// Process computes correlations between every known and every new issue using
// ordered stages. Once a known or new issue has been matched in an earlier
// stage it is excluded from later stages. The stages are:
// 1) scanner+ruleid+filename+startline+endline+snippethash
// 2) scanner+ruleid+filename+snippethash
// 3) scanner+ruleid+filename+startline+endline
// 4) scanner+ruleid+filename+startline
// 5) filename+line window, only when Options.LineWindow > 0
// Process is idempotent.
func (c *Correlator) Process() {
	if c.processed {
		return
	}
	c.knownToNew = make(map[int][]int)
	c.newToKnown = make(map[int][]int)

	matchedKnown := make(map[int]bool)
	matchedNew := make(map[int]bool)

	stages := []int{1, 2, 3, 4}
	if c.Options.LineWindow > 0 {
		stages = append(stages, windowStage)
	}
	for _, stage := range stages {
		matchedKnownThis := make(map[int]bool)
		matchedNewThis := make(map[int]bool)

		for ki, k := range c.KnownIssues {
			if matchedKnown[ki] {
				continue
			}
			for ni, n := range c.NewIssues {
				if matchedNew[ni] {
					continue
				}

				if c.matchStage(k, n, stage) {
					c.knownToNew[ki] = append(c.knownToNew[ki], ni)
					c.newToKnown[ni] = append(c.newToKnown[ni], ki)
					matchedKnownThis[ki] = true
					matchedNewThis[ni] = true
				}
			}
		}

		// promote this stage's matches so they are excluded from later stages
		for ki := range matchedKnownThis {
			matchedKnown[ki] = true
		}
		for ni := range matchedNewThis {
			matchedNew[ni] = true
		}
	}

	c.processed = true
}

// matchStage reports whether a and b match under the given stage.
// Stages 1-4 require a rule on both sides; the scanner must agree unless
// Options.IgnoreScanner is set.
func (c *Correlator) matchStage(a, b IssueMetadata, stage int) bool {
	if a.Filename != b.Filename {
		return false
	}
	if !c.Options.IgnoreScanner && (a.Scanner == "" || b.Scanner == "" || a.Scanner != b.Scanner) {
		return false
	}

	if stage == windowStage {
		if a.RuleID != "" && b.RuleID != "" && a.RuleID != b.RuleID {
			return false
		}
		return withinWindow(a, b, c.Options.LineWindow)
	}

	if a.RuleID == "" || b.RuleID == "" || a.RuleID != b.RuleID {
		return false
	}

	switch stage {
	case 1:
		return a.StartLine == b.StartLine && a.EndLine == b.EndLine && a.SnippetHash == b.SnippetHash
	case 2:
		return a.SnippetHash != "" && a.SnippetHash == b.SnippetHash
	case 3:
		return a.StartLine == b.StartLine && a.EndLine == b.EndLine
	case 4:
		return a.StartLine == b.StartLine
	default:
		return false
	}
}

// withinWindow reports whether the line ranges overlap or are at most window lines apart.
// Issues without a start line never match.
func withinWindow(a, b IssueMetadata, window int) bool {
	if a.StartLine <= 0 || b.StartLine <= 0 {
		return false
	}
	aEnd, bEnd := max(a.EndLine, a.StartLine), max(b.EndLine, b.StartLine)
	if a.StartLine > bEnd {
		return a.StartLine-bEnd <= window
	}
	if b.StartLine > aEnd {
		return b.StartLine-aEnd <= window
	}
	return true
}

// UnmatchedNew returns the subset of new issues that were not correlated to
// any known issue. If Process() has not yet been run it will be invoked.
func (c *Correlator) UnmatchedNew() []IssueMetadata {
	if !c.processed {
		c.Process()
	}

	var out []IssueMetadata
	for ni, n := range c.NewIssues {
		if len(c.newToKnown[ni]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// UnmatchedKnown returns the subset of known issues that were not correlated
// to any new issue. If Process() has not yet been run it will be invoked.
func (c *Correlator) UnmatchedKnown() []IssueMetadata {
	if !c.processed {
		c.Process()
	}

	var out []IssueMetadata
	for ki, k := range c.KnownIssues {
		if len(c.knownToNew[ki]) == 0 {
			out = append(out, k)
		}
	}
	return out
}

// Matches returns a slice of Match entries describing each known issue that
// had at least one correlated new issue, in known-issue order. If Process()
// has not been run it will be invoked.
func (c *Correlator) Matches() []Match {
	if !c.processed {
		c.Process()
	}

	var out []Match
	for ki, k := range c.KnownIssues {
		newIdxs := c.knownToNew[ki]
		if len(newIdxs) == 0 {
			continue
		}
		m := Match{Known: k, New: make([]IssueMetadata, 0, len(newIdxs))}
		for _, ni := range newIdxs {
			m.New = append(m.New, c.NewIssues[ni])
		}
		out = append(out, m)
	}
	return out
}
