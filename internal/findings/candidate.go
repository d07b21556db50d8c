package findings

// StaticFeatures are produced by the syntax analysis that runs before triage.
type StaticFeatures struct {
	DangerousCalls       int `json:"dangerous_calls" validate:"gte=0"`
	CyclomaticComplexity int `json:"cyclomatic_complexity" validate:"gte=0"`
	MaxNesting           int `json:"max_nesting" validate:"gte=0"`
}

// History holds version-control signals for a file.
type History struct {
	TotalModifications int `json:"total_modifications" validate:"gte=0"`
	FixModifications   int `json:"fix_modifications" validate:"gte=0"`
}

// StaticIssue is a pre-existing issue reported by a static scanner for the file.
type StaticIssue struct {
	Scanner    string `json:"scanner,omitempty"`
	RuleID     string `json:"rule_id,omitempty"`
	WeaknessID string `json:"weakness_id,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Message    string `json:"message,omitempty"`
	StartLine  int    `json:"start_line,omitempty" validate:"gte=0"`
	EndLine    int    `json:"end_line,omitempty" validate:"gte=0"`
}

// CandidateFile is one file selected for triage. Immutable once handed to the pipeline.
type CandidateFile struct {
	Path        string         `json:"path" validate:"required"`
	Language    string         `json:"language,omitempty"`
	Fingerprint string         `json:"fingerprint" validate:"required_without=Content"`
	Content     string         `json:"content,omitempty"`
	Static      StaticFeatures `json:"static"`
	History     History        `json:"history"`
	Issues      []StaticIssue  `json:"issues,omitempty" validate:"dive"`
}

// SubScores are the per-dimension risk values, each normalised to [0,1].
type SubScores struct {
	Security   float64 `json:"security"`
	Complexity float64 `json:"complexity"`
	Change     float64 `json:"change"`
	Fix        float64 `json:"fix"`
}

// RiskScore is the aggregated static risk of one file, in [0,100].
type RiskScore struct {
	File       string    `json:"file"`
	Value      float64   `json:"value"`
	Dimensions SubScores `json:"dimensions"`
}

// Stage1Source tells whether a coarse score came from the oracle or from static features.
type Stage1Source string

const (
	SourceOracle         Stage1Source = "oracle"
	SourceStaticFallback Stage1Source = "static_fallback"
)

// Stage1Result is the coarse triage outcome for one file. At most one exists per file per run.
type Stage1Result struct {
	File       string       `json:"file"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	Rationale  string       `json:"rationale,omitempty"`
	Source     Stage1Source `json:"source"`
}
