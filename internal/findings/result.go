package findings

// AnalysisStatus is the outcome of deep analysis for one file.
type AnalysisStatus string

const (
	AnalysisOK     AnalysisStatus = "ok"
	AnalysisFailed AnalysisStatus = "analysis_failed"
)

// FileAnalysis is the Stage 2 result for one file.
type FileAnalysis struct {
	File     string         `json:"file"`
	Status   AnalysisStatus `json:"status"`
	Findings []Finding      `json:"findings"`
	Reason   string         `json:"reason,omitempty"`
	Cached   bool           `json:"cached,omitempty"`
}

// ItemError is a per-item failure recorded on the task. It never aborts a run.
type ItemError struct {
	Stage   string `json:"stage"`
	File    string `json:"file,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Kinds of ItemError.
const (
	ErrKindOracleUnavailable = "oracle_unavailable"
	ErrKindMalformedOutput   = "malformed_output"
	ErrKindAnalysisFailed    = "analysis_failed"
	ErrKindRetrievalDegraded = "retrieval_degraded"
	ErrKindNoSuggestion      = "no_suggestion"
	ErrKindCache             = "cache"
)

// HighRiskFile is a file that passed the Stage 1 gate.
type HighRiskFile struct {
	File   string       `json:"file"`
	Score  float64      `json:"score"`
	Source Stage1Source `json:"source"`
}

// IssueCount is a title with its number of occurrences.
type IssueCount struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

// Summary aggregates a run.
type Summary struct {
	TotalFiles              int              `json:"total_files"`
	HighRiskFiles           []HighRiskFile   `json:"high_risk_files"`
	OracleScored            int              `json:"oracle_scored"`
	StaticFallback          int              `json:"static_fallback"`
	FilesAnalyzed           int              `json:"files_analyzed"`
	FilesFromCache          int              `json:"files_from_cache"`
	FilesFailed             int              `json:"files_failed"`
	TotalFindings           int              `json:"total_findings"`
	SeverityBreakdown       map[Severity]int `json:"severity_breakdown"`
	WeaknessDistribution    map[string]int   `json:"weakness_distribution"`
	MostCommonIssues        []IssueCount     `json:"most_common_issues"`
	EnhancedFindings        int              `json:"enhanced_findings"`
	UnenhancedFindings      int              `json:"unenhanced_findings"`
	CorroboratedFindings    int              `json:"corroborated_findings"`
	UnconfirmedStaticIssues int              `json:"unconfirmed_static_issues"`
	NovelFindings           int              `json:"novel_findings"`
	RetrievalDegraded       int              `json:"retrieval_degraded"`
	Degraded                bool             `json:"degraded"`
	Cancelled               bool             `json:"cancelled"`
}

// Provenance names the revision a run covered when it ran inside CI.
type Provenance struct {
	Provider      string `json:"provider"`
	Repository    string `json:"repository,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`
	Commit        string `json:"commit,omitempty"`
	Ref           string `json:"ref,omitempty"`
	PullRequest   string `json:"pull_request,omitempty"`
}

// Result is the aggregate output of one pipeline run.
type Result struct {
	TaskID        string         `json:"task_id"`
	State         string         `json:"state"`
	Provenance    *Provenance    `json:"provenance,omitempty"`
	Stage1Results []Stage1Result `json:"stage1_results"`
	Stage2Results []FileAnalysis `json:"stage2_results"`
	Stage3Results []Finding      `json:"stage3_results"`
	Summary       Summary        `json:"summary"`
	Errors        []ItemError    `json:"errors,omitempty"`
}
