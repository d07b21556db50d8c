package findings

import "strings"

// Severity of a vulnerability finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists the valid severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity maps scanner and oracle spellings onto a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker":
		return SeverityCritical, true
	case "high", "error", "major":
		return SeverityHigh, true
	case "medium", "moderate", "warning":
		return SeverityMedium, true
	case "low", "minor", "info", "note":
		return SeverityLow, true
	default:
		return "", false
	}
}

// NormalizeSeverity is ParseSeverity with unknown values mapped to low.
func NormalizeSeverity(s string) Severity {
	if sev, ok := ParseSeverity(s); ok {
		return sev
	}
	return SeverityLow
}

// Rank orders severities, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Location is a 1-based inclusive line range.
type Location struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Finding is a vulnerability reported by deep analysis. Stage 3 may attach an Enhancement.
type Finding struct {
	ID           string       `json:"id"`
	File         string       `json:"file"`
	Title        string       `json:"title"`
	Severity     Severity     `json:"severity"`
	WeaknessID   string       `json:"weakness_id,omitempty"`
	Description  string       `json:"description"`
	Location     Location     `json:"location"`
	Confidence   float64      `json:"confidence"`
	Impact       string       `json:"impact,omitempty"`
	Remediation  string       `json:"remediation,omitempty"`
	Snippet      string       `json:"snippet,omitempty"`
	Corroborated bool         `json:"corroborated,omitempty"`
	Enhancement  *Enhancement `json:"enhancement,omitempty"`
}

// WithEnhancement returns a copy of f carrying e. The receiver is not modified.
func (f Finding) WithEnhancement(e Enhancement) Finding {
	f.Enhancement = &e
	return f
}

// PatchSuggestion is a synthesised fix. Available is false when no suggestion could be produced.
type PatchSuggestion struct {
	Available   bool     `json:"available"`
	Before      string   `json:"before,omitempty"`
	After       string   `json:"after,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	References  []string `json:"references,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// RetrievalMatch is one precedent returned by the knowledge base.
type RetrievalMatch struct {
	RecordID   string  `json:"record_id"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
	Source     string  `json:"source,omitempty"`
	WeaknessID string  `json:"weakness_id,omitempty"`
}

// Enhancement is what Stage 3 adds to a finding.
type Enhancement struct {
	Patch             PatchSuggestion  `json:"patch"`
	Matches           []RetrievalMatch `json:"matches"`
	FixPatterns       []string         `json:"fix_patterns,omitempty"`
	RetrievalDegraded bool             `json:"retrieval_degraded,omitempty"`
	IndexVersion      uint64           `json:"index_version,omitempty"`
}
