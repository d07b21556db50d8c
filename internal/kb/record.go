package kb

import (
	"regexp"
	"sort"
	"strings"
)

// Record is one historical vulnerability fix.
type Record struct {
	ID                    string    `json:"id"`
	Description           string    `json:"description"`
	WeaknessID            string    `json:"weakness_id,omitempty"`
	Severity              string    `json:"severity,omitempty"`
	Language              string    `json:"language,omitempty"`
	Source                string    `json:"source,omitempty"`
	Before                string    `json:"before,omitempty"`
	After                 string    `json:"after,omitempty"`
	CommitMessage         string    `json:"commit_message,omitempty"`
	VulnerabilityKeywords []string  `json:"vulnerability_keywords,omitempty"`
	FixKeywords           []string  `json:"fix_keywords,omitempty"`
	Embedding             []float32 `json:"embedding,omitempty"`
}

// EmbeddingText is the text a record is embedded from.
func (r Record) EmbeddingText() string {
	return joinNonEmpty(r.Description, r.Before)
}

// lexicalText is the text the lexical index is built from.
func (r Record) lexicalText() string {
	parts := []string{r.Description, r.WeaknessID, r.Before}
	parts = append(parts, r.VulnerabilityKeywords...)
	parts = append(parts, r.FixKeywords...)
	return joinNonEmpty(parts...)
}

var (
	vulnerabilityKeywords = []string{
		"injection", "xss", "overflow", "traversal", "authentication", "authorization",
		"deserialization", "csrf", "ssrf", "race", "use-after-free", "null pointer",
	}
	fixKeywords = []string{"validate", "sanitize", "escape", "check", "verify", "filter", "encode", "bounds"}

	funcCallPattern = regexp.MustCompile(`([A-Za-z_]\w*)\s*\(`)
)

// ExtractVulnerabilityKeywords finds known vulnerability classes in the description and
// up to three function calls from the vulnerable code.
func ExtractVulnerabilityKeywords(description, before string) []string {
	set := map[string]struct{}{}
	lower := strings.ToLower(description)
	for _, kw := range vulnerabilityKeywords {
		if strings.Contains(lower, kw) {
			set[kw] = struct{}{}
		}
	}
	for i, m := range funcCallPattern.FindAllStringSubmatch(before, -1) {
		if i == 3 {
			break
		}
		set[m[1]] = struct{}{}
	}
	return sortedKeys(set)
}

// ExtractFixKeywords finds remediation verbs in the commit message and classifies the fixed code.
func ExtractFixKeywords(commitMessage, after string) []string {
	set := map[string]struct{}{}
	lower := strings.ToLower(commitMessage)
	for _, kw := range fixKeywords {
		if strings.Contains(lower, kw) {
			set[kw] = struct{}{}
		}
	}
	if strings.Contains(after, "validate") || strings.Contains(after, "check") {
		set["input_validation"] = struct{}{}
	}
	if strings.Contains(after, "escape") || strings.Contains(after, "sanitize") {
		set["output_encoding"] = struct{}{}
	}
	return sortedKeys(set)
}

// withKeywords fills missing keyword lists.
func (r Record) withKeywords() Record {
	if len(r.VulnerabilityKeywords) == 0 {
		r.VulnerabilityKeywords = ExtractVulnerabilityKeywords(r.Description, r.Before)
	}
	if len(r.FixKeywords) == 0 {
		r.FixKeywords = ExtractFixKeywords(r.CommitMessage, r.After)
	}
	return r
}

// fixDirections maps keywords onto remediation advice handed to fix synthesis.
var fixDirections = []struct {
	keyword string
	advice  string
}{
	{"input_validation", "strengthen input validation and data checks"},
	{"validate", "strengthen input validation and data checks"},
	{"sanitize", "sanitize and filter user-controlled input"},
	{"output_encoding", "encode output for the target context"},
	{"escape", "escape special characters before use"},
	{"encode", "encode output for the target context"},
	{"authentication", "harden the authentication path"},
	{"authorization", "enforce authorization and access checks"},
	{"bounds", "add bounds checks before memory access"},
	{"overflow", "add bounds checks before memory access"},
	{"injection", "use parameterised APIs instead of string building"},
	{"xss", "apply context-aware output encoding"},
	{"traversal", "canonicalise and confine file paths"},
}

// CommonFixPatterns returns up to three remediation directions most frequent among records.
func CommonFixPatterns(records []Record) []string {
	counts := map[string]int{}
	first := map[string]int{}
	for _, r := range records {
		seen := map[string]struct{}{}
		for _, kw := range append(append([]string{}, r.FixKeywords...), r.VulnerabilityKeywords...) {
			for i, d := range fixDirections {
				if d.keyword != kw {
					continue
				}
				if _, ok := seen[d.advice]; ok {
					continue
				}
				seen[d.advice] = struct{}{}
				counts[d.advice]++
				if _, ok := first[d.advice]; !ok {
					first[d.advice] = i
				}
			}
		}
	}

	out := make([]string, 0, len(counts))
	for advice := range counts {
		out = append(out, advice)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return first[out[i]] < first[out[j]]
	})
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joinNonEmpty(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p)
	}
	return b.String()
}
