package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/scan-io-git/triageio/internal/findings"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// Outcome tags how an oracle response was understood.
type Outcome string

const (
	Parsed          Outcome = "parsed"
	PartiallyParsed Outcome = "partial"
	Unparseable     Outcome = "unparseable"
	// Unavailable means no response was obtained: retries exhausted, circuit open or no backend.
	Unavailable Outcome = "unavailable"
)

// Usable reports whether the outcome carries data.
func (o Outcome) Usable() bool {
	return o == Parsed || o == PartiallyParsed
}

const defaultConfidence = 0.5

// extractJSON returns the text between the first '{' and the last '}'.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", shared.ErrMalformedOutput)
	}
	return text[start : end+1], nil
}

func decodeObject(text string, v interface{}) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMalformedOutput, err)
	}
	return nil
}

type batchEntry struct {
	File       string   `json:"file"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// batchPayload keeps entries raw so one malformed entry does not spoil the batch.
type batchPayload struct {
	Scores []json.RawMessage `json:"scores"`
}

// parseBatch matches the response against the requested paths.
func parseBatch(text string, requested []string) BatchScore {
	res := BatchScore{Scores: map[string]PerFileScore{}}

	var payload batchPayload
	if err := decodeObject(text, &payload); err != nil {
		res.Outcome = Unparseable
		res.Reason = err.Error()
		res.Missing = append([]string(nil), requested...)
		return res
	}

	want := make(map[string]struct{}, len(requested))
	for _, p := range requested {
		want[p] = struct{}{}
	}
	invalid := 0
	for _, raw := range payload.Scores {
		var entry batchEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			invalid++
			continue
		}
		if _, ok := want[entry.File]; !ok {
			res.Unknown = append(res.Unknown, entry.File)
			continue
		}
		if _, dup := res.Scores[entry.File]; dup {
			continue
		}
		if entry.Score == nil || math.IsNaN(*entry.Score) {
			invalid++
			continue
		}
		conf := defaultConfidence
		if entry.Confidence != nil && !math.IsNaN(*entry.Confidence) {
			conf = clamp(*entry.Confidence, 0, 1)
		}
		res.Scores[entry.File] = PerFileScore{
			File:       entry.File,
			Score:      clamp(*entry.Score, 0, 100),
			Confidence: conf,
			Rationale:  strings.TrimSpace(entry.Rationale),
		}
	}
	for _, p := range requested {
		if _, ok := res.Scores[p]; !ok {
			res.Missing = append(res.Missing, p)
		}
	}

	res.Outcome = Parsed
	if len(res.Missing) > 0 {
		res.Outcome = PartiallyParsed
		res.Reason = fmt.Sprintf("%d of %d files missing from response (%d invalid entries)", len(res.Missing), len(requested), invalid)
	}
	return res
}

type analysisEntry struct {
	Title       string        `json:"title"`
	Severity    string        `json:"severity"`
	CWEID       string        `json:"cwe_id"`
	Description string        `json:"description"`
	Location    entryLocation `json:"location"`
	CodeSnippet string        `json:"code_snippet"`
	Impact      string        `json:"impact"`
	Remediation string        `json:"remediation"`
	Confidence  *float64      `json:"confidence"`
}

type entryLocation struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

type analysisPayload struct {
	Vulnerabilities []analysisEntry `json:"vulnerabilities"`
}

// parseAnalysis converts the response into findings for file. Entries without a title and
// description are dropped and make the outcome partial.
func parseAnalysis(text string, file findings.CandidateFile) Analysis {
	var payload analysisPayload
	if err := decodeObject(text, &payload); err != nil {
		return Analysis{Outcome: Unparseable, Reason: err.Error()}
	}

	lines := countLines(file.Content)
	res := Analysis{Outcome: Parsed, Findings: []findings.Finding{}}
	dropped := 0
	for _, v := range payload.Vulnerabilities {
		title := strings.TrimSpace(v.Title)
		if title == "" && strings.TrimSpace(v.Description) == "" {
			dropped++
			continue
		}
		if title == "" {
			title = "Unnamed vulnerability"
		}
		conf := defaultConfidence
		if v.Confidence != nil && !math.IsNaN(*v.Confidence) {
			conf = clamp(*v.Confidence, 0, 1)
		}
		res.Findings = append(res.Findings, findings.Finding{
			File:        file.Path,
			Title:       title,
			Severity:    findings.NormalizeSeverity(v.Severity),
			WeaknessID:  normaliseCWE(v.CWEID),
			Description: strings.TrimSpace(v.Description),
			Location:    clampLocation(v.Location.StartLine, v.Location.EndLine, lines),
			Confidence:  conf,
			Impact:      strings.TrimSpace(v.Impact),
			Remediation: strings.TrimSpace(v.Remediation),
			Snippet:     v.CodeSnippet,
		})
	}
	if dropped > 0 {
		res.Outcome = PartiallyParsed
		res.Reason = fmt.Sprintf("%d malformed entries dropped", dropped)
	}
	return res
}

type fixPayload struct {
	Before      string   `json:"before"`
	After       string   `json:"after"`
	Explanation string   `json:"explanation"`
	References  []string `json:"references"`
}

const noSuggestion = "no suggestion"

func parseFix(text string) (findings.PatchSuggestion, Outcome) {
	var payload fixPayload
	if err := decodeObject(text, &payload); err != nil {
		return findings.PatchSuggestion{Available: false, Explanation: noSuggestion}, Unparseable
	}
	if strings.TrimSpace(payload.After) == "" {
		return findings.PatchSuggestion{Available: false, Explanation: noSuggestion}, Parsed
	}
	return findings.PatchSuggestion{
		Available:   true,
		Before:      payload.Before,
		After:       payload.After,
		Explanation: strings.TrimSpace(payload.Explanation),
		References:  payload.References,
	}, Parsed
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// clampLocation keeps lines 1-based, ordered and inside the file when its length is known.
func clampLocation(start, end, lines int) findings.Location {
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if lines > 0 {
		if start > lines {
			start = lines
		}
		if end > lines {
			end = lines
		}
	}
	return findings.Location{StartLine: start, EndLine: end}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func normaliseCWE(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" || strings.Contains(id, "XXX") {
		return ""
	}
	if !strings.HasPrefix(id, "CWE-") {
		id = "CWE-" + strings.TrimPrefix(id, "CWE")
	}
	return id
}
