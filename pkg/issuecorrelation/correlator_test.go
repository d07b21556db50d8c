package issuecorrelation

import (
	"testing"

	"github.com/scan-io-git/triageio/internal/findings"
)

func TestCorrelator_SnippetHashMatch(t *testing.T) {
	known := []IssueMetadata{{Scanner: "s1", RuleID: "R1", Filename: "a.go", StartLine: 3, SnippetHash: "h1"}}
	new := []IssueMetadata{{Scanner: "s1", RuleID: "R1", Filename: "a.go", StartLine: 9, SnippetHash: "h1"}}

	c := NewCorrelator(new, known)
	c.Process()

	matches := c.Matches()
	if len(matches) != 1 {
		t.Fatalf("expected 1 match got %d", len(matches))
	}
	if got := len(c.UnmatchedNew()); got != 0 {
		t.Fatalf("expected 0 unmatched new, got %d", got)
	}
}

func TestCorrelator_EmptySnippetHashDoesNotMatchAcrossLines(t *testing.T) {
	known := []IssueMetadata{{Scanner: "s1", RuleID: "R1", Filename: "a.go", StartLine: 3, EndLine: 3}}
	new := []IssueMetadata{{Scanner: "s1", RuleID: "R1", Filename: "a.go", StartLine: 40, EndLine: 41}}

	c := NewCorrelator(new, known)
	if len(c.Matches()) != 0 {
		t.Fatalf("expected no match without a snippet hash")
	}
}

func TestCorrelator_ScannerMustAgreeByDefault(t *testing.T) {
	known := []IssueMetadata{{Scanner: "semgrep", RuleID: "CWE-89", Filename: "db.go", StartLine: 10, EndLine: 12}}
	new := []IssueMetadata{{Scanner: OracleScanner, RuleID: "CWE-89", Filename: "db.go", StartLine: 10, EndLine: 12}}

	if n := len(NewCorrelator(new, known).Matches()); n != 0 {
		t.Fatalf("expected scanners to keep issues apart, got %d matches", n)
	}
	if n := len(NewCorrelator(new, known, Options{IgnoreScanner: true}).Matches()); n != 1 {
		t.Fatalf("expected a match when scanners are ignored, got %d", n)
	}
}

func TestCorrelator_LineWindow(t *testing.T) {
	known := []IssueMetadata{
		{Scanner: "semgrep", RuleID: "CWE-89", Filename: "db.go", StartLine: 10, EndLine: 12},
		{Scanner: "semgrep", RuleID: "", Filename: "db.go", StartLine: 80, EndLine: 80},
	}
	new := []IssueMetadata{
		{IssueID: "near", Scanner: OracleScanner, RuleID: "CWE-89", Filename: "db.go", StartLine: 14, EndLine: 15},
		{IssueID: "other-rule", Scanner: OracleScanner, RuleID: "CWE-79", Filename: "db.go", StartLine: 11, EndLine: 11},
		{IssueID: "far", Scanner: OracleScanner, RuleID: "CWE-89", Filename: "db.go", StartLine: 40, EndLine: 40},
		{IssueID: "no-rule", Scanner: OracleScanner, RuleID: "CWE-22", Filename: "db.go", StartLine: 78, EndLine: 79},
	}

	c := NewCorrelator(new, known, Options{IgnoreScanner: true, LineWindow: 3})
	got := map[string]bool{}
	for _, m := range c.Matches() {
		for _, n := range m.New {
			got[n.IssueID] = true
		}
	}
	want := map[string]bool{"near": true, "no-rule": true}
	if len(got) != len(want) {
		t.Fatalf("matched %v, want %v", got, want)
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("expected %q to be matched, got %v", id, got)
		}
	}
	if n := len(c.UnmatchedKnown()); n != 0 {
		t.Fatalf("expected every known issue matched, got %d unmatched", n)
	}
}

func TestCorrelator_EarlierStageWins(t *testing.T) {
	// the exact duplicate is claimed in stage 1, so the shifted copy stays unmatched
	known := []IssueMetadata{{Scanner: "sx", RuleID: "Rx", Filename: "h.go", StartLine: 5, EndLine: 7, SnippetHash: "shx"}}
	new := []IssueMetadata{
		{Scanner: "sx", RuleID: "Rx", Filename: "h.go", StartLine: 5, EndLine: 7, SnippetHash: "shx"},
		{Scanner: "sx", RuleID: "Rx", Filename: "h.go", StartLine: 50, EndLine: 52, SnippetHash: "shx"},
	}

	c := NewCorrelator(new, known, Options{LineWindow: 100})
	matches := c.Matches()
	if len(matches) != 1 || len(matches[0].New) != 1 {
		t.Fatalf("expected the known issue to match only the exact new issue, got %+v", matches)
	}
	if len(c.UnmatchedNew()) != 1 {
		t.Fatalf("expected 1 unmatched new issue, got %d", len(c.UnmatchedNew()))
	}
}

func TestCorrelateFile(t *testing.T) {
	file := findings.CandidateFile{
		Path:    "app/db.go",
		Content: "package app\n\nfunc q(id string) {\n\tdb.Query(\"select \" + id)\n}\n",
		Issues: []findings.StaticIssue{
			{Scanner: "gosec", RuleID: "G202", WeaknessID: "CWE-89", StartLine: 4, EndLine: 4},
			{Scanner: "gosec", RuleID: "G401", WeaknessID: "CWE-328", StartLine: 5, EndLine: 5},
		},
	}
	fs := []findings.Finding{
		{ID: "a", File: file.Path, WeaknessID: "CWE-89", Location: findings.Location{StartLine: 4, EndLine: 4}},
		{ID: "b", File: file.Path, WeaknessID: "CWE-79", Location: findings.Location{StartLine: 1, EndLine: 1}},
	}

	got := CorrelateFile(file, fs, 3)
	if !got.Corroborated["a"] || got.Corroborated["b"] || len(got.Corroborated) != 1 {
		t.Fatalf("unexpected corroboration %v", got.Corroborated)
	}
	if len(got.Unconfirmed) != 1 || got.Unconfirmed[0].IssueID != "G401" {
		t.Fatalf("expected G401 to stay unconfirmed, got %+v", got.Unconfirmed)
	}
	if got.Novel != 1 {
		t.Fatalf("expected 1 novel finding, got %d", got.Novel)
	}
}

func TestCorrelateFileWithOneSideEmpty(t *testing.T) {
	fs := []findings.Finding{{ID: "a", File: "x.go", WeaknessID: "CWE-89", Location: findings.Location{StartLine: 1}}}
	got := CorrelateFile(findings.CandidateFile{Path: "x.go"}, fs, 3)
	if len(got.Corroborated) != 0 || len(got.Unconfirmed) != 0 || got.Novel != 1 {
		t.Fatalf("files without static issues corroborate nothing, got %+v", got)
	}

	file := findings.CandidateFile{Path: "x.go", Issues: []findings.StaticIssue{{Scanner: "gosec", RuleID: "G101", StartLine: 2}}}
	got = CorrelateFile(file, nil, 3)
	if len(got.Unconfirmed) != 1 || got.Novel != 0 {
		t.Fatalf("without findings every static issue is unconfirmed, got %+v", got)
	}
}
