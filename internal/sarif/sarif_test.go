package sarif

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/triageio/internal/findings"
)

func sampleResult() *findings.Result {
	return &findings.Result{
		TaskID: "t1",
		State:  "COMPLETED",
		Stage3Results: []findings.Finding{
			{
				ID:          "low-1",
				File:        "app/util.go",
				Title:       "Weak hash",
				Severity:    findings.SeverityLow,
				WeaknessID:  "CWE-328",
				Description: "md5 used for passwords",
				Location:    findings.Location{StartLine: 4},
			},
			{
				ID:          "high-1",
				File:        "app/db.go",
				Title:       "SQL injection",
				Severity:    findings.SeverityHigh,
				WeaknessID:  "CWE-89",
				Description: "query built by concatenation",
				Location:    findings.Location{StartLine: 10, EndLine: 12},
				Confidence:  0.9,
				Enhancement: &findings.Enhancement{
					Patch:   findings.PatchSuggestion{Available: true, Before: "a", After: "b", References: []string{"CVE-1#x#0"}},
					Matches: []findings.RetrievalMatch{{RecordID: "CVE-1#x#0", Similarity: 0.8, Rank: 1}},
				},
			},
			{
				ID:         "high-2",
				File:       "app/api.go",
				Title:      "SQL injection",
				Severity:   findings.SeverityCritical,
				WeaknessID: "CWE-89",
			},
		},
	}
}

func TestFromResult(t *testing.T) {
	report, err := FromResult(sampleResult(), "1.2.3")
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)
	run := report.Runs[0]

	assert.Equal(t, ToolName, run.Tool.Driver.Name)
	require.NotNil(t, run.Tool.Driver.SemanticVersion)
	assert.Equal(t, "1.2.3", *run.Tool.Driver.SemanticVersion)

	require.Len(t, run.Tool.Driver.Rules, 2, "findings sharing a weakness share a rule")
	for _, rule := range run.Tool.Driver.Rules {
		if rule.ID == "CWE-89" {
			assert.Equal(t, "error", rule.DefaultConfiguration.Level)
		}
	}

	require.Len(t, run.Results, 3)
	assert.Equal(t, "error", *run.Results[0].Level, "results are ordered by level")
	assert.Equal(t, "note", *run.Results[2].Level)

	first := run.Results[0]
	assert.Equal(t, "CWE-89", *first.RuleID)
	loc := first.Locations[0].PhysicalLocation
	assert.Equal(t, "app/db.go", *loc.ArtifactLocation.URI)
	assert.Equal(t, 10, *loc.Region.StartLine)
	assert.Equal(t, 12, *loc.Region.EndLine)
	assert.Equal(t, "SQL injection: query built by concatenation", *first.Message.Text)
	assert.Equal(t, "high-1", first.Properties["id"])
	assert.Equal(t, []string{"CVE-1#x#0"}, first.Properties["precedents"])
	assert.Contains(t, first.Properties, "patch")

	assert.Equal(t, map[string]int{"error": 2, "warning": 0, "note": 1, "total": 3}, report.CollectSeverityInfo())
}

func TestFromEmptyResult(t *testing.T) {
	report, err := FromResult(&findings.Result{}, "")
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)
	assert.Empty(t, report.Runs[0].Results)
	assert.Nil(t, report.Runs[0].Tool.Driver.SemanticVersion)
}

func TestFromResultCarriesProvenance(t *testing.T) {
	res := sampleResult()
	res.Provenance = &findings.Provenance{Provider: "gitlab", Repository: "group/app", Commit: "abc123", Ref: "refs/heads/main"}

	report, err := FromResult(res, "dev")
	require.NoError(t, err)
	props := report.Runs[0].Properties
	assert.Equal(t, "gitlab", props["provider"])
	assert.Equal(t, "abc123", props["commit"])
	assert.Equal(t, "refs/heads/main", props["ref"])

	plain, err := FromResult(sampleResult(), "dev")
	require.NoError(t, err)
	assert.Empty(t, plain.Runs[0].Properties)
}

func TestWriteAndReadBack(t *testing.T) {
	report, err := FromResult(sampleResult(), "dev")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "triage.sarif")
	require.NoError(t, report.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2.1.0", raw["version"])

	read, err := ReadReport(path, nil, "", false)
	require.NoError(t, err)
	issues := read.StaticIssues()
	require.Len(t, issues["app/db.go"], 1)
	got := issues["app/db.go"][0]
	assert.Equal(t, ToolName, got.Scanner)
	assert.Equal(t, "CWE-89", got.RuleID)
	assert.Equal(t, "CWE-89", got.WeaknessID)
	assert.Equal(t, "error", got.Severity)
	assert.Equal(t, 10, got.StartLine)
	assert.Equal(t, 12, got.EndLine)
}

const codeqlReport = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "CodeQL", "rules": [
      {"id": "go/sql-injection", "properties": {"problem.severity": "error", "tags": ["security", "external/cwe/cwe-089"]}},
      {"id": "go/unused", "defaultConfiguration": {"level": "note"}}
    ]}},
    "results": [
      {"ruleId": "go/sql-injection", "message": {"text": "query depends on user input"},
       "locations": [{"physicalLocation": {"artifactLocation": {"uri": "/src/repo/app/db.go"}, "region": {"startLine": 11}}}]},
      {"ruleId": "go/unused", "message": {"text": "unused"},
       "locations": [{"physicalLocation": {"artifactLocation": {"uri": "app/db.go"}, "region": {"startLine": 3}}}]},
      {"ruleId": "go/unused", "message": {"text": "suppressed"}, "suppressions": [{"kind": "inSource"}],
       "locations": [{"physicalLocation": {"artifactLocation": {"uri": "app/other.go"}, "region": {"startLine": 1}}}]},
      {"ruleId": "go/unused", "message": {"text": "no location"}}
    ]
  }]
}`

func TestStaticIssuesFromScannerReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codeql.sarif")
	require.NoError(t, os.WriteFile(path, []byte(codeqlReport), 0o644))

	report, err := ReadReport(path, nil, "/src/repo", true)
	require.NoError(t, err)
	issues := report.StaticIssues()

	assert.NotContains(t, issues, "app/other.go", "suppressed results are dropped")
	require.Len(t, issues["app/db.go"], 2)

	injection := issues["app/db.go"][0]
	assert.Equal(t, "CodeQL", injection.Scanner)
	assert.Equal(t, "go/sql-injection", injection.RuleID)
	assert.Equal(t, "CWE-89", injection.WeaknessID)
	assert.Equal(t, "error", injection.Severity)
	assert.Equal(t, 11, injection.StartLine)
	assert.Equal(t, 11, injection.EndLine)

	unused := issues["app/db.go"][1]
	assert.Equal(t, "note", unused.Severity)
	assert.Empty(t, unused.WeaknessID)

	candidates := []findings.CandidateFile{{Path: "app/db.go"}, {Path: "app/none.go"}}
	assert.Equal(t, 1, AttachIssues(candidates, issues))
	require.Len(t, candidates[0].Issues, 2)
	assert.Equal(t, 3, candidates[0].Issues[0].StartLine, "issues are ordered by line")
	assert.Empty(t, candidates[1].Issues)
}

func TestReadReportErrors(t *testing.T) {
	_, err := ReadReport(filepath.Join(t.TempDir(), "missing.sarif"), nil, "", false)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.sarif")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = ReadReport(path, nil, "", false)
	assert.ErrorContains(t, err, "failed to parse SARIF report")
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, "error", LevelFor(findings.SeverityCritical))
	assert.Equal(t, "error", LevelFor(findings.SeverityHigh))
	assert.Equal(t, "warning", LevelFor(findings.SeverityMedium))
	assert.Equal(t, "note", LevelFor(findings.SeverityLow))
	assert.Equal(t, "note", LevelFor(""))
}
