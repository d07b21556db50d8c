package template

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/triageio/internal/findings"
)

func sampleResult() *findings.Result {
	return &findings.Result{
		TaskID: "task-7",
		State:  "COMPLETED",
		Stage3Results: []findings.Finding{
			{ID: "a", File: "app/db.go", Title: "SQL injection", Severity: findings.SeverityHigh, WeaknessID: "CWE-89",
				Location: findings.Location{StartLine: 10, EndLine: 12}, Confidence: 0.9,
				Enhancement: &findings.Enhancement{Patch: findings.PatchSuggestion{Available: true, After: `db.Query("... WHERE id=?", id)`, Explanation: "use placeholders"}}},
			{ID: "b", File: "app/db.go", Title: "Verbose error", Severity: findings.SeverityLow, Location: findings.Location{StartLine: 3, EndLine: 3}},
			{ID: "c", File: "web/view.go", Title: "<script>alert(1)</script>", Severity: findings.SeverityCritical, Remediation: "escape output"},
		},
		Summary: findings.Summary{
			TotalFiles:        4,
			HighRiskFiles:     []findings.HighRiskFile{{File: "app/db.go", Score: 91.5}, {File: "web/view.go", Score: 75}},
			TotalFindings:     3,
			SeverityBreakdown: map[findings.Severity]int{findings.SeverityCritical: 1, findings.SeverityHigh: 1, findings.SeverityLow: 1},
			EnhancedFindings:  1,
			Degraded:          true,
			StaticFallback:    2,
		},
		Provenance: &findings.Provenance{Provider: "github", Repository: "octocat/app", Commit: "abc123"},
	}
}

func TestNewReportData(t *testing.T) {
	data := NewReportData(sampleResult(), "dev", time.Now())

	require.Len(t, data.Severities, 4)
	assert.Equal(t, findings.SeverityCritical, data.Severities[0].Severity)
	assert.Equal(t, 1, data.Severities[0].Count)
	assert.Equal(t, 0, data.Severities[2].Count)

	require.Len(t, data.Files, 2)
	assert.Equal(t, "app/db.go", data.Files[0].File, "highest risk first")
	require.Len(t, data.Files[0].Findings, 2)
	assert.Equal(t, "a", data.Files[0].Findings[0].ID, "most severe first")
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2024, time.March, 2, 15, 4, 5, 0, time.UTC)
	require.NoError(t, Render(&buf, sampleResult(), "1.2.3", at))
	out := buf.String()

	assert.Contains(t, out, "task-7")
	assert.Contains(t, out, "2nd March 2024 3:04:05 pm")
	assert.Contains(t, out, "triageio 1.2.3")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "This result is degraded")
	assert.Contains(t, out, "CWE-89")
	assert.Contains(t, out, "use placeholders")
	assert.Contains(t, out, "escape output")
	assert.Contains(t, out, "90%")
	assert.NotContains(t, out, "<script>alert(1)</script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &findings.Result{TaskID: "empty", State: "COMPLETED"}, "", time.Now()))
	assert.Contains(t, buf.String(), "No findings.")
	assert.NotContains(t, buf.String(), "degraded:")

	assert.Error(t, Render(&buf, nil, "", time.Now()))
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "triage.html")
	require.NoError(t, WriteReport(path, sampleResult(), "dev"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<!DOCTYPE html>")
}

func TestFormatDateTime(t *testing.T) {
	assert.Equal(t, "21st June 2023 12:00:00 am", formatDateTime(time.Date(2023, time.June, 21, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "13th June 2023 11:30:09 am", formatDateTime(time.Date(2023, time.June, 13, 11, 30, 9, 0, time.UTC)))
}
