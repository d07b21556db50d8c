// Package template renders a triage result as a standalone HTML report.
package template

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

//go:embed report.html
var reportTemplate string

// ReportData is what the report template is executed with.
type ReportData struct {
	Result      *findings.Result
	GeneratedAt time.Time
	ToolVersion string
	Severities  []SeverityCount
	Files       []FileSection
}

// SeverityCount is one row of the severity table.
type SeverityCount struct {
	Severity findings.Severity
	Count    int
}

// FileSection groups the findings of one file, most severe first.
type FileSection struct {
	File     string
	Score    float64
	Findings []findings.Finding
}

// add adds two integers and returns the result.
// helper function for html template
func add(a, b int) int {
	return a + b
}

// ordinalDate returns a string with the ordinal number of the day
// helper function for html template
func ordinalDate(day int) string {
	suffix := "th"
	switch day {
	case 1, 21, 31:
		suffix = "st"
	case 2, 22:
		suffix = "nd"
	case 3, 23:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", day, suffix)
}

// formatDateTime formats a time.Time object into the specified string format.
// helper function for html template
func formatDateTime(t time.Time) string {
	day := ordinalDate(t.Day())
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%s %s %d %d:%02d:%02d %s", day, t.Month(), t.Year(), hour, t.Minute(), t.Second(), t.Format("pm"))
}

// percent formats a [0,1] value.
func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

// New parses the embedded report template.
func New() (*template.Template, error) {
	return template.New("report.html").
		Funcs(template.FuncMap{
			"add":            add,
			"formatDateTime": formatDateTime,
			"percent":        percent,
		}).
		Parse(reportTemplate)
}

// NewReportData arranges res for the template.
func NewReportData(res *findings.Result, toolVersion string, generatedAt time.Time) ReportData {
	data := ReportData{Result: res, GeneratedAt: generatedAt, ToolVersion: toolVersion}
	for _, sev := range findings.Severities {
		data.Severities = append(data.Severities, SeverityCount{Severity: sev, Count: res.Summary.SeverityBreakdown[sev]})
	}

	scores := map[string]float64{}
	for _, hr := range res.Summary.HighRiskFiles {
		scores[hr.File] = hr.Score
	}
	byFile := map[string][]findings.Finding{}
	for _, f := range res.Stage3Results {
		byFile[f.File] = append(byFile[f.File], f)
	}
	for file, list := range byFile {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Severity.Rank() != list[j].Severity.Rank() {
				return list[i].Severity.Rank() > list[j].Severity.Rank()
			}
			return list[i].Location.StartLine < list[j].Location.StartLine
		})
		data.Files = append(data.Files, FileSection{File: file, Score: scores[file], Findings: list})
	}
	sort.Slice(data.Files, func(i, j int) bool {
		if data.Files[i].Score != data.Files[j].Score {
			return data.Files[i].Score > data.Files[j].Score
		}
		return data.Files[i].File < data.Files[j].File
	})
	return data
}

// Render writes the HTML report of res to w.
func Render(w io.Writer, res *findings.Result, toolVersion string, generatedAt time.Time) error {
	if res == nil {
		return fmt.Errorf("nothing to render")
	}
	tmpl, err := New()
	if err != nil {
		return fmt.Errorf("failed to parse report template: %w", err)
	}
	if err := tmpl.Execute(w, NewReportData(res, toolVersion, generatedAt)); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// WriteReport renders res to path.
func WriteReport(path string, res *findings.Result, toolVersion string) error {
	var buf bytes.Buffer
	if err := Render(&buf, res, toolVersion, time.Now()); err != nil {
		return err
	}
	return files.WriteFileAtomic(path, buf.Bytes())
}
