// Package sarif converts between SARIF reports and triage data: results are exported for CI
// consumers, and reports of existing scanners are read back as static issues of candidate files.
package sarif

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

// Report wraps a parsed scanner report.
type Report struct {
	*sarif.Report
	logger       hclog.Logger
	sourceFolder string
}

func readSarifReport(inputPath string) (*sarif.Report, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, err
	}
	var report sarif.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse SARIF report %q: %w", inputPath, err)
	}
	return &report, nil
}

// remove all results with Suppressions property
func removeSuppressedResults(report *sarif.Report) {
	for _, run := range report.Runs {
		var filteredResults []*sarif.Result
		for _, result := range run.Results {
			if len(result.Suppressions) == 0 {
				filteredResults = append(filteredResults, result)
			}
		}
		run.Results = filteredResults
	}
}

// ReadReport loads a scanner report. Absolute result paths are made relative to sourceFolder;
// suppressed results are dropped when noSuppressions is set.
func ReadReport(inputPath string, logger hclog.Logger, sourceFolder string, noSuppressions bool) (*Report, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	sarifReport, err := readSarifReport(inputPath)
	if err != nil {
		return nil, err
	}
	if noSuppressions {
		removeSuppressedResults(sarifReport)
	}

	absPath := ""
	if sourceFolder != "" {
		expanded, err := files.ExpandPath(sourceFolder)
		if err != nil {
			return nil, fmt.Errorf("failed to expand source folder: %w", err)
		}
		if absPath, err = filepath.Abs(expanded); err != nil {
			return nil, err
		}
	}

	return &Report{Report: sarifReport, logger: logger, sourceFolder: absPath}, nil
}

var weaknessPattern = regexp.MustCompile(`(?i)\bCWE-(\d+)\b`)

// StaticIssues groups the results of every run by the file they point at.
func (r *Report) StaticIssues() map[string][]findings.StaticIssue {
	out := map[string][]findings.StaticIssue{}
	for _, run := range r.Runs {
		scanner := ""
		rules := map[string]*sarif.ReportingDescriptor{}
		if run.Tool.Driver != nil {
			scanner = run.Tool.Driver.Name
			for _, rule := range run.Tool.Driver.Rules {
				rules[rule.ID] = rule
			}
		}

		for _, result := range run.Results {
			if len(result.Locations) == 0 {
				continue
			}
			loc := result.Locations[0].PhysicalLocation
			if loc == nil || loc.ArtifactLocation == nil || loc.ArtifactLocation.URI == nil {
				continue
			}
			path := r.relativePath(*loc.ArtifactLocation.URI)

			issue := findings.StaticIssue{Scanner: scanner}
			if result.RuleID != nil {
				issue.RuleID = *result.RuleID
			}
			rule := rules[issue.RuleID]
			issue.Severity = resultLevel(result, rule)
			issue.WeaknessID = weaknessOf(rule)
			if result.Message.Text != nil {
				issue.Message = *result.Message.Text
			}
			if loc.Region != nil {
				if loc.Region.StartLine != nil {
					issue.StartLine = *loc.Region.StartLine
				}
				issue.EndLine = issue.StartLine
				if loc.Region.EndLine != nil {
					issue.EndLine = *loc.Region.EndLine
				}
			}
			out[path] = append(out[path], issue)
		}
	}
	r.logger.Debug("static issues collected", "files", len(out))
	return out
}

// relativePath strips the file scheme and the source folder from uri.
func (r *Report) relativePath(uri string) string {
	uri = strings.TrimPrefix(uri, "file://")
	if filepath.IsAbs(uri) && r.sourceFolder != "" {
		if rel, err := filepath.Rel(r.sourceFolder, uri); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return strings.TrimPrefix(filepath.ToSlash(uri), "./")
}

// resultLevel picks the level the way scanners report it: on the result (snyk), in the rule
// "problem.severity" property (codeql), then the rule default.
func resultLevel(result *sarif.Result, rule *sarif.ReportingDescriptor) string {
	if result.Level != nil {
		return *result.Level
	}
	if rule != nil {
		if sev, ok := rule.Properties["problem.severity"].(string); ok {
			return sev
		}
		if rule.DefaultConfiguration != nil && rule.DefaultConfiguration.Level != "" {
			return rule.DefaultConfiguration.Level
		}
	}
	return "warning"
}

// weaknessOf finds the first CWE identifier in the rule tags or id.
func weaknessOf(rule *sarif.ReportingDescriptor) string {
	if rule == nil {
		return ""
	}
	var candidates []string
	if tags, ok := rule.Properties["tags"].([]interface{}); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}
	candidates = append(candidates, rule.ID)
	for _, c := range candidates {
		if m := weaknessPattern.FindStringSubmatch(c); m != nil {
			return "CWE-" + strings.TrimLeft(m[1], "0")
		}
	}
	return ""
}

// AttachIssues adds the issues of report to the matching candidates and returns how many files
// received at least one issue.
func AttachIssues(candidates []findings.CandidateFile, issues map[string][]findings.StaticIssue) int {
	attached := 0
	for i := range candidates {
		list, ok := issues[filepath.ToSlash(candidates[i].Path)]
		if !ok {
			continue
		}
		candidates[i].Issues = append(candidates[i].Issues, list...)
		sort.SliceStable(candidates[i].Issues, func(a, b int) bool {
			return candidates[i].Issues[a].StartLine < candidates[i].Issues[b].StartLine
		})
		attached++
	}
	return attached
}
