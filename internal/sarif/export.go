package sarif

import (
	"fmt"
	"sort"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/pkg/shared/files"
)

const (
	ToolName = "triageio"
	toolURI  = "https://github.com/scan-io-git/triageio"
)

var levelOrder = map[string]int{
	"error":   0,
	"warning": 1,
	"note":    2,
	"none":    3,
}

// LevelFor maps a finding severity to a SARIF level.
func LevelFor(s findings.Severity) string {
	switch s {
	case findings.SeverityCritical, findings.SeverityHigh:
		return "error"
	case findings.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// FromResult renders the final findings of a triage result as a single-run report. Rules are
// keyed by weakness id, or by title for findings without one.
func FromResult(res *findings.Result, toolVersion string) (*Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(ToolName, toolURI)
	if toolVersion != "" {
		run.Tool.Driver.SemanticVersion = &toolVersion
	}
	if res == nil {
		report.AddRun(run)
		return &Report{Report: report}, nil
	}

	if p := res.Provenance; p != nil {
		run.Properties = sarif.Properties{
			"provider":   p.Provider,
			"repository": p.Repository,
			"commit":     p.Commit,
			"ref":        p.Ref,
		}
	}

	rules := map[string]*sarif.ReportingDescriptor{}
	for _, f := range res.Stage3Results {
		ruleID := ruleIDFor(f)
		rule, ok := rules[ruleID]
		if !ok {
			rule = run.AddRule(ruleID).
				WithDescription(f.Title).
				WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: LevelFor(f.Severity)})
			rules[ruleID] = rule
		} else if levelOrder[LevelFor(f.Severity)] < levelOrder[rule.DefaultConfiguration.Level] {
			rule.DefaultConfiguration.Level = LevelFor(f.Severity)
		}

		region := sarif.NewRegion()
		if f.Location.StartLine > 0 {
			region = region.WithStartLine(f.Location.StartLine).WithEndLine(max(f.Location.EndLine, f.Location.StartLine))
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.File)).
				WithRegion(region),
		)

		result := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(message(f))).
			WithLevel(LevelFor(f.Severity)).
			WithLocations([]*sarif.Location{location})
		result.Properties = resultProperties(f)
		run.AddResult(result)
	}

	sort.SliceStable(run.Results, func(i, j int) bool {
		return levelOrder[*run.Results[i].Level] < levelOrder[*run.Results[j].Level]
	})
	report.AddRun(run)
	return &Report{Report: report}, nil
}

func ruleIDFor(f findings.Finding) string {
	if f.WeaknessID != "" {
		return f.WeaknessID
	}
	if f.Title != "" {
		return f.Title
	}
	return "finding"
}

func message(f findings.Finding) string {
	if f.Description == "" {
		return f.Title
	}
	return f.Title + ": " + f.Description
}

func resultProperties(f findings.Finding) sarif.Properties {
	props := sarif.Properties{
		"id":           f.ID,
		"severity":     string(f.Severity),
		"confidence":   f.Confidence,
		"corroborated": f.Corroborated,
	}
	if f.Remediation != "" {
		props["remediation"] = f.Remediation
	}
	if e := f.Enhancement; e != nil {
		if e.Patch.Available {
			props["patch"] = map[string]interface{}{
				"before":      e.Patch.Before,
				"after":       e.Patch.After,
				"explanation": e.Patch.Explanation,
				"references":  e.Patch.References,
			}
		}
		if len(e.Matches) > 0 {
			ids := make([]string, 0, len(e.Matches))
			for _, m := range e.Matches {
				ids = append(ids, m.RecordID)
			}
			props["precedents"] = ids
		}
	}
	return props
}

// CollectSeverityInfo counts results per level plus a total.
func (r *Report) CollectSeverityInfo() map[string]int {
	info := map[string]int{"error": 0, "warning": 0, "note": 0, "total": 0}
	for _, run := range r.Runs {
		for _, result := range run.Results {
			level := "note"
			if result.Level != nil {
				level = *result.Level
			}
			info[level]++
			info["total"]++
		}
	}
	return info
}

// Write stores the report at path.
func (r *Report) Write(path string) error {
	return files.WriteJSON(path, r.Report)
}
