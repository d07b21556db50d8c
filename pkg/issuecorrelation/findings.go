package issuecorrelation

import "github.com/scan-io-git/triageio/internal/findings"

// OracleScanner names the producer of deep-analysis findings.
const OracleScanner = "oracle"

// FromFinding describes an oracle finding. content is the file it was reported in.
func FromFinding(f findings.Finding, content string) IssueMetadata {
	return IssueMetadata{
		IssueID:     f.ID,
		Scanner:     OracleScanner,
		RuleID:      f.WeaknessID,
		Severity:    string(f.Severity),
		Filename:    f.File,
		StartLine:   f.Location.StartLine,
		EndLine:     f.Location.EndLine,
		SnippetHash: HashSnippet(content, f.Location.StartLine, f.Location.EndLine),
	}
}

// FromStaticIssue describes a pre-existing scanner issue of file. The weakness id is preferred
// over the scanner rule so that it lines up with oracle findings.
func FromStaticIssue(file findings.CandidateFile, issue findings.StaticIssue) IssueMetadata {
	rule := issue.WeaknessID
	if rule == "" {
		rule = issue.RuleID
	}
	return IssueMetadata{
		IssueID:     issue.RuleID,
		Scanner:     issue.Scanner,
		RuleID:      rule,
		Severity:    issue.Severity,
		Filename:    file.Path,
		StartLine:   issue.StartLine,
		EndLine:     issue.EndLine,
		SnippetHash: HashSnippet(file.Content, issue.StartLine, issue.EndLine),
	}
}

// FileCorrelation relates the findings of one file to its pre-existing static issues.
type FileCorrelation struct {
	// Corroborated holds the ids of findings that line up with a static issue.
	Corroborated map[string]bool
	// Unconfirmed lists the static issues no finding lines up with.
	Unconfirmed []IssueMetadata
	// Novel counts the findings with no static counterpart.
	Novel int
}

// CorrelateFile matches the findings fs of file against its static issues. window is the line
// distance tolerated between the two reports.
func CorrelateFile(file findings.CandidateFile, fs []findings.Finding, window int) FileCorrelation {
	out := FileCorrelation{Corroborated: map[string]bool{}}
	newIssues := make([]IssueMetadata, 0, len(fs))
	for _, f := range fs {
		newIssues = append(newIssues, FromFinding(f, file.Content))
	}
	known := make([]IssueMetadata, 0, len(file.Issues))
	for _, is := range file.Issues {
		known = append(known, FromStaticIssue(file, is))
	}
	if len(newIssues) == 0 || len(known) == 0 {
		out.Unconfirmed = known
		out.Novel = len(newIssues)
		return out
	}

	c := NewCorrelator(newIssues, known, Options{IgnoreScanner: true, LineWindow: window})
	for _, m := range c.Matches() {
		for _, n := range m.New {
			out.Corroborated[n.IssueID] = true
		}
	}
	out.Unconfirmed = c.UnmatchedKnown()
	out.Novel = len(c.UnmatchedNew())
	return out
}
