package oracle

import (
	"strings"
	"text/template"
)

const systemPrompt = "You are a senior application security reviewer. Answer with a single JSON object and nothing else."

const (
	batchPreviewChars   = 1500
	analyzeContentChars = 12000
)

var funcs = template.FuncMap{
	"truncate": truncate,
	"preview":  func(s string) string { return truncate(s, batchPreviewChars) },
	"join":     strings.Join,
}

var batchTemplate = template.Must(template.New("batch").Funcs(funcs).Parse(`Rate the security risk of each file below on a 0-100 scale.
Consider the static risk score, the static findings and the code preview.
{{range .}}
### {{.File.Path}}
language: {{or .File.Language "unknown"}}
static risk score: {{printf "%.2f" .StaticScore}}
dangerous calls: {{.File.Static.DangerousCalls}}, cyclomatic complexity: {{.File.Static.CyclomaticComplexity}}, max nesting: {{.File.Static.MaxNesting}}
modifications: {{.File.History.TotalModifications}}, fix commits: {{.File.History.FixModifications}}
{{- range .File.Issues}}
- {{.Severity}} {{.RuleID}} line {{.StartLine}}: {{.Message}}
{{- end}}
{{- if .File.Content}}
` + "```" + `
{{preview .File.Content}}
` + "```" + `
{{- end}}
{{end}}
Respond as:
{"scores": [{"file": "<path exactly as given>", "score": 0-100, "confidence": 0-1, "rationale": "<one sentence>"}]}
`))

var analyzeTemplate = template.Must(template.New("analyze").Funcs(funcs).Parse(`Find security vulnerabilities in the file below.

file: {{.File.Path}}
language: {{or .File.Language "unknown"}}
modifications: {{.File.History.TotalModifications}}, fix commits: {{.File.History.FixModifications}}
static findings:
{{- range .File.Issues}}
- {{.Severity}} {{.RuleID}} {{.WeaknessID}} lines {{.StartLine}}-{{.EndLine}}: {{.Message}}
{{- else}}
- none
{{- end}}

` + "```" + `{{.File.Language}}
{{truncate .File.Content .Limit}}
` + "```" + `

Focus on injection, access control bypass and sensitive data exposure. Consider the real execution context.
Respond as:
{"vulnerabilities": [{"title": "", "severity": "critical|high|medium|low", "cwe_id": "CWE-XXX", "description": "",
 "location": {"start_line": 0, "end_line": 0}, "code_snippet": "", "impact": "", "remediation": "", "confidence": 0.0}]}
`))

var fixTemplate = template.Must(template.New("fix").Funcs(funcs).Parse(`Propose a minimal code fix for this vulnerability.

title: {{.Finding.Title}}
severity: {{.Finding.Severity}}
weakness: {{or .Finding.WeaknessID "unknown"}}
file: {{.Finding.File}} lines {{.Finding.Location.StartLine}}-{{.Finding.Location.EndLine}}
description: {{.Finding.Description}}
vulnerable code:
` + "```" + `
{{.Finding.Snippet}}
` + "```" + `
{{if .Context.Precedents}}
Historical fixes of similar vulnerabilities:
{{- range .Context.Precedents}}
--- {{.ID}} {{.WeaknessID}}: {{truncate .Description 300}}
before:
{{truncate .Before 800}}
after:
{{truncate .After 800}}
{{- end}}
{{else}}
No historical precedent is available; rely on general secure coding practice.
{{end}}
{{- if .Context.FixPatterns}}
Common fix patterns: {{join .Context.FixPatterns "; "}}
{{end}}
Respond as:
{"before": "<vulnerable code>", "after": "<fixed code>", "explanation": "", "references": ["<precedent id or CWE>"]}
If no sensible fix exists respond with {"after": ""}.
`))

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	// keep the cut on a rune boundary
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... [truncated]"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func render(t *template.Template, data interface{}) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
