package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVulnerabilityKeywords(t *testing.T) {
	got := ExtractVulnerabilityKeywords(
		"SQL Injection and XSS in search page",
		"a(); b(x); c(); d();",
	)
	assert.Equal(t, []string{"a", "b", "c", "injection", "xss"}, got)
}

func TestExtractFixKeywords(t *testing.T) {
	got := ExtractFixKeywords("Validate input and escape output", "if !check(x) { return }; out := sanitize(y)")
	assert.Equal(t, []string{"escape", "input_validation", "output_encoding", "validate"}, got)
	assert.Empty(t, ExtractFixKeywords("refactor", "x := 1"))
}

func TestCommonFixPatterns(t *testing.T) {
	records := []Record{
		{FixKeywords: []string{"validate", "input_validation"}},
		{FixKeywords: []string{"validate"}, VulnerabilityKeywords: []string{"xss"}},
		{FixKeywords: []string{"escape"}, VulnerabilityKeywords: []string{"xss"}},
		{VulnerabilityKeywords: []string{"traversal"}},
	}
	got := CommonFixPatterns(records)
	require.Len(t, got, 3)
	assert.Equal(t, "strengthen input validation and data checks", got[0])
	assert.Equal(t, "apply context-aware output encoding", got[1])
	assert.Equal(t, "escape special characters before use", got[2])

	assert.Empty(t, CommonFixPatterns(nil))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"sql", "injection", "login_form", "cwe-89"}, Tokenize("The SQL injection in login_form (CWE-89) a"))
}
