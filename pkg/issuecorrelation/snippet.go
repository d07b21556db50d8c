package issuecorrelation

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashSnippet returns the SHA256 hex string of lines line..endLine (1-based, inclusive) of
// content. It is empty when line is outside content.
func HashSnippet(content string, line, endLine int) string {
	if line <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	start := line
	end := line
	if endLine > line {
		end = endLine
	}
	// Validate bounds (1-based line numbers)
	if start < 1 || start > len(lines) {
		return ""
	}
	if end > len(lines) {
		end = len(lines)
	}
	snippet := strings.Join(lines[start-1:end], "\n")
	sum := sha256.Sum256([]byte(snippet))
	return fmt.Sprintf("%x", sum[:])
}
