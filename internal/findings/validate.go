package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

var candidateValidate = validator.New()

// CandidateSet is the on-disk format of the triage input.
type CandidateSet struct {
	Files []CandidateFile `json:"files" validate:"dive"`
}

// Validate checks field constraints and that paths are unique within the set.
func (s *CandidateSet) Validate() error {
	if err := candidateValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid candidate set: %w", err)
	}
	seen := make(map[string]struct{}, len(s.Files))
	for _, f := range s.Files {
		if _, ok := seen[f.Path]; ok {
			return fmt.Errorf("invalid candidate set: duplicate path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
	}
	return nil
}

// EnsureFingerprints fills missing fingerprints with the SHA-256 of the file content.
func (s *CandidateSet) EnsureFingerprints() {
	for i := range s.Files {
		if s.Files[i].Fingerprint == "" {
			s.Files[i].Fingerprint = ContentFingerprint(s.Files[i].Content)
		}
	}
}

// ContentFingerprint returns the hex SHA-256 of content.
func ContentFingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// LoadCandidates reads, validates and fingerprints a candidate set from a JSON file.
// Both {"files": [...]} and a bare array are accepted.
func LoadCandidates(path string) (*CandidateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates %q: %w", path, err)
	}
	return ParseCandidates(data)
}

// ParseCandidates is LoadCandidates for in-memory JSON.
func ParseCandidates(data []byte) (*CandidateSet, error) {
	set, err := DecodeCandidates(data)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	set.EnsureFingerprints()
	return set, nil
}

// DecodeCandidates accepts either {"files": [...]} or a bare array and does not validate, so
// callers can fill in content first.
func DecodeCandidates(data []byte) (*CandidateSet, error) {
	set := &CandidateSet{}
	if err := json.Unmarshal(data, set); err != nil {
		var files []CandidateFile
		if errArr := json.Unmarshal(data, &files); errArr != nil {
			return nil, fmt.Errorf("failed to parse candidates: %w", err)
		}
		set.Files = files
	}
	return set, nil
}
