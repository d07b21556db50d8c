package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/triageio/internal/findings"
)

func TestCombineWorkedExample(t *testing.T) {
	a := NewDefault()
	got := a.Combine(findings.SubScores{Security: 0.8, Complexity: 0.5, Change: 0.3, Fix: 0.1})
	assert.Equal(t, 50.0, got)
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, w.Security+w.Complexity+w.Change+w.Fix, 1e-12)
	assert.NoError(t, w.Validate())
}

func TestNewRejectsInvalidWeights(t *testing.T) {
	tests := []struct {
		name string
		w    Weights
	}{
		{name: "sum below one", w: Weights{Security: 0.4, Complexity: 0.2, Change: 0.2}},
		{name: "negative weight", w: Weights{Security: 1.2, Complexity: -0.2}},
		{name: "above one", w: Weights{Security: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.w)
			assert.Error(t, err)
		})
	}
}

func TestScore(t *testing.T) {
	a := NewDefault()

	tests := []struct {
		name      string
		file      findings.CandidateFile
		wantValue float64
		wantDims  findings.SubScores
	}{
		{
			name:      "no signals",
			file:      findings.CandidateFile{Path: "empty.py"},
			wantValue: 0,
		},
		{
			name: "saturated signals",
			file: findings.CandidateFile{
				Path:    "hot.py",
				Static:  findings.StaticFeatures{DangerousCalls: 30, CyclomaticComplexity: 40, MaxNesting: 9},
				History: findings.History{TotalModifications: 80, FixModifications: 20},
			},
			wantValue: 100,
			wantDims:  findings.SubScores{Security: 1, Complexity: 1, Change: 1, Fix: 1},
		},
		{
			name: "mixed signals",
			file: findings.CandidateFile{
				Path:    "app/views.py",
				Static:  findings.StaticFeatures{DangerousCalls: 2, CyclomaticComplexity: 4, MaxNesting: 2},
				History: findings.History{TotalModifications: 10, FixModifications: 3},
				Issues: []findings.StaticIssue{
					{Severity: "high"},
					{Severity: "medium"},
					{Severity: "low"},
				},
			},
			// security (10+10+5+2)/100=0.27, complexity 5/10=0.5, change 0.2, fix 0.3
			wantValue: 30.8,
			wantDims:  findings.SubScores{Security: 0.27, Complexity: 0.5, Change: 0.2, Fix: 0.3},
		},
		{
			name: "negative inputs clamp to zero",
			file: findings.CandidateFile{
				Path:    "weird.py",
				Static:  findings.StaticFeatures{DangerousCalls: -3, CyclomaticComplexity: -1},
				History: findings.History{TotalModifications: -5},
			},
			wantValue: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Score(tt.file)
			assert.Equal(t, tt.file.Path, got.File)
			assert.InDelta(t, tt.wantValue, got.Value, 1e-9)
			assert.InDelta(t, tt.wantDims.Security, got.Dimensions.Security, 1e-9)
			assert.InDelta(t, tt.wantDims.Complexity, got.Dimensions.Complexity, 1e-9)
			assert.InDelta(t, tt.wantDims.Change, got.Dimensions.Change, 1e-9)
			assert.InDelta(t, tt.wantDims.Fix, got.Dimensions.Fix, 1e-9)
		})
	}
}

func TestScoreStaysInRange(t *testing.T) {
	a, err := New(Weights{Security: 0.7, Complexity: 0.1, Change: 0.1, Fix: 0.1})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		f := findings.CandidateFile{
			Path:    "f.go",
			Static:  findings.StaticFeatures{DangerousCalls: i % 25, CyclomaticComplexity: i % 13, MaxNesting: i % 7},
			History: findings.History{TotalModifications: i, FixModifications: i / 3},
		}
		s := a.Score(f)
		assert.GreaterOrEqual(t, s.Value, 0.0)
		assert.LessOrEqual(t, s.Value, 100.0)
		assert.Equal(t, s.Value, round2(s.Value))
	}
}

func TestScoreAllKeepsOrder(t *testing.T) {
	files := []findings.CandidateFile{{Path: "b"}, {Path: "a"}, {Path: "c"}}
	scores := NewDefault().ScoreAll(files)
	require.Len(t, scores, 3)
	assert.Equal(t, "b", scores[0].File)
	assert.Equal(t, "c", scores[2].File)
}
