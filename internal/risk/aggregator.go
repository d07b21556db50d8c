// Package risk turns static and history signals into a single file risk score.
package risk

import (
	"fmt"
	"math"

	"github.com/scan-io-git/triageio/internal/findings"
)

// Weights of the four risk dimensions. They must sum to 1.
type Weights struct {
	Security   float64
	Complexity float64
	Change     float64
	Fix        float64
}

// DefaultWeights favours security signals over the other three dimensions.
func DefaultWeights() Weights {
	return Weights{Security: 0.4, Complexity: 0.2, Change: 0.2, Fix: 0.2}
}

// Validate checks each weight is in [0,1] and that they sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"security":   w.Security,
		"complexity": w.Complexity,
		"change":     w.Change,
		"fix":        w.Fix,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("risk weight %q must be within [0,1], got %v", name, v)
		}
	}
	if sum := w.Security + w.Complexity + w.Change + w.Fix; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("risk weights must sum to 1, got %v", sum)
	}
	return nil
}

// Points contributed to the security dimension before normalisation.
var severityPoints = map[findings.Severity]float64{
	findings.SeverityCritical: 15,
	findings.SeverityHigh:     10,
	findings.SeverityMedium:   5,
	findings.SeverityLow:      2,
}

const (
	unknownSeverityPoints = 1
	dangerousCallPoints   = 5
	changePoints          = 2
	fixPoints             = 10
	nestingFactor         = 0.5
	complexityScale       = 10
)

// Aggregator scores candidate files. It is stateless and safe for concurrent use.
type Aggregator struct {
	weights Weights
}

// New returns an Aggregator using w, or an error if w is invalid.
func New(w Weights) (*Aggregator, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{weights: w}, nil
}

// NewDefault returns an Aggregator with DefaultWeights.
func NewDefault() *Aggregator {
	return &Aggregator{weights: DefaultWeights()}
}

// Weights returns the weights in use.
func (a *Aggregator) Weights() Weights {
	return a.weights
}

// Score computes the risk of one file. It never fails; missing signals count as 0.
func (a *Aggregator) Score(file findings.CandidateFile) findings.RiskScore {
	sub := Dimensions(file)
	return findings.RiskScore{
		File:       file.Path,
		Value:      a.Combine(sub),
		Dimensions: sub,
	}
}

// ScoreAll scores files in input order.
func (a *Aggregator) ScoreAll(files []findings.CandidateFile) []findings.RiskScore {
	out := make([]findings.RiskScore, 0, len(files))
	for _, f := range files {
		out = append(out, a.Score(f))
	}
	return out
}

// Combine applies the weights to already-normalised dimensions and returns a value in [0,100]
// rounded to two decimals.
func (a *Aggregator) Combine(sub findings.SubScores) float64 {
	raw := a.weights.Security*clamp01(sub.Security) +
		a.weights.Complexity*clamp01(sub.Complexity) +
		a.weights.Change*clamp01(sub.Change) +
		a.weights.Fix*clamp01(sub.Fix)
	return round2(raw * 100)
}

// Dimensions normalises the raw signals of a file to [0,1] per dimension.
func Dimensions(file findings.CandidateFile) findings.SubScores {
	return findings.SubScores{
		Security:   securityDimension(file),
		Complexity: complexityDimension(file.Static),
		Change:     clamp01(float64(nonNegative(file.History.TotalModifications)) * changePoints / 100),
		Fix:        clamp01(float64(nonNegative(file.History.FixModifications)) * fixPoints / 100),
	}
}

func securityDimension(file findings.CandidateFile) float64 {
	points := float64(nonNegative(file.Static.DangerousCalls)) * dangerousCallPoints
	for _, issue := range file.Issues {
		sev, ok := findings.ParseSeverity(issue.Severity)
		if !ok {
			points += unknownSeverityPoints
			continue
		}
		points += severityPoints[sev]
	}
	return clamp01(points / 100)
}

func complexityDimension(s findings.StaticFeatures) float64 {
	raw := float64(nonNegative(s.CyclomaticComplexity)) + nestingFactor*float64(nonNegative(s.MaxNesting))
	return clamp01(raw / complexityScale)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
