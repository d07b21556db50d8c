package pipeline

import (
	"math"

	"github.com/scan-io-git/triageio/internal/config"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

const (
	DefaultBatchSize          = 10
	DefaultRiskThreshold      = 70.0
	DefaultStage1Concurrency  = 4
	DefaultStage2Concurrency  = 3
	DefaultStage3Concurrency  = 3
	DefaultRetrievalK         = 5
	DefaultFallbackConfidence = 0.5
	// DefaultCorrelationWindow is how many lines apart a finding and a static issue may be.
	DefaultCorrelationWindow = 3
)

// Settings drive one Orchestrator. Build them with SettingsFromConfig or DefaultSettings.
type Settings struct {
	BatchSize          int
	RiskThreshold      float64
	Stage1Concurrency  int
	Stage2Concurrency  int
	Stage3Concurrency  int
	RetrievalK         int
	RequireCandidates  bool
	OverridePaths      []string
	FallbackConfidence float64
	CorrelationWindow  int
}

func DefaultSettings() Settings {
	return Settings{
		BatchSize:          DefaultBatchSize,
		RiskThreshold:      DefaultRiskThreshold,
		Stage1Concurrency:  DefaultStage1Concurrency,
		Stage2Concurrency:  DefaultStage2Concurrency,
		Stage3Concurrency:  DefaultStage3Concurrency,
		RetrievalK:         DefaultRetrievalK,
		FallbackConfidence: DefaultFallbackConfidence,
		CorrelationWindow:  DefaultCorrelationWindow,
	}
}

// SettingsFromConfig applies defaults to unset values of the pipeline section.
func SettingsFromConfig(p config.Pipeline) Settings {
	return Settings{
		BatchSize:          config.SetThen(p.Stage1BatchSize, DefaultBatchSize),
		RiskThreshold:      config.DerefThen(p.RiskThreshold, DefaultRiskThreshold),
		Stage1Concurrency:  config.SetThen(p.Stage1Concurrency, DefaultStage1Concurrency),
		Stage2Concurrency:  config.SetThen(p.Stage2Concurrency, DefaultStage2Concurrency),
		Stage3Concurrency:  config.SetThen(p.Stage3Concurrency, DefaultStage3Concurrency),
		RetrievalK:         config.SetThen(p.RetrievalK, DefaultRetrievalK),
		RequireCandidates:  p.RequireCandidates,
		OverridePaths:      append([]string(nil), p.OverridePaths...),
		FallbackConfidence: config.DerefThen(p.StaticFallbackConfidence, DefaultFallbackConfidence),
		CorrelationWindow:  DefaultCorrelationWindow,
	}
}

// Validate returns a ConfigError for the first setting out of range.
func (s Settings) Validate() error {
	if math.IsNaN(s.RiskThreshold) || s.RiskThreshold < 0 || s.RiskThreshold > 100 {
		return shared.NewConfigError("risk_threshold", "must be within [0,100], got %v", s.RiskThreshold)
	}
	if s.BatchSize < 1 {
		return shared.NewConfigError("stage1_batch_size", "must be at least 1, got %d", s.BatchSize)
	}
	for name, v := range map[string]int{
		"stage1_concurrency": s.Stage1Concurrency,
		"stage2_concurrency": s.Stage2Concurrency,
		"stage3_concurrency": s.Stage3Concurrency,
	} {
		if v < 1 {
			return shared.NewConfigError(name, "must be at least 1, got %d", v)
		}
	}
	if s.RetrievalK < 1 {
		return shared.NewConfigError("retrieval_k", "must be at least 1, got %d", s.RetrievalK)
	}
	if math.IsNaN(s.FallbackConfidence) || s.FallbackConfidence < 0 || s.FallbackConfidence > 1 {
		return shared.NewConfigError("static_fallback_confidence", "must be within [0,1], got %v", s.FallbackConfidence)
	}
	if s.CorrelationWindow < 0 {
		return shared.NewConfigError("correlation_window", "cannot be negative: %d", s.CorrelationWindow)
	}
	return nil
}

func (s Settings) overrides() map[string]bool {
	out := make(map[string]bool, len(s.OverridePaths))
	for _, p := range s.OverridePaths {
		out[p] = true
	}
	return out
}
