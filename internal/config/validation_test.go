package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/triageio/pkg/shared/errors"
)

func floatPtr(v float64) *float64 { return &v }

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name: "empty config uses defaults",
			cfg:  &Config{},
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "configuration object is nil",
		},
		{
			name:    "threshold above range",
			cfg:     &Config{Pipeline: Pipeline{RiskThreshold: floatPtr(120)}},
			wantErr: "risk_threshold",
		},
		{
			name: "threshold zero is allowed",
			cfg:  &Config{Pipeline: Pipeline{RiskThreshold: floatPtr(0)}},
		},
		{
			name:    "negative batch size",
			cfg:     &Config{Pipeline: Pipeline{Stage1BatchSize: -1}},
			wantErr: "stage1_batch_size",
		},
		{
			name:    "progress weights not summing to one",
			cfg:     &Config{ProgressWeights: ProgressWeights{Stage1: 0.5, Stage2: 0.2}},
			wantErr: "must sum to 1.0",
		},
		{
			name: "progress weights summing to one",
			cfg: &Config{ProgressWeights: ProgressWeights{
				Acquisition: 0.1, FeatureExtraction: 0.3, Stage1: 0.2, Stage2: 0.25, Stage3: 0.1, Finalization: 0.05,
			}},
		},
		{
			name:    "unknown oracle provider",
			cfg:     &Config{Oracle: Oracle{Provider: "carrier-pigeon"}},
			wantErr: "unsupported oracle provider",
		},
		{
			name:    "breaker threshold larger than window",
			cfg:     &Config{Oracle: Oracle{FailureWindow: 5, FailureThreshold: 6}},
			wantErr: "exceeds failure_window",
		},
		{
			name:    "negative backoff",
			cfg:     &Config{Oracle: Oracle{InitialBackoff: -time.Second}},
			wantErr: "cannot be negative",
		},
		{
			name:    "http embedder without url",
			cfg:     &Config{KnowledgeBase: KnowledgeBase{Embedding: Embedding{Provider: "http"}}},
			wantErr: "embedding.url",
		},
		{
			name:    "disk cache without path",
			cfg:     &Config{Cache: Cache{Enabled: true}},
			wantErr: "cache.path",
		},
		{
			name:    "relative defectdojo url",
			cfg:     &Config{DefectDojo: DefectDojo{URL: "dojo.local/api"}},
			wantErr: "defectdojo.url",
		},
		{
			name: "defectdojo url",
			cfg:  &Config{DefectDojo: DefectDojo{URL: "https://dojo.example.com"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationErrorsAreConfigErrors(t *testing.T) {
	err := ValidateConfig(&Config{Pipeline: Pipeline{RiskThreshold: floatPtr(-1)}})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestSetThenAndDerefThen(t *testing.T) {
	assert.Equal(t, 10, SetThen(0, 10))
	assert.Equal(t, 3, SetThen(3, 10))
	assert.Equal(t, "openai", SetThen("", "openai"))
	assert.Equal(t, 70.0, DerefThen(nil, 70.0))
	assert.Equal(t, 0.0, DerefThen(floatPtr(0), 70.0))
}

func TestGetBoolValue(t *testing.T) {
	yes := true
	no := false
	cfg := &Config{Logger: Logger{JSONFormat: &yes, DisableTime: &no}}

	assert.True(t, GetBoolValue(cfg, "Logger.JSONFormat", false))
	assert.False(t, GetBoolValue(cfg, "Logger.DisableTime", true))
	assert.True(t, GetBoolValue(cfg, "Logger.IncludeLocation", true))
	assert.False(t, GetBoolValue(cfg, "Logger.Missing", false))
	assert.True(t, GetBoolValue(nil, "Logger.JSONFormat", true))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
logger:
  level: debug
pipeline:
  stage1_batch_size: 5
  risk_threshold: 65.5
  override_paths: ["src/auth.py"]
oracle:
  provider: openai
  timeout: 30s
knowledge_base:
  embedding:
    provider: hashing
    dimensions: 128
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TRIAGEIO_ORACLE_MODEL", "deepseek-chat")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 5, cfg.Pipeline.Stage1BatchSize)
	require.NotNil(t, cfg.Pipeline.RiskThreshold)
	assert.Equal(t, 65.5, *cfg.Pipeline.RiskThreshold)
	assert.Equal(t, []string{"src/auth.py"}, cfg.Pipeline.OverridePaths)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "deepseek-chat", cfg.Oracle.Model)
	assert.Equal(t, 128, cfg.KnowledgeBase.Embedding.Dimensions)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigRejectsDirectory(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}
