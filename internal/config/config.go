package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// DefaultConfigFile is used when neither --config nor TRIAGEIO_CONFIG is set.
const DefaultConfigFile = "config.yml"

// Config is the root of the YAML configuration file.
type Config struct {
	Logger          Logger          `yaml:"logger"`
	HTTPClient      HTTPClient      `yaml:"http_client"`
	Pipeline        Pipeline        `yaml:"pipeline"`
	ProgressWeights ProgressWeights `yaml:"progress_weights"`
	Oracle          Oracle          `yaml:"oracle"`
	KnowledgeBase   KnowledgeBase   `yaml:"knowledge_base"`
	Cache           Cache           `yaml:"cache"`
	Notify          Notify          `yaml:"notify"`
	Metrics         Metrics         `yaml:"metrics"`
	DefectDojo      DefectDojo      `yaml:"defectdojo"`
}

type Logger struct {
	Level           string `yaml:"level"`
	DisableTime     *bool  `yaml:"disable_time"`
	JSONFormat      *bool  `yaml:"json_format"`
	IncludeLocation *bool  `yaml:"include_location"`
}

type HTTPClient struct {
	Debug            *bool           `yaml:"debug"`
	RetryCount       int             `yaml:"retry_count"`
	RetryWaitTime    time.Duration   `yaml:"retry_wait_time"`
	RetryMaxWaitTime time.Duration   `yaml:"retry_max_wait_time"`
	Timeout          time.Duration   `yaml:"timeout"`
	TLSClientConfig  TLSClientConfig `yaml:"tls_client_config"`
	Proxy            Proxy           `yaml:"proxy"`
}

type TLSClientConfig struct {
	Verify *bool `yaml:"verify"`
}

type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Pipeline holds the stage orchestration settings.
type Pipeline struct {
	Stage1BatchSize          int      `yaml:"stage1_batch_size"`
	RiskThreshold            *float64 `yaml:"risk_threshold"`
	Stage1Concurrency        int      `yaml:"stage1_concurrency"`
	Stage2Concurrency        int      `yaml:"stage2_concurrency"`
	Stage3Concurrency        int      `yaml:"stage3_concurrency"`
	RetrievalK               int      `yaml:"retrieval_k"`
	RequireCandidates        bool     `yaml:"require_candidates"`
	OverridePaths            []string `yaml:"override_paths"`
	StaticFallbackConfidence *float64 `yaml:"static_fallback_confidence"`
}

// ProgressWeights splits the overall progress between task phases. All zero means defaults.
type ProgressWeights struct {
	Acquisition       float64 `yaml:"acquisition"`
	FeatureExtraction float64 `yaml:"feature_extraction"`
	Stage1            float64 `yaml:"stage1"`
	Stage2            float64 `yaml:"stage2"`
	Stage3            float64 `yaml:"stage3"`
	Finalization      float64 `yaml:"finalization"`
}

// Oracle configures the reasoning service client and its resilience policy.
type Oracle struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	FailureWindow     int           `yaml:"failure_window"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	Cooldown          time.Duration `yaml:"cooldown"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
}

type KnowledgeBase struct {
	IndexPath string    `yaml:"index_path"`
	Watch     bool      `yaml:"watch"`
	LSHTables int       `yaml:"lsh_tables"`
	LSHBits   int       `yaml:"lsh_bits"`
	Seed      int64     `yaml:"seed"`
	Embedding Embedding `yaml:"embedding"`
}

type Embedding struct {
	Provider   string `yaml:"provider"`
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

type Cache struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	InMemory bool          `yaml:"in_memory"`
	TTL      time.Duration `yaml:"ttl"`
}

type Notify struct {
	WebSocketURL string `yaml:"websocket_url"`
}

type Metrics struct {
	ListenAddress string `yaml:"listen_address"`
}

// DefectDojo is where SARIF reports are published after a run.
type DefectDojo struct {
	URL         string `yaml:"url"`
	TokenEnv    string `yaml:"token_env"`
	ProductType string `yaml:"product_type"`
	Product     string `yaml:"product"`
}

// ValidateConfigPath checks that path exists and is a regular file.
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a file", path)
	}
	return nil
}

// LoadYAML decodes the YAML file at configPath into data.
func LoadYAML(configPath string, data interface{}) error {
	if err := ValidateConfigPath(configPath); err != nil {
		return err
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(data); err != nil {
		return err
	}

	return nil
}

// LoadConfig reads the configuration file and applies environment overrides.
// A missing default config file yields an empty configuration, so every consumer falls back to its defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		configPath = os.Getenv("TRIAGEIO_CONFIG")
	}
	if configPath == "" {
		configPath = DefaultConfigFile
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
	}

	if err := LoadYAML(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", configPath, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}
