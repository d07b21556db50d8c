package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/scan-io-git/triageio/pkg/shared/errors"
)

var (
	supportedOracleProviders    = []string{"", "openai", "none"}
	supportedEmbeddingProviders = []string{"", "hashing", "http", "openai"}
)

// ValidateConfig checks if the global configurations have valid values.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("YAML global config: configuration object is nil")
	}
	if err := ValidateHTTPConfig(&cfg.HTTPClient); err != nil {
		return fmt.Errorf("YAML global config: http_client directive is invalid: %w", err)
	}
	if err := ValidatePipelineConfig(&cfg.Pipeline); err != nil {
		return fmt.Errorf("YAML global config: pipeline directive is invalid: %w", err)
	}
	if err := ValidateProgressWeights(&cfg.ProgressWeights); err != nil {
		return fmt.Errorf("YAML global config: progress_weights directive is invalid: %w", err)
	}
	if err := ValidateOracleConfig(&cfg.Oracle); err != nil {
		return fmt.Errorf("YAML global config: oracle directive is invalid: %w", err)
	}
	if err := ValidateKnowledgeBaseConfig(&cfg.KnowledgeBase); err != nil {
		return fmt.Errorf("YAML global config: knowledge_base directive is invalid: %w", err)
	}
	if cfg.Cache.Enabled && !cfg.Cache.InMemory && cfg.Cache.Path == "" {
		return fmt.Errorf("YAML global config: cache directive is invalid: %w",
			errors.NewConfigError("cache.path", "must be set when the cache is enabled on disk"))
	}
	if err := ValidateDefectDojoConfig(&cfg.DefectDojo); err != nil {
		return fmt.Errorf("YAML global config: defectdojo directive is invalid: %w", err)
	}
	return nil
}

// ValidateDefectDojoConfig requires an absolute http(s) URL when publishing is configured.
func ValidateDefectDojoConfig(d *DefectDojo) error {
	if d.URL == "" {
		return nil
	}
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewConfigError("defectdojo.url", "must be an absolute http(s) URL: %q", d.URL)
	}
	return nil
}

// ValidateHTTPConfig checks if the HTTP configurations have valid values.
func ValidateHTTPConfig(httpConfig *HTTPClient) error {
	if httpConfig == nil {
		return fmt.Errorf("HTTP configuration is nil")
	}
	if httpConfig.RetryCount < 0 || httpConfig.RetryCount > 20 {
		return errors.NewConfigError("retry_count", "must be between 0 and 20: %d", httpConfig.RetryCount)
	}

	durations := map[string]time.Duration{
		"retry_max_wait_time": httpConfig.RetryMaxWaitTime,
		"retry_wait_time":     httpConfig.RetryWaitTime,
		"timeout":             httpConfig.Timeout,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 100*time.Second); err != nil {
			return err
		}
	}

	return validateProxy(&httpConfig.Proxy)
}

// ValidatePipelineConfig checks stage sizes, pool bounds and the gate threshold.
// Zero values are allowed and mean "use the default".
func ValidatePipelineConfig(p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("pipeline configuration is nil")
	}
	if p.RiskThreshold != nil && (*p.RiskThreshold < 0 || *p.RiskThreshold > 100 || math.IsNaN(*p.RiskThreshold)) {
		return errors.NewConfigError("risk_threshold", "must be within [0,100], got %v", *p.RiskThreshold)
	}
	counts := map[string]int{
		"stage1_batch_size":  p.Stage1BatchSize,
		"stage1_concurrency": p.Stage1Concurrency,
		"stage2_concurrency": p.Stage2Concurrency,
		"stage3_concurrency": p.Stage3Concurrency,
		"retrieval_k":        p.RetrievalK,
	}
	for name, v := range counts {
		if v < 0 {
			return errors.NewConfigError(name, "cannot be negative: %d", v)
		}
	}
	if p.StaticFallbackConfidence != nil && (*p.StaticFallbackConfidence < 0 || *p.StaticFallbackConfidence > 1) {
		return errors.NewConfigError("static_fallback_confidence", "must be within [0,1], got %v", *p.StaticFallbackConfidence)
	}
	return nil
}

// ValidateProgressWeights requires non-negative weights summing to 1 unless all are unset.
func ValidateProgressWeights(w *ProgressWeights) error {
	if w == nil || *w == (ProgressWeights{}) {
		return nil
	}
	values := []float64{w.Acquisition, w.FeatureExtraction, w.Stage1, w.Stage2, w.Stage3, w.Finalization}
	sum := 0.0
	for _, v := range values {
		if v < 0 {
			return errors.NewConfigError("progress_weights", "weights cannot be negative")
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return errors.NewConfigError("progress_weights", "weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// ValidateOracleConfig checks provider, retry and breaker settings.
func ValidateOracleConfig(o *Oracle) error {
	if o == nil {
		return fmt.Errorf("oracle configuration is nil")
	}
	if !contains(supportedOracleProviders, strings.ToLower(o.Provider)) {
		return errors.NewConfigError("provider", "unsupported oracle provider %q", o.Provider)
	}
	if o.BaseURL != "" {
		if _, err := url.ParseRequestURI(o.BaseURL); err != nil {
			return errors.NewConfigError("base_url", "invalid URL: %v", err)
		}
	}
	if o.MaxAttempts < 0 || o.MaxAttempts > 10 {
		return errors.NewConfigError("max_attempts", "must be between 0 and 10: %d", o.MaxAttempts)
	}
	if o.FailureThreshold < 0 || o.FailureWindow < 0 {
		return errors.NewConfigError("failure_threshold", "breaker settings cannot be negative")
	}
	if o.FailureWindow > 0 && o.FailureThreshold > o.FailureWindow {
		return errors.NewConfigError("failure_threshold", "%d exceeds failure_window %d", o.FailureThreshold, o.FailureWindow)
	}
	if o.MaxConcurrency < 0 {
		return errors.NewConfigError("max_concurrency", "cannot be negative: %d", o.MaxConcurrency)
	}
	if o.RequestsPerSecond < 0 {
		return errors.NewConfigError("requests_per_second", "cannot be negative: %v", o.RequestsPerSecond)
	}

	durations := map[string]time.Duration{
		"timeout":         o.Timeout,
		"initial_backoff": o.InitialBackoff,
		"max_backoff":     o.MaxBackoff,
		"cooldown":        o.Cooldown,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 10*time.Minute); err != nil {
			return err
		}
	}
	return nil
}

// ValidateKnowledgeBaseConfig checks the index and embedding settings.
func ValidateKnowledgeBaseConfig(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("knowledge base configuration is nil")
	}
	if kb.LSHTables < 0 || kb.LSHTables > 64 {
		return errors.NewConfigError("lsh_tables", "must be between 0 and 64: %d", kb.LSHTables)
	}
	if kb.LSHBits < 0 || kb.LSHBits > 32 {
		return errors.NewConfigError("lsh_bits", "must be between 0 and 32: %d", kb.LSHBits)
	}
	provider := strings.ToLower(kb.Embedding.Provider)
	if !contains(supportedEmbeddingProviders, provider) {
		return errors.NewConfigError("embedding.provider", "unsupported embedding provider %q", kb.Embedding.Provider)
	}
	if provider == "http" && kb.Embedding.URL == "" {
		return errors.NewConfigError("embedding.url", "must be set for the http embedding provider")
	}
	if kb.Embedding.Dimensions < 0 {
		return errors.NewConfigError("embedding.dimensions", "cannot be negative: %d", kb.Embedding.Dimensions)
	}
	return nil
}

// validateDuration checks that a time.Duration is valid and within a specified maximum duration.
func validateDuration(d time.Duration, name string, max time.Duration) error {
	if d < 0 {
		return errors.NewConfigError(name, "duration %v cannot be negative", d)
	}
	if d > max {
		return errors.NewConfigError(name, "duration %v exceeds maximum of %v", d, max)
	}
	return nil
}

// validateProxy checks if the given Proxy settings are valid.
func validateProxy(proxy *Proxy) error {
	if proxy == nil {
		return fmt.Errorf("proxy configuration is nil")
	}

	// If host or port is not set, skip further validation
	if proxy.Host == "" || proxy.Port == 0 {
		return nil
	}

	if err := validateHost(&proxy.Host); err != nil {
		return err
	}
	return validatePort(proxy.Port)
}

// validateHost ensures the host includes a scheme; adds "http" if missing.
func validateHost(host *string) error {
	if host == nil {
		return fmt.Errorf("host string pointer is nil")
	}

	if !strings.Contains(*host, "://") {
		*host = "http://" + *host
	}
	*host = strings.TrimRight(*host, "/")

	if _, err := url.Parse(*host); err != nil {
		return errors.NewConfigError("proxy.host", "invalid host URL: %v", err)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return errors.NewConfigError("proxy.port", "must be between 1 and 65535, got %d", port)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
