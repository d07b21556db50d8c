package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
)

// GetBoolValue retrieves a boolean value from a nested struct based on a dot-separated path.
// It returns the provided defaultValue if the specified field is not explicitly set or is nil.
func GetBoolValue(config interface{}, fieldPath string, defaultValue bool) bool {
	if config == nil {
		return defaultValue
	}

	fields := strings.Split(fieldPath, ".")
	val := reflect.ValueOf(config)

	for _, field := range fields {
		if val.Kind() == reflect.Ptr {
			if val.IsNil() {
				return defaultValue
			}
			val = val.Elem()
		}

		val = val.FieldByName(field)
		if !val.IsValid() {
			return defaultValue
		}
	}

	if val.Kind() == reflect.Ptr && !val.IsNil() {
		return val.Elem().Bool()
	} else if val.Kind() == reflect.Bool {
		return val.Bool()
	}

	return defaultValue
}

// SetThen selects value if it is set, otherwise defaultValue.
func SetThen[T any](value T, defaultValue T) T {
	if reflect.ValueOf(value).IsZero() {
		return defaultValue
	}
	return value
}

// DerefThen returns *value when the pointer is set, otherwise defaultValue.
// Used for settings where the zero value is meaningful (a threshold of 0).
func DerefThen[T any](value *T, defaultValue T) T {
	if value == nil {
		return defaultValue
	}
	return *value
}

// DefaultAPIKeyEnv holds the oracle API key when oracle.api_key_env is not set.
const DefaultAPIKeyEnv = "OPENAI_API_KEY"

// APIKey reads the oracle API key from the configured environment variable.
func (o Oracle) APIKey() string {
	return os.Getenv(SetThen(o.APIKeyEnv, DefaultAPIKeyEnv))
}

// DefaultDojoTokenEnv holds the DefectDojo API token when defectdojo.token_env is not set.
const DefaultDojoTokenEnv = "TRIAGEIO_DOJO_TOKEN"

// Token returns the DefectDojo API token from the environment.
func (d DefectDojo) Token() string {
	return os.Getenv(SetThen(d.TokenEnv, DefaultDojoTokenEnv))
}

// applyEnvOverrides lets the environment win over the file for deployment-specific values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGEIO_ORACLE_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("TRIAGEIO_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("TRIAGEIO_KB_INDEX"); v != "" {
		cfg.KnowledgeBase.IndexPath = v
	}
	if v := os.Getenv("TRIAGEIO_RISK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.RiskThreshold = &f
		}
	}
	if v := os.Getenv("TRIAGEIO_DOJO_URL"); v != "" {
		cfg.DefectDojo.URL = v
	}
	if v := os.Getenv("TRIAGEIO_CACHE_PATH"); v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Path = v
	}
}
