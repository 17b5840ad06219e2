package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Evaluation: EvaluationConfig{
			ModelName:             "model",
			Unit:                  "mw",
			NightThresholdDegrees: -5,
			ErrorThresholds:       []float64{1000, 2000},
			PerID:                 true,
			Workers:               4,
		},
		Input: InputConfig{
			Format: FormatCSV,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	def := Default()
	cfg := &Config{
		Evaluation: EvaluationConfig{
			ModelName:             getEnvOrDefault("PVMETRICS_MODEL_NAME", def.Evaluation.ModelName),
			Unit:                  strings.ToLower(getEnvOrDefault("PVMETRICS_UNIT", def.Evaluation.Unit)),
			NightThresholdDegrees: getFloatOrDefault("PVMETRICS_NIGHT_THRESHOLD_DEGREES", def.Evaluation.NightThresholdDegrees),
			ErrorThresholds:       getFloatsOrDefault("PVMETRICS_ERROR_THRESHOLDS", def.Evaluation.ErrorThresholds),
			PerID:                 getBoolOrDefault("PVMETRICS_PER_ID", def.Evaluation.PerID),
			Workers:               getIntOrDefault("PVMETRICS_WORKERS", def.Evaluation.Workers),
		},
		Input: InputConfig{
			Format: getEnvOrDefault("PVMETRICS_INPUT_FORMAT", def.Input.Format),
			Path:   os.Getenv("PVMETRICS_INPUT_PATH"),
		},
		Observability: ObservabilityConfig{
			MetricsTextfile: os.Getenv("PVMETRICS_METRICS_TEXTFILE"),
		},
	}

	// Segment splits only come from a file
	if splitsPath := os.Getenv("PVMETRICS_SPLITS_PATH"); splitsPath != "" {
		if err := loadSegments(cfg, splitsPath); err != nil {
			return nil, fmt.Errorf("failed to load segment splits: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	klog.V(2).InfoS("Loaded configuration from environment",
		"model", cfg.Evaluation.ModelName,
		"unit", cfg.Evaluation.Unit,
		"nightThresholdDegrees", cfg.Evaluation.NightThresholdDegrees,
		"errorThresholds", cfg.Evaluation.ErrorThresholds,
		"workers", cfg.Evaluation.Workers)

	return cfg, nil
}

// LoadFromFile reads a YAML configuration file. Fields missing from the file
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}
	cfg.Evaluation.Unit = strings.ToLower(cfg.Evaluation.Unit)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	klog.V(2).InfoS("Loaded configuration from file",
		"path", path,
		"model", cfg.Evaluation.ModelName,
		"unit", cfg.Evaluation.Unit,
		"hourBuckets", len(cfg.HourDefinition()),
		"yearBuckets", len(cfg.YearDefinition()))

	return cfg, nil
}

func loadSegments(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read segment splits file: %v", err)
	}

	segments := &SegmentsConfig{}
	if err := yaml.Unmarshal(data, segments); err != nil {
		return fmt.Errorf("failed to parse segment splits: %v", err)
	}

	cfg.Segments = *segments
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

// getFloatsOrDefault parses a comma separated list. An invalid entry discards
// the whole list.
func getFloatsOrDefault(key string, defaultValue []float64) []float64 {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}

	var values []float64
	for _, part := range strings.Split(strValue, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.ParseFloat(part, 64)
		if err != nil {
			klog.V(2).InfoS("Invalid float list, using default",
				"key", key,
				"value", strValue,
				"default", defaultValue)
			return defaultValue
		}
		values = append(values, value)
	}
	return values
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}
