package config

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/segment"
)

// Input formats understood by the evaluate command.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// Config holds all configuration for a pvmetrics evaluation run
type Config struct {
	Evaluation    EvaluationConfig    `yaml:"evaluation"`
	Segments      SegmentsConfig      `yaml:"segments"`
	Input         InputConfig         `yaml:"input"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// EvaluationConfig holds the knobs passed to the evaluator
type EvaluationConfig struct {
	ModelName             string    `yaml:"modelName"`
	Unit                  string    `yaml:"unit"` // mw, kw or w
	NightThresholdDegrees float64   `yaml:"nightThresholdDegrees"`
	ErrorThresholds       []float64 `yaml:"errorThresholds"` // absolute error, in Unit
	PerID                 bool      `yaml:"perId"`
	Workers               int       `yaml:"workers"`
}

// SegmentsConfig overrides the default time-of-day and time-of-year splits.
// Bucket order is kept, so the YAML uses lists rather than maps.
type SegmentsConfig struct {
	HourSplit []BucketConfig `yaml:"hourSplit"`
	YearSplit []BucketConfig `yaml:"yearSplit"`
}

// BucketConfig is one labelled bucket of a split
type BucketConfig struct {
	Label  string `yaml:"label"`
	Values []int  `yaml:"values"`
}

// InputConfig says where forecast results are read from
type InputConfig struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

// ObservabilityConfig holds configuration for instrumentation output
type ObservabilityConfig struct {
	MetricsTextfile string `yaml:"metricsTextfile"`
}

// HourDefinition returns the configured hour split, or the default one.
func (c *Config) HourDefinition() segment.Definition {
	if len(c.Segments.HourSplit) == 0 {
		return segment.DefaultHourSplit()
	}
	return toDefinition(c.Segments.HourSplit)
}

// YearDefinition returns the configured month split, or the default one.
func (c *Config) YearDefinition() segment.Definition {
	if len(c.Segments.YearSplit) == 0 {
		return segment.DefaultYearSplit()
	}
	return toDefinition(c.Segments.YearSplit)
}

func toDefinition(buckets []BucketConfig) segment.Definition {
	def := make(segment.Definition, 0, len(buckets))
	for _, b := range buckets {
		def = append(def, segment.NewBucket(b.Label, b.Values...))
	}
	return def
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Evaluation.ModelName == "" {
		errs = append(errs, fmt.Errorf("model name is required"))
	}
	switch c.Evaluation.Unit {
	case "mw", "kw", "w":
	default:
		errs = append(errs, fmt.Errorf("unit must be one of mw, kw, w, got %q", c.Evaluation.Unit))
	}
	for i, th := range c.Evaluation.ErrorThresholds {
		if th < 0 {
			errs = append(errs, fmt.Errorf("error threshold at index %d must not be negative", i))
		}
	}
	if c.Evaluation.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive"))
	}

	if err := c.HourDefinition().Validate(0, 23); err != nil {
		errs = append(errs, fmt.Errorf("hour split: %v", err))
	}
	if err := c.YearDefinition().Validate(1, 12); err != nil {
		errs = append(errs, fmt.Errorf("year split: %v", err))
	}

	switch c.Input.Format {
	case FormatCSV, FormatSQLite:
	default:
		errs = append(errs, fmt.Errorf("input format must be %s or %s, got %q", FormatCSV, FormatSQLite, c.Input.Format))
	}

	return utilerrors.NewAggregate(errs)
}
