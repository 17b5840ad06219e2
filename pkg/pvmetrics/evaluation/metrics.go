package evaluation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"k8s.io/component-base/metrics"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/klog/v2"
)

const (
	// Subsystem name used for evaluation metrics
	evaluationSubsystem = "evaluation"
	namespace           = "pvmetrics"
)

var (
	// AggregationsTotal counts metric aggregation passes by series unit
	AggregationsTotal = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Namespace:      namespace,
			Subsystem:      evaluationSubsystem,
			Name:           "aggregations_total",
			Help:           "Number of metric aggregations run, by unit",
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"unit"}, // "mw", "kw", "w" or "normalized"
	)

	// EvaluationDuration measures how long a full evaluation takes
	EvaluationDuration = metrics.NewHistogramVec(
		&metrics.HistogramOpts{
			Namespace:      namespace,
			Subsystem:      evaluationSubsystem,
			Name:           "duration_seconds",
			Help:           "Duration of forecast evaluations",
			Buckets:        metrics.ExponentialBuckets(0.001, 2, 15),
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"result"}, // "success", "error"
	)

	// MetricKeys is the number of keys in the last evaluation record
	MetricKeys = metrics.NewGauge(
		&metrics.GaugeOpts{
			Namespace:      namespace,
			Subsystem:      evaluationSubsystem,
			Name:           "metric_keys",
			Help:           "Number of metric keys produced by the last evaluation",
			StabilityLevel: metrics.ALPHA,
		},
	)

	// Entities is the number of distinct ids in the last evaluation
	Entities = metrics.NewGauge(
		&metrics.GaugeOpts{
			Namespace:      namespace,
			Subsystem:      evaluationSubsystem,
			Name:           "entities",
			Help:           "Number of distinct ids seen by the last evaluation",
			StabilityLevel: metrics.ALPHA,
		},
	)
)

func init() {
	// Register all metrics with the legacy registry
	legacyregistry.MustRegister(AggregationsTotal)
	legacyregistry.MustRegister(EvaluationDuration)
	legacyregistry.MustRegister(MetricKeys)
	legacyregistry.MustRegister(Entities)
}

// WriteTextfile dumps everything in gatherer to path in the Prometheus text
// format, for the node exporter textfile collector. The file is replaced
// atomically.
func WriteTextfile(gatherer prometheus.Gatherer, path string) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %v", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metrics textfile: %v", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set metrics textfile mode: %v", err)
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metric family %s: %v", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move metrics textfile into place: %v", err)
	}

	klog.V(2).InfoS("Wrote metrics textfile", "path", path, "families", len(families))
	return nil
}
