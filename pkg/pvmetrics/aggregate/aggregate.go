// Package aggregate expands one aligned prediction/target series into the full
// namespaced metrics record: overall, per time of day, per time of year, per
// forecast horizon, large error counts, and the same again for daylight only.
package aggregate

import (
	"fmt"
	"math"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/kernel"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/segment"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/solar"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

// NoNightPrefix namespaces metrics computed on daylight samples only.
const NoNightPrefix = "no_night"

// DefaultNightThresholdDegrees is the sun elevation at or below which a sample
// counts as night.
const DefaultNightThresholdDegrees = -5.0

// Input is one aligned series. Predictions, Target, Timestamps and StartTimes
// (when set) must have the same length.
type Input struct {
	Predictions types.Array
	Target      types.Array
	Timestamps  []time.Time
	// StartTimes are the forecast issue times. Horizon metrics are skipped when nil.
	StartTimes []time.Time
	// Latitude and Longitude are per-sample or a single value; only needed
	// for night filtering.
	Latitude  []float64
	Longitude []float64
}

// Options controls what is computed and how keys are namespaced.
type Options struct {
	// Tag is prepended to every key, e.g. "pvnet/mw".
	Tag string
	// Thresholds are absolute error magnitudes for large error counts.
	Thresholds []float64
	// Sigma selects sigma-based large error counting. Not supported; it is
	// rejected together with Thresholds and fails on its own.
	Sigma *float64

	FilterByNight         bool
	NightThresholdDegrees float64

	// HourSplit and YearSplit default to segment.DefaultHourSplit and
	// segment.DefaultYearSplit when nil.
	HourSplit segment.Definition
	YearSplit segment.Definition

	// Gate defaults to solar.NOAA.
	Gate solar.Gate
}

// DefaultOptions returns options with the default splits, the default night
// threshold and the NOAA solar gate.
func DefaultOptions() Options {
	return Options{
		NightThresholdDegrees: DefaultNightThresholdDegrees,
		HourSplit:             segment.DefaultHourSplit(),
		YearSplit:             segment.DefaultYearSplit(),
		Gate:                  solar.NOAA{},
	}
}

// Compute runs every stage over the series and returns the tagged record.
// The daylight pass is prefixed with "no_night/" before the tag is applied.
func Compute(in Input, opts Options) (types.Record, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := in.validate(opts.FilterByNight); err != nil {
		return nil, err
	}

	record, err := computeStages(in, opts)
	if err != nil {
		return nil, err
	}

	if opts.FilterByNight {
		day, err := daylight(in, opts)
		if err != nil {
			return nil, err
		}
		if day.Predictions.Len() == 0 {
			klog.V(2).InfoS("No daylight samples left after night filter, skipping no_night metrics",
				"tag", opts.Tag,
				"samples", in.Predictions.Len(),
				"nightThresholdDegrees", opts.NightThresholdDegrees)
		} else {
			dayRecord, err := computeStages(day, opts)
			if err != nil {
				return nil, fmt.Errorf("daylight metrics: %w", err)
			}
			record.Merge(dayRecord.Prefixed(NoNightPrefix))
		}
	}

	klog.V(2).InfoS("Computed metrics",
		"tag", opts.Tag,
		"samples", in.Predictions.Len(),
		"keys", len(record))

	return record.Prefixed(opts.Tag), nil
}

// computeStages produces the namespace-less keys of stages 1 to 5.
func computeStages(in Input, opts Options) (types.Record, error) {
	record, err := kernel.Common(in.Predictions, in.Target)
	if err != nil {
		return nil, err
	}

	if err := scorePartitions(record, in, segment.ByHour(in.Timestamps, opts.HourSplit)); err != nil {
		return nil, fmt.Errorf("time of day metrics: %w", err)
	}
	if err := scorePartitions(record, in, segment.ByMonth(in.Timestamps, opts.YearSplit)); err != nil {
		return nil, fmt.Errorf("time of year metrics: %w", err)
	}

	if in.StartTimes != nil {
		horizons, err := segment.ByHorizon(in.Timestamps, in.StartTimes)
		if err != nil {
			return nil, err
		}
		if err := scorePartitions(record, in, horizons); err != nil {
			return nil, fmt.Errorf("forecast horizon metrics: %w", err)
		}
	}

	if opts.Sigma != nil {
		counts, err := kernel.CountLargeErrorsSigma(in.Predictions, in.Target, *opts.Sigma)
		if err != nil {
			return nil, err
		}
		record.Merge(counts)
	}
	for _, threshold := range opts.Thresholds {
		counts, err := kernel.CountLargeErrors(in.Predictions, in.Target, threshold)
		if err != nil {
			return nil, err
		}
		record.Merge(counts)
	}

	return record, nil
}

func scorePartitions(record types.Record, in Input, parts []segment.Partition) error {
	for _, p := range parts {
		m, err := kernel.Common(in.Predictions.Select(p.Indices), in.Target.Select(p.Indices))
		if err != nil {
			return fmt.Errorf("segment %q: %w", p.Label, err)
		}
		klog.V(4).InfoS("Scored segment", "segment", p.Label, "samples", len(p.Indices))
		record.Merge(m.Prefixed(p.Label))
	}
	return nil
}

// daylight returns the subset of in whose sun elevation is above the night
// threshold. Every parallel slice is filtered with the same indices.
func daylight(in Input, opts Options) (Input, error) {
	elevations, err := opts.Gate.Elevation(in.Timestamps, in.Latitude, in.Longitude)
	if err != nil {
		return Input{}, fmt.Errorf("sun elevation: %w", err)
	}
	if len(elevations) != len(in.Timestamps) {
		return Input{}, fmt.Errorf("%w: solar gate returned %d elevations for %d samples",
			types.ErrPrecondition, len(elevations), len(in.Timestamps))
	}

	idx := segment.Daylight(elevations, opts.NightThresholdDegrees)
	return Input{
		Predictions: in.Predictions.Select(idx),
		Target:      in.Target.Select(idx),
		Timestamps:  segment.SelectTimes(in.Timestamps, idx),
		StartTimes:  segment.SelectTimes(in.StartTimes, idx),
		Latitude:    segment.SelectFloats(in.Latitude, idx),
		Longitude:   segment.SelectFloats(in.Longitude, idx),
	}, nil
}

func (o Options) withDefaults() Options {
	if o.HourSplit == nil {
		o.HourSplit = segment.DefaultHourSplit()
	}
	if o.YearSplit == nil {
		o.YearSplit = segment.DefaultYearSplit()
	}
	if o.Gate == nil {
		o.Gate = solar.NOAA{}
	}
	return o
}

func (o Options) validate() error {
	if o.Sigma != nil && len(o.Thresholds) > 0 {
		return fmt.Errorf("%w: cannot set both sigma and thresholds", types.ErrConflictingOptions)
	}
	for _, t := range o.Thresholds {
		if t < 0 || math.IsNaN(t) {
			return fmt.Errorf("%w: large error threshold must be >= 0, got %v", types.ErrPrecondition, t)
		}
	}
	if math.IsNaN(o.NightThresholdDegrees) {
		return fmt.Errorf("%w: night threshold is NaN", types.ErrPrecondition)
	}
	if err := o.HourSplit.Validate(0, 23); err != nil {
		return fmt.Errorf("hour split: %w", err)
	}
	if err := o.YearSplit.Validate(1, 12); err != nil {
		return fmt.Errorf("year split: %w", err)
	}
	return nil
}

func (in Input) validate(filterByNight bool) error {
	n := in.Predictions.Len()
	if in.Target.Len() != n || len(in.Timestamps) != n {
		return fmt.Errorf("%w: lengths differ (predictions %d, target %d, timestamps %d)",
			types.ErrPrecondition, n, in.Target.Len(), len(in.Timestamps))
	}
	if in.StartTimes != nil && len(in.StartTimes) != n {
		return fmt.Errorf("%w: %d start times for %d samples", types.ErrPrecondition, len(in.StartTimes), n)
	}
	if n == 0 {
		return kernel.ErrEmpty
	}
	if filterByNight && (len(in.Latitude) == 0 || len(in.Longitude) == 0) {
		return fmt.Errorf("%w: night filtering requires latitude and longitude", types.ErrPrecondition)
	}
	if filterByNight && (!broadcastable(len(in.Latitude), n) || !broadcastable(len(in.Longitude), n)) {
		return fmt.Errorf("%w: %d latitudes and %d longitudes for %d samples",
			types.ErrPrecondition, len(in.Latitude), len(in.Longitude), n)
	}
	return nil
}

// broadcastable reports whether a per-sample field of length l can be used
// with n samples: one shared value or one per sample.
func broadcastable(l, n int) bool {
	return l == 1 || l == n
}
