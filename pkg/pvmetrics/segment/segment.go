// Package segment partitions a series into named buckets along one axis at a
// time: hour of day, month of year, forecast horizon and daylight.
package segment

import (
	"fmt"
	"math"
	"strconv"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

// Bucket maps a label to the calendar values (hours or months) it selects.
type Bucket struct {
	Label  string
	Values sets.Set[int]
}

// NewBucket builds a bucket from a label and its selector values.
func NewBucket(label string, values ...int) Bucket {
	return Bucket{Label: label, Values: sets.New(values...)}
}

// Definition is an ordered list of buckets. Buckets need not be contiguous or
// exhaustive; a sample matching no bucket is simply not scored on that axis.
type Definition []Bucket

// Partition is a non-empty bucket together with the sample indices it holds.
type Partition struct {
	Label   string
	Indices []int
}

// DefaultHourSplit is the default time-of-day split.
func DefaultHourSplit() Definition {
	return Definition{
		NewBucket("Night", 21, 22, 23, 0, 1, 2, 3),
		NewBucket("Morning", 4, 5, 6, 7, 8, 9),
		NewBucket("Afternoon", 10, 11, 12, 13, 14, 15),
		NewBucket("Evening", 16, 17, 18, 19, 20),
	}
}

// DefaultYearSplit is the default time-of-year split.
func DefaultYearSplit() Definition {
	return Definition{
		NewBucket("Winter", 12, 1, 2),
		NewBucket("Spring", 3, 4, 5),
		NewBucket("Summer", 6, 7, 8),
		NewBucket("Fall", 9, 10, 11),
	}
}

// Validate checks labels are present and unique and every selector lies in
// [lo, hi].
func (d Definition) Validate(lo, hi int) error {
	var errs []error
	seen := sets.New[string]()
	for i, b := range d {
		if b.Label == "" {
			errs = append(errs, fmt.Errorf("bucket %d has an empty label", i))
		}
		if seen.Has(b.Label) {
			errs = append(errs, fmt.Errorf("duplicate bucket label %q", b.Label))
		}
		seen.Insert(b.Label)
		for _, v := range sets.List(b.Values) {
			if v < lo || v > hi {
				errs = append(errs, fmt.Errorf("bucket %q: value %d outside [%d, %d]", b.Label, v, lo, hi))
			}
		}
	}
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return fmt.Errorf("%w: invalid segment definition: %v", types.ErrPrecondition, agg)
	}
	return nil
}

// ByHour buckets samples by their UTC hour of day.
func ByHour(timestamps []time.Time, def Definition) []Partition {
	return byCalendar(timestamps, def, func(t time.Time) int { return t.UTC().Hour() })
}

// ByMonth buckets samples by their UTC calendar month.
func ByMonth(timestamps []time.Time, def Definition) []Partition {
	return byCalendar(timestamps, def, func(t time.Time) int { return int(t.UTC().Month()) })
}

func byCalendar(timestamps []time.Time, def Definition, field func(time.Time) int) []Partition {
	var out []Partition
	for _, b := range def {
		var indices []int
		for i, ts := range timestamps {
			if b.Values.Has(field(ts)) {
				indices = append(indices, i)
			}
		}
		if len(indices) > 0 {
			out = append(out, Partition{Label: b.Label, Indices: indices})
		}
	}
	return out
}

// HorizonMinutes returns the whole minutes between a forecast's issue time and
// its target time, rounded towards negative infinity. Whole days are kept, so
// 25h01m is 1501 minutes rather than 61.
func HorizonMinutes(target, start time.Time) int64 {
	return int64(math.Floor(target.Sub(start).Seconds() / 60))
}

// HorizonLabel formats a horizon bucket label.
func HorizonLabel(minutes int64) string {
	return "forecast_horizon_" + strconv.FormatInt(minutes, 10) + "_minutes"
}

// ByHorizon creates one bucket per distinct forecast horizon. Buckets are
// ordered by first appearance; every sample sharing a horizon lands in the
// same bucket.
func ByHorizon(timestamps, startTimes []time.Time) ([]Partition, error) {
	if len(timestamps) != len(startTimes) {
		return nil, fmt.Errorf("%w: %d timestamps but %d start times", types.ErrPrecondition, len(timestamps), len(startTimes))
	}

	pos := make(map[int64]int)
	var out []Partition
	for i := range timestamps {
		m := HorizonMinutes(timestamps[i], startTimes[i])
		j, ok := pos[m]
		if !ok {
			j = len(out)
			pos[m] = j
			out = append(out, Partition{Label: HorizonLabel(m)})
		}
		out[j].Indices = append(out[j].Indices, i)
	}
	return out, nil
}

// Daylight returns the indices of samples whose solar elevation is strictly
// above threshold. Elevation at or below the threshold counts as night.
func Daylight(elevations []float64, threshold float64) []int {
	var indices []int
	for i, e := range elevations {
		if e > threshold {
			indices = append(indices, i)
		}
	}
	return indices
}

// SelectTimes returns the timestamps at the given indices.
func SelectTimes(timestamps []time.Time, indices []int) []time.Time {
	if timestamps == nil {
		return nil
	}
	out := make([]time.Time, len(indices))
	for k, i := range indices {
		out[k] = timestamps[i]
	}
	return out
}

// SelectFloats returns values at the given indices. A length-1 slice is
// treated as a broadcast constant and returned as is.
func SelectFloats(values []float64, indices []int) []float64 {
	if len(values) <= 1 {
		return values
	}
	out := make([]float64, len(indices))
	for k, i := range indices {
		out[k] = values[i]
	}
	return out
}
