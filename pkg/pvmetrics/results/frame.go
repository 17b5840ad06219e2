// Package results holds the forecast result rows that an evaluation runs on,
// and reads them from CSV or SQLite.
package results

import (
	"fmt"
	"math"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

// DefaultTargetStep is the resolution target times are floored to.
const DefaultTargetStep = 5 * time.Minute

// Row is one forecast of one site for one target time
type Row struct {
	T0         time.Time // forecast issue time
	TargetTime time.Time
	ID         string
	Latitude   float64
	Longitude  float64
	Forecast   float64
	Actual     float64
	T0Actual   float64 // outturn known at T0
	Capacity   float64
}

// Frame is a set of rows sharing one outturn unit.
type Frame struct {
	Unit string
	Rows []Row
}

// Columns is a Frame split into parallel slices.
type Columns struct {
	T0         []time.Time
	TargetTime []time.Time
	Latitude   []float64
	Longitude  []float64
	Forecast   []float64
	Actual     []float64
	T0Actual   []float64
	Capacity   []float64
}

// RequiredColumns lists the input columns needed for unit.
func RequiredColumns(unit string) []string {
	return []string{
		"t0_datetime_utc",
		"target_datetime_utc",
		"forecast_pv_outturn_" + unit,
		"actual_pv_outturn_" + unit,
		"t0_actual_pv_outturn_" + unit,
		"id",
		"latitude",
		"longitude",
		"capacity_" + unit + "p",
	}
}

// Validate checks the frame is usable for evaluation. Every bad row is
// reported, up to a limit.
func (f Frame) Validate() error {
	if f.Unit == "" {
		return fmt.Errorf("%w: frame has no unit", types.ErrPrecondition)
	}
	if len(f.Rows) == 0 {
		return fmt.Errorf("%w: no forecast results", types.ErrPrecondition)
	}

	const maxReported = 10
	var errs []error
	for i, r := range f.Rows {
		if len(errs) == maxReported {
			errs = append(errs, fmt.Errorf("further rows not checked"))
			break
		}
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("row %d: %v", i, err))
		}
	}
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return fmt.Errorf("%w: %v", types.ErrPrecondition, agg)
	}
	return nil
}

func (r Row) validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"forecast", r.Forecast},
		{"actual", r.Actual},
		{"t0 actual", r.T0Actual},
		{"latitude", r.Latitude},
		{"longitude", r.Longitude},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%s is not finite", f.name)
		}
	}
	if !(r.Capacity > 0) || math.IsInf(r.Capacity, 0) {
		return fmt.Errorf("capacity must be positive, got %v", r.Capacity)
	}
	if r.T0.IsZero() || r.TargetTime.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// FloorTargetTimes returns a copy of the frame with target times floored to step.
func (f Frame) FloorTargetTimes(step time.Duration) Frame {
	rows := make([]Row, len(f.Rows))
	copy(rows, f.Rows)
	for i := range rows {
		rows[i].TargetTime = rows[i].TargetTime.UTC().Truncate(step)
	}
	return Frame{Unit: f.Unit, Rows: rows}
}

// IDs returns the distinct ids in order of first appearance.
func (f Frame) IDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range f.Rows {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}
	return ids
}

// ByID returns the rows for one id, in their original order.
func (f Frame) ByID(id string) Frame {
	var rows []Row
	for _, r := range f.Rows {
		if r.ID == id {
			rows = append(rows, r)
		}
	}
	return Frame{Unit: f.Unit, Rows: rows}
}

// Columns splits the rows into parallel slices.
func (f Frame) Columns() Columns {
	n := len(f.Rows)
	c := Columns{
		T0:         make([]time.Time, n),
		TargetTime: make([]time.Time, n),
		Latitude:   make([]float64, n),
		Longitude:  make([]float64, n),
		Forecast:   make([]float64, n),
		Actual:     make([]float64, n),
		T0Actual:   make([]float64, n),
		Capacity:   make([]float64, n),
	}
	for i, r := range f.Rows {
		c.T0[i] = r.T0
		c.TargetTime[i] = r.TargetTime
		c.Latitude[i] = r.Latitude
		c.Longitude[i] = r.Longitude
		c.Forecast[i] = r.Forecast
		c.Actual[i] = r.Actual
		c.T0Actual[i] = r.T0Actual
		c.Capacity[i] = r.Capacity
	}
	return c
}
