package segment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

func hourly(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func labels(parts []Partition) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Label
	}
	return out
}

func TestByHourDefault(t *testing.T) {
	ts := hourly(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 24)
	parts := ByHour(ts, DefaultHourSplit())

	require.Equal(t, []string{"Night", "Morning", "Afternoon", "Evening"}, labels(parts))
	assert.Equal(t, []int{0, 1, 2, 3, 21, 22, 23}, parts[0].Indices)
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, parts[1].Indices)
	assert.Equal(t, []int{10, 11, 12, 13, 14, 15}, parts[2].Indices)
	assert.Equal(t, []int{16, 17, 18, 19, 20}, parts[3].Indices)
}

func TestByHourSkipsEmptyBuckets(t *testing.T) {
	ts := hourly(time.Date(2022, 1, 1, 10, 0, 0, 0, time.UTC), 3)
	parts := ByHour(ts, DefaultHourSplit())
	assert.Equal(t, []string{"Afternoon"}, labels(parts))
}

func TestByHourCustomSplit(t *testing.T) {
	def := Definition{NewBucket("peak", 17, 18), NewBucket("dawn", 5)}
	ts := hourly(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 24)

	parts := ByHour(ts, def)
	require.Equal(t, []string{"peak", "dawn"}, labels(parts))
	assert.Equal(t, []int{17, 18}, parts[0].Indices)
	assert.Equal(t, []int{5}, parts[1].Indices)
}

func TestByHourUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	// 01:00 local is 23:00 UTC the day before
	ts := []time.Time{time.Date(2022, 1, 2, 1, 0, 0, 0, loc)}
	parts := ByHour(ts, Definition{NewBucket("late", 23)})
	assert.Equal(t, []string{"late"}, labels(parts))
}

func TestPartitionCompleteness(t *testing.T) {
	ts := hourly(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 24*365)

	for name, parts := range map[string][]Partition{
		"hour":  ByHour(ts, DefaultHourSplit()),
		"month": ByMonth(ts, DefaultYearSplit()),
	} {
		seen := make(map[int]bool)
		total := 0
		for _, p := range parts {
			total += len(p.Indices)
			for _, i := range p.Indices {
				assert.False(t, seen[i], "%s: sample %d assigned twice", name, i)
				seen[i] = true
			}
		}
		assert.Equal(t, len(ts), total, name)
	}
}

func TestByMonth(t *testing.T) {
	var ts []time.Time
	for m := time.January; m <= time.December; m++ {
		ts = append(ts, time.Date(2022, m, 15, 12, 0, 0, 0, time.UTC))
	}
	parts := ByMonth(ts, DefaultYearSplit())
	require.Equal(t, []string{"Winter", "Spring", "Summer", "Fall"}, labels(parts))
	assert.Equal(t, []int{0, 1, 11}, parts[0].Indices)
	assert.Equal(t, []int{8, 9, 10}, parts[3].Indices)
}

func TestByHorizon(t *testing.T) {
	base := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := []time.Time{
		base.Add(30 * time.Minute),
		base.Add(60 * time.Minute),
		base.Add(30 * time.Minute),
		base.Add(90*time.Second + 25*time.Hour),
	}
	starts := []time.Time{base, base, base, base}

	parts, err := ByHorizon(ts, starts)
	require.NoError(t, err)
	require.Equal(t, []string{
		"forecast_horizon_30_minutes",
		"forecast_horizon_60_minutes",
		"forecast_horizon_1501_minutes",
	}, labels(parts))
	assert.Equal(t, []int{0, 2}, parts[0].Indices)
	assert.Equal(t, []int{3}, parts[2].Indices)
}

func TestByHorizonMismatch(t *testing.T) {
	_, err := ByHorizon(make([]time.Time, 2), make([]time.Time, 3))
	assert.True(t, errors.Is(err, types.ErrPrecondition))
}

func TestHorizonMinutesFloors(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(4), HorizonMinutes(start.Add(299*time.Second), start))
	assert.Equal(t, int64(-1), HorizonMinutes(start.Add(-30*time.Second), start))
	assert.Equal(t, int64(1501), HorizonMinutes(start.Add(25*time.Hour+time.Minute), start))
}

func TestDaylight(t *testing.T) {
	elev := []float64{-10, -5, -4.9, 0, 30}
	assert.Equal(t, []int{2, 3, 4}, Daylight(elev, -5))
	assert.Equal(t, []int{4}, Daylight(elev, 0))
	assert.Empty(t, Daylight(elev, 45))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultHourSplit().Validate(0, 23))
	assert.NoError(t, DefaultYearSplit().Validate(1, 12))

	bad := Definition{NewBucket("a", 24), NewBucket("a", 1), NewBucket("", 2)}
	err := bad.Validate(0, 23)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPrecondition))
	assert.Contains(t, err.Error(), "outside")
	assert.Contains(t, err.Error(), "duplicate")
	assert.Contains(t, err.Error(), "empty label")
}

func TestSelectFloatsBroadcast(t *testing.T) {
	assert.Equal(t, []float64{55.0}, SelectFloats([]float64{55.0}, []int{3, 4}))
	assert.Equal(t, []float64{3, 1}, SelectFloats([]float64{1, 2, 3}, []int{2, 0}))
}
