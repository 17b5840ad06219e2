package evaluation

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/component-base/metrics/legacyregistry"
	k8smetrictestutil "k8s.io/component-base/metrics/testutil"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/baseline"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/config"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/results"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/solar"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

// dayGate treats 06:00 to 18:00 UTC as daylight.
var dayGate = solar.GateFunc(func(times []time.Time, _, _ []float64) ([]float64, error) {
	out := make([]float64, len(times))
	for i, t := range times {
		if h := t.UTC().Hour(); h >= 6 && h <= 18 {
			out[i] = 30
		} else {
			out[i] = -30
		}
	}
	return out, nil
})

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Evaluation.ModelName = "pvnet"
	return cfg
}

// weekFrame builds a week of hourly forecasts for two sites, issued 30
// minutes ahead with the target time recorded 4m40s late.
func weekFrame() results.Frame {
	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	frame := results.Frame{Unit: "mw"}
	for _, site := range []struct {
		id       string
		capacity float64
	}{{"0", 20}, {"7", 5}} {
		for h := 0; h < 7*24; h++ {
			target := start.Add(time.Duration(h) * time.Hour)
			sun := math.Max(0, math.Sin(float64(target.Hour()-6)/12*math.Pi))
			actual := site.capacity * 0.8 * sun
			frame.Rows = append(frame.Rows, results.Row{
				T0:         target.Add(-30 * time.Minute),
				TargetTime: target.Add(4*time.Minute + 40*time.Second),
				ID:         site.id,
				Latitude:   51.5,
				Longitude:  -0.1,
				Forecast:   actual*0.9 + 0.1,
				Actual:     actual,
				T0Actual:   actual * 0.95,
				Capacity:   site.capacity,
			})
		}
	}
	return frame
}

func meanAbs(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += math.Abs(v)
	}
	return total / float64(len(values))
}

func TestEvaluateTags(t *testing.T) {
	e := NewEvaluator(testConfig(), WithGate(dayGate))
	record, err := e.Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)

	for _, key := range []string{
		"pvnet/mw/mae",
		"pvnet/normalized/rmse",
		"pvnet/mw/no_night/Morning/mae",
		"pvnet/mw/forecast_horizon_30_minutes/mae",
		"pvnet/mw/large_error_count_threshold_1000",
		"zero_baseline/mw/mae",
		"max_baseline/normalized/no_night/mae",
		"last_value_persistence_baseline/mw/Summer/rmse",
		"pvnet/id_0/mw/mae",
		"pvnet/id_7/normalized/no_night/mae",
		"zero_baseline/id_7/mw/mae",
		"last_value_persistence_baseline/id_0/normalized/mae",
	} {
		assert.Contains(t, record, key)
	}

	sources := []string{"pvnet/", baseline.NameZero + "/", baseline.NameMax + "/", baseline.NameLastValue + "/"}
	for key := range record {
		matched := false
		for _, s := range sources {
			matched = matched || strings.HasPrefix(key, s)
		}
		assert.True(t, matched, key)
	}
}

func TestEvaluateBaselineValues(t *testing.T) {
	frame := weekFrame()
	cols := frame.Columns()

	e := NewEvaluator(testConfig(), WithGate(dayGate))
	record, err := e.Evaluate(context.Background(), frame)
	require.NoError(t, err)

	assert.InDelta(t, meanAbs(cols.Actual), record["zero_baseline/mw/mae"].Float(), 1e-9)

	normActual := make([]float64, len(cols.Actual))
	maxErr := make([]float64, len(cols.Actual))
	persistErr := make([]float64, len(cols.Actual))
	for i := range cols.Actual {
		normActual[i] = cols.Actual[i] / cols.Capacity[i]
		maxErr[i] = 1 - normActual[i]
		persistErr[i] = cols.T0Actual[i] - cols.Actual[i]
	}
	assert.InDelta(t, meanAbs(normActual), record["zero_baseline/normalized/mae"].Float(), 1e-9)
	assert.InDelta(t, meanAbs(maxErr), record["max_baseline/normalized/mae"].Float(), 1e-9)
	assert.InDelta(t, meanAbs(persistErr), record["last_value_persistence_baseline/mw/mae"].Float(), 1e-9)

	// a single site scored alone matches its per-id keys
	site, err := e.Evaluate(context.Background(), frame.ByID("7"))
	require.NoError(t, err)
	assert.InDelta(t, site["pvnet/mw/mae"].Float(), record["pvnet/id_7/mw/mae"].Float(), 1e-12)
}

func TestEvaluateHorizonUsesFlooredTargets(t *testing.T) {
	e := NewEvaluator(testConfig(), WithGate(dayGate))
	record, err := e.Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)

	// unfloored targets would be 34 minutes ahead
	assert.Equal(t, 0, record.CountContaining("forecast_horizon_34_minutes"))
	assert.NotZero(t, record.CountContaining("forecast_horizon_30_minutes"))
}

func TestEvaluateWithoutPerID(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation.PerID = false

	record, err := NewEvaluator(cfg, WithGate(dayGate)).Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)
	assert.Zero(t, record.CountContaining("/id_"))
}

func TestEvaluateDeterministic(t *testing.T) {
	serial := testConfig()
	serial.Evaluation.Workers = 1
	parallel := testConfig()
	parallel.Evaluation.Workers = 8

	a, err := NewEvaluator(serial, WithGate(dayGate)).Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)
	b, err := NewEvaluator(parallel, WithGate(dayGate)).Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestEvaluateNOAAGate(t *testing.T) {
	record, err := NewEvaluator(testConfig()).Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)
	assert.Contains(t, record, "pvnet/mw/no_night/mae")
	assert.NotEqual(t, record["pvnet/mw/mae"].Float(), record["pvnet/mw/no_night/mae"].Float())
}

func TestEvaluateErrors(t *testing.T) {
	e := NewEvaluator(testConfig(), WithGate(dayGate))

	_, err := e.Evaluate(context.Background(), results.Frame{Unit: "mw"})
	assert.True(t, errors.Is(err, types.ErrPrecondition))

	frame := weekFrame()
	frame.Rows[3].Capacity = 0
	_, err = e.Evaluate(context.Background(), frame)
	assert.True(t, errors.Is(err, types.ErrPrecondition))

	failing := NewEvaluator(testConfig(), WithGate(solar.GateFunc(func([]time.Time, []float64, []float64) ([]float64, error) {
		return nil, errors.New("ephemeris unavailable")
	})))
	_, err = failing.Evaluate(context.Background(), weekFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pvnet/mw")
}

func TestEvaluateNonPositiveWorkers(t *testing.T) {
	for _, workers := range []int{0, -1} {
		cfg := testConfig()
		cfg.Evaluation.Workers = workers

		done := make(chan error, 1)
		go func() {
			_, err := NewEvaluator(cfg, WithGate(dayGate)).Evaluate(context.Background(), weekFrame())
			done <- err
		}()

		select {
		case err := <-done:
			assert.NoError(t, err, "workers=%d", workers)
		case <-time.After(10 * time.Second):
			t.Fatalf("Evaluate did not return with workers=%d", workers)
		}
	}
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEvaluator(testConfig(), WithGate(dayGate)).Evaluate(ctx, weekFrame())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEvaluateMetrics(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC))
	e := NewEvaluator(testConfig(), WithGate(dayGate), WithClock(clk))

	before, err := k8smetrictestutil.GetHistogramMetricCount(EvaluationDuration.WithLabelValues("success"))
	require.NoError(t, err)
	aggregations, err := k8smetrictestutil.GetCounterMetricValue(AggregationsTotal.WithLabelValues("normalized"))
	require.NoError(t, err)

	record, err := e.Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)

	after, err := k8smetrictestutil.GetHistogramMetricCount(EvaluationDuration.WithLabelValues("success"))
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	// 4 sources for the whole frame and for each of the 2 ids
	got, err := k8smetrictestutil.GetCounterMetricValue(AggregationsTotal.WithLabelValues("normalized"))
	require.NoError(t, err)
	assert.Equal(t, aggregations+12, got)

	keys, err := k8smetrictestutil.GetGaugeMetricValue(MetricKeys)
	require.NoError(t, err)
	assert.Equal(t, float64(len(record)), keys)

	entities, err := k8smetrictestutil.GetGaugeMetricValue(Entities)
	require.NoError(t, err)
	assert.Equal(t, 2.0, entities)

	count, err := testutil.GatherAndCount(legacyregistry.DefaultGatherer, "pvmetrics_evaluation_metric_keys")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWriteTextfile(t *testing.T) {
	_, err := NewEvaluator(testConfig(), WithGate(dayGate)).Evaluate(context.Background(), weekFrame())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pvmetrics.prom")
	require.NoError(t, WriteTextfile(legacyregistry.DefaultGatherer, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pvmetrics_evaluation_metric_keys")
	assert.Contains(t, string(data), `pvmetrics_evaluation_aggregations_total{unit="mw"}`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestJoinTag(t *testing.T) {
	assert.Equal(t, "pvnet/mw", joinTag("pvnet", "", "mw"))
	assert.Equal(t, "pvnet/id_3/normalized", joinTag("pvnet", "id_3", "normalized"))
}
