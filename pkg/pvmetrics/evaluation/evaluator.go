// Package evaluation scores a model's forecast results, and the standard
// baselines, overall and per site.
package evaluation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/aggregate"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/baseline"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/config"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/results"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/solar"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

// NormalizedUnit tags metrics computed on capacity-normalized values.
const NormalizedUnit = "normalized"

// Evaluator turns a frame of forecast results into one metrics record
type Evaluator struct {
	config    *config.Config
	gate      solar.Gate
	baselines []baseline.Generator
	clock     clock.PassiveClock
}

// Option customises an Evaluator
type Option func(*Evaluator)

// WithGate replaces the solar elevation source used for night filtering.
func WithGate(g solar.Gate) Option {
	return func(e *Evaluator) { e.gate = g }
}

// WithClock replaces the clock used to time evaluations.
func WithClock(c clock.PassiveClock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// NewEvaluator creates a new evaluator
func NewEvaluator(cfg *config.Config, opts ...Option) *Evaluator {
	e := &Evaluator{
		config:    cfg,
		gate:      solar.NOAA{},
		baselines: baseline.Registry(),
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores the model and every baseline on the frame, raw and
// normalized, then again for each id when per-id evaluation is enabled.
func (e *Evaluator) Evaluate(ctx context.Context, frame results.Frame) (types.Record, error) {
	start := e.clock.Now()
	record, ids, err := e.evaluate(ctx, frame)
	elapsed := e.clock.Since(start)

	if err != nil {
		EvaluationDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		return nil, err
	}
	EvaluationDuration.WithLabelValues("success").Observe(elapsed.Seconds())
	MetricKeys.Set(float64(len(record)))
	Entities.Set(float64(ids))

	klog.InfoS("Evaluated forecast results",
		"model", e.config.Evaluation.ModelName,
		"unit", frame.Unit,
		"rows", len(frame.Rows),
		"ids", ids,
		"keys", len(record),
		"duration", elapsed)

	return record, nil
}

func (e *Evaluator) evaluate(ctx context.Context, frame results.Frame) (types.Record, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	frame = frame.FloorTargetTimes(results.DefaultTargetStep)
	if err := frame.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid forecast results: %w", err)
	}

	record, err := e.evaluateGroup(frame, "")
	if err != nil {
		return nil, 0, err
	}

	ids := frame.IDs()
	if !e.config.Evaluation.PerID {
		return record, len(ids), nil
	}

	perID := make([]types.Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	workers := e.config.Evaluation.Workers
	if workers <= 0 {
		// SetLimit(0) blocks every Go call
		workers = 1
	}
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := e.evaluateGroup(frame.ByID(id), "id_"+id)
			if err != nil {
				return fmt.Errorf("id %s: %w", id, err)
			}
			perID[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	// merged in id order so the result does not depend on scheduling
	for _, rec := range perID {
		record.Merge(rec)
	}
	return record, len(ids), nil
}

// evaluateGroup runs the model and each baseline on one frame. scope is an
// optional tag segment inserted after the source name.
func (e *Evaluator) evaluateGroup(frame results.Frame, scope string) (types.Record, error) {
	cols := frame.Columns()
	predictions := types.NewVector(cols.Forecast)
	target := types.NewVector(cols.Actual)

	normPredictions, err := types.DivideRows(predictions, cols.Capacity)
	if err != nil {
		return nil, err
	}
	normTarget, err := types.DivideRows(target, cols.Capacity)
	if err != nil {
		return nil, err
	}
	normLastValue, err := types.DivideRows(types.NewVector(cols.T0Actual), cols.Capacity)
	if err != nil {
		return nil, err
	}

	input := aggregate.Input{
		Timestamps: cols.TargetTime,
		StartTimes: cols.T0,
		Latitude:   cols.Latitude,
		Longitude:  cols.Longitude,
	}
	record := types.Record{}
	score := func(source, unit string, p, t types.Array) error {
		in := input
		in.Predictions, in.Target = p, t
		tag := joinTag(source, scope, unit)
		m, err := aggregate.Compute(in, e.options(tag))
		if err != nil {
			return fmt.Errorf("%s: %w", tag, err)
		}
		AggregationsTotal.WithLabelValues(unit).Inc()
		record.Merge(m)
		return nil
	}

	model := e.config.Evaluation.ModelName
	if err := score(model, frame.Unit, predictions, target); err != nil {
		return nil, err
	}
	if err := score(model, NormalizedUnit, normPredictions, normTarget); err != nil {
		return nil, err
	}

	raw := baseline.Context{Capacity: cols.Capacity, LastValue: cols.T0Actual}
	normalized := baseline.Context{Capacity: []float64{1}, LastValue: normLastValue.Values()}
	for _, b := range e.baselines {
		p, err := b.Generate(predictions, raw)
		if err != nil {
			return nil, err
		}
		if err := score(b.Name(), frame.Unit, p, target); err != nil {
			return nil, err
		}

		p, err = b.Generate(normPredictions, normalized)
		if err != nil {
			return nil, err
		}
		if err := score(b.Name(), NormalizedUnit, p, normTarget); err != nil {
			return nil, err
		}
	}

	klog.V(2).InfoS("Evaluated group", "scope", scope, "rows", len(frame.Rows), "keys", len(record))
	return record, nil
}

func (e *Evaluator) options(tag string) aggregate.Options {
	opts := aggregate.DefaultOptions()
	opts.Tag = tag
	opts.Thresholds = e.config.Evaluation.ErrorThresholds
	opts.FilterByNight = true
	opts.NightThresholdDegrees = e.config.Evaluation.NightThresholdDegrees
	opts.HourSplit = e.config.HourDefinition()
	opts.YearSplit = e.config.YearDefinition()
	opts.Gate = e.gate
	return opts
}

func joinTag(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
