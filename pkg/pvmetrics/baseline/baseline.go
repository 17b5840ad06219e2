// Package baseline generates naive forecasts to score a model against. A
// baseline only looks at the shape of the model's predictions plus the site
// context it is given.
package baseline

import (
	"fmt"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

const (
	NameZero      = "zero_baseline"
	NameMax       = "max_baseline"
	NameLastValue = "last_value_persistence_baseline"
	NameLastDay   = "last_day_persistence_baseline"
)

// Context carries the per-row site values a baseline may need. Each slice is
// per-row or a single broadcast value.
type Context struct {
	// Capacity is the rated capacity of the site, in the series' unit.
	Capacity []float64
	// LastValue is the outturn known at forecast issue time (t0).
	LastValue []float64
}

// Generator produces a synthetic prediction array shaped like predictions.
type Generator interface {
	Name() string
	Generate(predictions types.Array, ctx Context) (types.Array, error)
}

type generatorFunc struct {
	name string
	fn   func(types.Array, Context) (types.Array, error)
}

func (g generatorFunc) Name() string { return g.name }

func (g generatorFunc) Generate(predictions types.Array, ctx Context) (types.Array, error) {
	return g.fn(predictions, ctx)
}

// Registry returns the supported baselines in evaluation order.
func Registry() []Generator {
	return []Generator{
		generatorFunc{NameZero, func(p types.Array, _ Context) (types.Array, error) { return Zero(p), nil }},
		generatorFunc{NameMax, func(p types.Array, c Context) (types.Array, error) { return MaxCapacity(p, c.Capacity) }},
		generatorFunc{NameLastValue, func(p types.Array, c Context) (types.Array, error) { return LastValue(p, c.LastValue) }},
	}
}

// Zero predicts 0 everywhere.
func Zero(predictions types.Array) types.Array {
	return types.ZerosLike(predictions)
}

// MaxCapacity predicts the site's rated capacity for every timestep.
func MaxCapacity(predictions types.Array, capacity []float64) (types.Array, error) {
	out, err := types.FullLikeRows(predictions, capacity)
	if err != nil {
		return types.Array{}, fmt.Errorf("max capacity baseline: %w", err)
	}
	return out, nil
}

// LastValue predicts the outturn at issue time for the whole horizon.
func LastValue(predictions types.Array, lastValue []float64) (types.Array, error) {
	out, err := types.FullLikeRows(predictions, lastValue)
	if err != nil {
		return types.Array{}, fmt.Errorf("last value persistence baseline: %w", err)
	}
	return out, nil
}

// LastDay would repeat the outturn observed 24h before each sample. It is not
// supported yet.
func LastDay(predictions types.Array) (types.Array, error) {
	return types.Array{}, fmt.Errorf("%w: last day persistence baseline", types.ErrNotImplemented)
}
