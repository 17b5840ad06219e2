// Package kernel computes the point-wise error statistics scored for every
// segment of a forecast evaluation.
package kernel

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

const (
	// KeyMAE is the mean absolute error.
	KeyMAE = "mae"
	// KeyRMSE is the root mean squared error.
	KeyRMSE = "rmse"
)

var (
	// ErrLengthMismatch is returned when predictions and target differ in shape.
	ErrLengthMismatch = fmt.Errorf("%w: predictions and target differ in shape", types.ErrPrecondition)
	// ErrEmpty is returned when there are no samples to average over.
	ErrEmpty = fmt.Errorf("%w: empty series", types.ErrPrecondition)
)

// Common computes MAE and RMSE. The kernel is unit-agnostic; for NMAE, normalize
// both inputs before calling it.
//
// For N×D input with D > 1 the mean is taken over the N axis only and each
// metric is a length-D vector. Otherwise the metrics are scalars.
func Common(predictions, target types.Array) (types.Record, error) {
	if err := check(predictions, target); err != nil {
		return nil, err
	}

	n, d := predictions.Len(), predictions.Dims()
	absErr := make([]float64, n)
	sqErr := make([]float64, n)
	mae := make([]float64, d)
	rmse := make([]float64, d)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			diff := predictions.At(i, j) - target.At(i, j)
			absErr[i] = math.Abs(diff)
			sqErr[i] = diff * diff
		}
		mae[j] = stat.Mean(absErr, nil)
		rmse[j] = math.Sqrt(stat.Mean(sqErr, nil))
	}

	if d == 1 {
		return types.Record{
			KeyMAE:  types.Scalar(mae[0]),
			KeyRMSE: types.Scalar(rmse[0]),
		}, nil
	}
	return types.Record{
		KeyMAE:  types.Vector(mae),
		KeyRMSE: types.Vector(rmse),
	}, nil
}

// LargeErrorKey returns the record key used for a threshold count.
func LargeErrorKey(threshold float64) string {
	return "large_error_count_threshold_" + strconv.FormatFloat(threshold, 'f', -1, 64)
}

// CountLargeErrors counts values where |prediction - target| is strictly
// greater than threshold. Every element of an N×D series is counted.
func CountLargeErrors(predictions, target types.Array, threshold float64) (types.Record, error) {
	if !predictions.SameShape(target) {
		return nil, ErrLengthMismatch
	}
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: threshold must be >= 0, got %v", types.ErrPrecondition, threshold)
	}

	count := 0
	for i := 0; i < predictions.Len(); i++ {
		p, t := predictions.Row(i), target.Row(i)
		for j := range p {
			if math.Abs(p[j]-t[j]) > threshold {
				count++
			}
		}
	}
	return types.Record{LargeErrorKey(threshold): types.Scalar(float64(count))}, nil
}

// CountLargeErrorsSigma would count errors beyond sigma standard deviations.
// It is declared so callers can name the mode, but it is not supported.
func CountLargeErrorsSigma(predictions, target types.Array, sigma float64) (types.Record, error) {
	return nil, fmt.Errorf("%w: sigma-based large error counting", types.ErrNotImplemented)
}

func check(predictions, target types.Array) error {
	if !predictions.SameShape(target) {
		return fmt.Errorf("%w (predictions %dx%d, target %dx%d)", ErrLengthMismatch,
			predictions.Len(), predictions.Dims(), target.Len(), target.Dims())
	}
	if predictions.Len() == 0 {
		return ErrEmpty
	}
	return nil
}
