package types

import (
	"fmt"
)

// Array holds N samples of a series, either as a flat vector or as an N×D
// block where each row carries D values (one per lead time, for instance).
type Array struct {
	data []float64
	n    int
	d    int
	flat bool
}

// NewVector creates a 1-D array. The slice is copied.
func NewVector(values []float64) Array {
	data := make([]float64, len(values))
	copy(data, values)
	return Array{data: data, n: len(values), d: 1, flat: true}
}

// NewMatrix creates an N×D array from rows of equal width. The rows are copied.
func NewMatrix(rows [][]float64) (Array, error) {
	if len(rows) == 0 {
		return Array{d: 1}, nil
	}
	d := len(rows[0])
	if d == 0 {
		return Array{}, fmt.Errorf("%w: matrix rows must have at least one column", ErrPrecondition)
	}
	data := make([]float64, 0, len(rows)*d)
	for i, row := range rows {
		if len(row) != d {
			return Array{}, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrPrecondition, i, len(row), d)
		}
		data = append(data, row...)
	}
	return Array{data: data, n: len(rows), d: d}, nil
}

// Len returns the number of samples (rows).
func (a Array) Len() int { return a.n }

// Dims returns the number of values per sample.
func (a Array) Dims() int {
	if a.d == 0 {
		return 1
	}
	return a.d
}

// IsVector reports whether the array was built as a flat 1-D series.
func (a Array) IsVector() bool { return a.flat }

// Row returns the values of sample i. The returned slice aliases the array.
func (a Array) Row(i int) []float64 {
	d := a.Dims()
	return a.data[i*d : (i+1)*d]
}

// At returns value j of sample i.
func (a Array) At(i, j int) float64 {
	return a.data[i*a.Dims()+j]
}

// Values returns a copy of the underlying row-major data.
func (a Array) Values() []float64 {
	out := make([]float64, len(a.data))
	copy(out, a.data)
	return out
}

// SameShape reports whether both arrays have the same number of rows and columns.
func (a Array) SameShape(b Array) bool {
	return a.Len() == b.Len() && a.Dims() == b.Dims()
}

// Select returns a new array holding only the given rows, in order.
func (a Array) Select(indices []int) Array {
	d := a.Dims()
	data := make([]float64, 0, len(indices)*d)
	for _, i := range indices {
		data = append(data, a.Row(i)...)
	}
	return Array{data: data, n: len(indices), d: d, flat: a.flat}
}

// ZerosLike returns an all-zero array with the shape of a.
func ZerosLike(a Array) Array {
	return FullLike(a, 0)
}

// FullLike returns an array with the shape of a where every value is v.
func FullLike(a Array, v float64) Array {
	data := make([]float64, len(a.data))
	for i := range data {
		data[i] = v
	}
	return Array{data: data, n: a.n, d: a.Dims(), flat: a.flat}
}

// FullLikeRows returns an array with the shape of a where every value of row i
// is perRow[i]. A single value is broadcast across all rows.
func FullLikeRows(a Array, perRow []float64) (Array, error) {
	if err := checkBroadcast(a.Len(), len(perRow)); err != nil {
		return Array{}, err
	}
	d := a.Dims()
	data := make([]float64, len(a.data))
	for i := 0; i < a.n; i++ {
		v := broadcastAt(perRow, i)
		for j := 0; j < d; j++ {
			data[i*d+j] = v
		}
	}
	return Array{data: data, n: a.n, d: d, flat: a.flat}, nil
}

// DivideRows returns a / divisor, row-wise. A single divisor is broadcast.
func DivideRows(a Array, divisor []float64) (Array, error) {
	if err := checkBroadcast(a.Len(), len(divisor)); err != nil {
		return Array{}, err
	}
	d := a.Dims()
	data := make([]float64, len(a.data))
	for i := 0; i < a.n; i++ {
		v := broadcastAt(divisor, i)
		for j := 0; j < d; j++ {
			data[i*d+j] = a.data[i*d+j] / v
		}
	}
	return Array{data: data, n: a.n, d: d, flat: a.flat}, nil
}

func checkBroadcast(n, m int) error {
	if m != 1 && m != n {
		return fmt.Errorf("%w: cannot broadcast %d values across %d rows", ErrPrecondition, m, n)
	}
	return nil
}

func broadcastAt(values []float64, i int) float64 {
	if len(values) == 1 {
		return values[0]
	}
	return values[i]
}
