// Package solar provides the sun elevation used to tell day from night.
package solar

import (
	"fmt"
	"math"
	"time"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

// ErrLocationMismatch is returned when latitude/longitude cannot be matched to
// the timestamps.
var ErrLocationMismatch = fmt.Errorf("%w: location does not match timestamps", types.ErrPrecondition)

// Gate returns one sun elevation angle, in degrees, per timestamp. Latitude and
// longitude are either per-sample or a single value shared by every sample.
type Gate interface {
	Elevation(times []time.Time, latitude, longitude []float64) ([]float64, error)
}

// GateFunc adapts a plain function to Gate.
type GateFunc func(times []time.Time, latitude, longitude []float64) ([]float64, error)

// Elevation calls f.
func (f GateFunc) Elevation(times []time.Time, latitude, longitude []float64) ([]float64, error) {
	return f(times, latitude, longitude)
}

// NOAA computes the geometric (unrefracted) sun elevation using the NOAA
// solar calculator equations. Accuracy is well under a tenth of a degree for
// dates between 1901 and 2099.
type NOAA struct{}

// Elevation implements Gate.
func (NOAA) Elevation(times []time.Time, latitude, longitude []float64) ([]float64, error) {
	n := len(times)
	if !broadcastable(len(latitude), n) || !broadcastable(len(longitude), n) {
		return nil, fmt.Errorf("%w: %d timestamps, %d latitudes, %d longitudes",
			ErrLocationMismatch, n, len(latitude), len(longitude))
	}

	out := make([]float64, n)
	for i, t := range times {
		out[i] = ElevationAt(t, at(latitude, i), at(longitude, i))
	}
	return out, nil
}

// ElevationAt returns the sun elevation in degrees at one instant and place.
func ElevationAt(t time.Time, latitude, longitude float64) float64 {
	t = t.UTC()
	jd := float64(t.UnixNano())/float64(24*time.Hour) + 2440587.5
	jc := (jd - 2451545.0) / 36525.0

	meanLong := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360)
	meanAnom := 357.52911 + jc*(35999.05029-0.0001537*jc)
	ecc := 0.016708634 - jc*(0.000042037+0.0000001267*jc)

	m := rad(meanAnom)
	center := math.Sin(m)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*m)*(0.019993-0.000101*jc) +
		math.Sin(3*m)*0.000289
	trueLong := meanLong + center

	omega := rad(125.04 - 1934.136*jc)
	appLong := trueLong - 0.00569 - 0.00478*math.Sin(omega)

	meanObliq := 23 + (26+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60)/60
	obliq := meanObliq + 0.00256*math.Cos(omega)

	decl := math.Asin(math.Sin(rad(obliq)) * math.Sin(rad(appLong)))

	y := math.Pow(math.Tan(rad(obliq/2)), 2)
	l0 := rad(meanLong)
	eqTime := 4 * deg(y*math.Sin(2*l0)-
		2*ecc*math.Sin(m)+
		4*ecc*y*math.Sin(m)*math.Cos(2*l0)-
		0.5*y*y*math.Sin(4*l0)-
		1.25*ecc*ecc*math.Sin(2*m))

	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	minutes := t.Sub(midnight).Minutes()
	trueSolar := math.Mod(minutes+eqTime+4*longitude, 1440)
	if trueSolar < 0 {
		trueSolar += 1440
	}

	hourAngle := trueSolar/4 - 180

	latR := rad(latitude)
	cosZenith := math.Sin(latR)*math.Sin(decl) + math.Cos(latR)*math.Cos(decl)*math.Cos(rad(hourAngle))
	cosZenith = math.Max(-1, math.Min(1, cosZenith))
	return 90 - deg(math.Acos(cosZenith))
}

func broadcastable(m, n int) bool {
	return m == n || m == 1
}

func at(values []float64, i int) float64 {
	if len(values) == 1 {
		return values[0]
	}
	return values[i]
}

func rad(d float64) float64 { return d * math.Pi / 180 }

func deg(r float64) float64 { return r * 180 / math.Pi }
