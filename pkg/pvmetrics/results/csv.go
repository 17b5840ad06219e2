package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path, unit string) (Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	frame, err := ReadCSV(file, unit)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV parses forecast results with a header row. Columns are matched by
// name, extra columns are ignored.
func ReadCSV(r io.Reader, unit string) (Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Frame{}, fmt.Errorf("%w: empty results file", types.ErrPrecondition)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("failed to parse CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	required := RequiredColumns(unit)
	if missing := sets.New(required...).Difference(sets.KeySet(index)); missing.Len() > 0 {
		return Frame{}, fmt.Errorf("%w: missing columns %v", types.ErrPrecondition, sets.List(missing))
	}
	col := func(name string) int { return index[name] }

	frame := Frame{Unit: unit}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Frame{}, fmt.Errorf("failed to parse CSV: %w", err)
		}

		row, err := parseRow(record, unit, col)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: line %d: %v", types.ErrPrecondition, line, err)
		}
		frame.Rows = append(frame.Rows, row)
	}

	klog.V(2).InfoS("Read forecast results", "unit", unit, "rows", len(frame.Rows))
	return frame, nil
}

func parseRow(record []string, unit string, col func(string) int) (Row, error) {
	var (
		row Row
		err error
	)
	if row.T0, err = parseTime(record[col("t0_datetime_utc")]); err != nil {
		return Row{}, fmt.Errorf("t0_datetime_utc: %v", err)
	}
	if row.TargetTime, err = parseTime(record[col("target_datetime_utc")]); err != nil {
		return Row{}, fmt.Errorf("target_datetime_utc: %v", err)
	}
	row.ID = strings.TrimSpace(record[col("id")])

	floats := []struct {
		name string
		dst  *float64
	}{
		{"forecast_pv_outturn_" + unit, &row.Forecast},
		{"actual_pv_outturn_" + unit, &row.Actual},
		{"t0_actual_pv_outturn_" + unit, &row.T0Actual},
		{"latitude", &row.Latitude},
		{"longitude", &row.Longitude},
		{"capacity_" + unit + "p", &row.Capacity},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col(f.name)]), 64)
		if err != nil {
			return Row{}, fmt.Errorf("%s: %v", f.name, err)
		}
		*f.dst = v
	}
	return row, nil
}

// parseTime accepts RFC3339 and the space separated layouts pandas writes.
// Values without a zone are taken as UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "+00:00")
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// WriteCSV writes the frame with the header RequiredColumns(frame.Unit).
func WriteCSV(w io.Writer, frame Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(RequiredColumns(frame.Unit)); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range frame.Rows {
		record := []string{
			r.T0.UTC().Format(time.RFC3339),
			r.TargetTime.UTC().Format(time.RFC3339),
			format(r.Forecast),
			format(r.Actual),
			format(r.T0Actual),
			r.ID,
			format(r.Latitude),
			format(r.Longitude),
			format(r.Capacity),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
