package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/config"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/evaluation"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/results"
	"github.com/elevated-systems/pvmetrics/pkg/pvmetrics/types"
)

type evaluateOptions struct {
	configPath      string
	input           string
	format          string
	unit            string
	model           string
	output          string
	metricsTextfile string
	thresholds      []float64
	nightThreshold  float64
	workers         int
	perID           bool
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pvmetrics",
		Short: "Score PV forecasts against outturn",
		Long: `pvmetrics computes MAE and RMSE for PV power forecasts, split by time of day,
time of year and forecast horizon, with and without night-time samples, and
compares them with naive baselines.`,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.AddCommand(newEvaluateCommand(), newImportCommand())
	return root
}

func newEvaluateCommand() *cobra.Command {
	o := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate forecast results and print the metrics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config(cmd)
			if err != nil {
				return err
			}
			return runEvaluate(cmd.Context(), cfg, o.output, cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file; environment variables are used when empty")
	fs.StringVar(&o.input, "input", "", "forecast results file")
	fs.StringVar(&o.format, "format", "", "input format: csv or sqlite")
	fs.StringVar(&o.unit, "unit", "", "outturn unit: mw, kw or w")
	fs.StringVar(&o.model, "model", "", "model name used to tag metrics")
	fs.StringVarP(&o.output, "output", "o", "", "write metrics JSON here instead of stdout")
	fs.StringVar(&o.metricsTextfile, "metrics-textfile", "", "write evaluation instrumentation in Prometheus text format")
	fs.Float64SliceVar(&o.thresholds, "thresholds", nil, "absolute error thresholds for large error counts")
	fs.Float64Var(&o.nightThreshold, "night-threshold", 0, "sun elevation in degrees at or below which a sample is night")
	fs.IntVar(&o.workers, "workers", 0, "ids evaluated concurrently")
	fs.BoolVar(&o.perID, "per-id", true, "also evaluate each id on its own")
	return cmd
}

// config loads the base configuration and applies any flag the user set.
func (o *evaluateOptions) config(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromFile(o.configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("input") {
		cfg.Input.Path = o.input
	}
	if fs.Changed("format") {
		cfg.Input.Format = o.format
	}
	if fs.Changed("unit") {
		cfg.Evaluation.Unit = strings.ToLower(o.unit)
	}
	if fs.Changed("model") {
		cfg.Evaluation.ModelName = o.model
	}
	if fs.Changed("metrics-textfile") {
		cfg.Observability.MetricsTextfile = o.metricsTextfile
	}
	if fs.Changed("thresholds") {
		cfg.Evaluation.ErrorThresholds = o.thresholds
	}
	if fs.Changed("night-threshold") {
		cfg.Evaluation.NightThresholdDegrees = o.nightThreshold
	}
	if fs.Changed("workers") {
		cfg.Evaluation.Workers = o.workers
	}
	if fs.Changed("per-id") {
		cfg.Evaluation.PerID = o.perID
	}

	if cfg.Input.Path == "" {
		return nil, fmt.Errorf("no input given, use --input or PVMETRICS_INPUT_PATH")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

func runEvaluate(ctx context.Context, cfg *config.Config, output string, stdout io.Writer) error {
	frame, err := loadFrame(ctx, cfg)
	if err != nil {
		return err
	}

	record, err := evaluation.NewEvaluator(cfg).Evaluate(ctx, frame)
	if err != nil {
		klog.ErrorS(err, "Evaluation failed", "input", cfg.Input.Path)
		return err
	}

	if path := cfg.Observability.MetricsTextfile; path != "" {
		if err := evaluation.WriteTextfile(legacyregistry.DefaultGatherer, path); err != nil {
			return err
		}
	}

	if output == "" {
		return writeRecord(stdout, record)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %v", err)
	}
	if err := writeRecord(f, record); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %v", err)
	}
	klog.V(2).InfoS("Wrote metrics", "path", output, "keys", len(record))
	return nil
}

func loadFrame(ctx context.Context, cfg *config.Config) (results.Frame, error) {
	unit := cfg.Evaluation.Unit
	switch cfg.Input.Format {
	case config.FormatSQLite:
		store, err := results.Open(cfg.Input.Path)
		if err != nil {
			return results.Frame{}, err
		}
		defer store.Close()
		return store.Load(ctx, unit)
	default:
		return results.ReadCSVFile(cfg.Input.Path, unit)
	}
}

// writeRecord writes the record as indented JSON. Map keys come out sorted.
func writeRecord(w io.Writer, record types.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("failed to encode metrics: %v", err)
	}
	return nil
}

func newImportCommand() *cobra.Command {
	var input, db, unit string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load forecast results from CSV into a SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			unit = strings.ToLower(unit)
			frame, err := results.ReadCSVFile(input, unit)
			if err != nil {
				return err
			}

			store, err := results.Open(db)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Insert(cmd.Context(), frame); err != nil {
				return err
			}
			klog.InfoS("Imported forecast results", "input", input, "db", db, "unit", unit, "rows", len(frame.Rows))
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&input, "input", "", "forecast results CSV")
	fs.StringVar(&db, "db", "", "SQLite database to append to")
	fs.StringVar(&unit, "unit", "mw", "outturn unit: mw, kw or w")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("db")
	return cmd
}
