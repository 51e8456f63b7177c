// Inputlat - Input event latency correlation and analysis
// Replays recorded input dispatch fact traces into consolidated
// per-event latency timelines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pixellineage/inputlat/pkg/analyze"
	"github.com/pixellineage/inputlat/pkg/config"
	"github.com/pixellineage/inputlat/pkg/export"
	"github.com/pixellineage/inputlat/pkg/report"
	"github.com/pixellineage/inputlat/pkg/sinks"
	"github.com/pixellineage/inputlat/pkg/telemetry"
	"github.com/pixellineage/inputlat/pkg/trace"
	"github.com/pixellineage/inputlat/pkg/tracker"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	verbose bool

	// Replay flags
	followMode      bool
	timeoutFlag     time.Duration
	sinkFlags       []string
	jsonlPath       string
	parquetPath     string
	compressionFlag string
	noProgress      bool
	noReport        bool
	xlsxPath        string
	exportArtifacts bool

	// Analyze flags
	slowestCount int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "inputlat",
	Short: "Inputlat - Correlate input dispatch facts into latency timelines",
	Long: `Inputlat consolidates the scattered facts of an input event's journey
(read, per-connection finish, graphics completion) into one timeline per
event, evicts stale records by age, and reports per-stage latency
percentiles.

Facts arrive as JSONL trace files, replayed offline or followed live.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var replayCmd = &cobra.Command{
	Use:   "replay [trace-file]",
	Short: "Replay a fact trace into latency timelines",
	Long: `Replay a recorded fact trace through the correlation engine and write
the completed timelines to the configured sinks.

With --follow the trace file is tailed: existing content replays first,
then appended facts stream through until interrupted.

Examples:
  inputlat replay events.jsonl
  inputlat replay events.jsonl --sink parquet --parquet out.parquet
  inputlat replay /var/log/input/facts.jsonl --follow
  inputlat replay events.jsonl --xlsx summary.xlsx --export`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [parquet-pattern]",
	Short: "Run SQL analysis over written Parquet timelines",
	Long: `Query one or more Parquet timeline files with embedded DuckDB and
print per-action, per-stage latency percentiles.

Glob patterns are supported:
  inputlat analyze timelines.parquet
  inputlat analyze 'runs/*.parquet' --slowest 10`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	replayCmd.Flags().BoolVarP(&followMode, "follow", "f", false, "Tail the trace file for appended facts")
	replayCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Eviction window for incomplete records (default from config)")
	replayCmd.Flags().StringSliceVar(&sinkFlags, "sink", nil, "Sinks to enable (jsonl, parquet, redis, otel); overrides config")
	replayCmd.Flags().StringVar(&jsonlPath, "jsonl", "", "JSONL output path ('-' for stdout)")
	replayCmd.Flags().StringVar(&parquetPath, "parquet", "", "Parquet output path")
	replayCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd)")
	replayCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	replayCmd.Flags().BoolVar(&noReport, "no-report", false, "Skip the latency summary")
	replayCmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the summary to an Excel workbook")
	replayCmd.Flags().BoolVar(&exportArtifacts, "export", false, "Upload output artifacts to the configured S3 bucket")

	analyzeCmd.Flags().IntVar(&slowestCount, "slowest", 0, "Also list the N slowest end-to-end events")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads the layered configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	mgr := config.Global()
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.Get()

	if timeoutFlag > 0 {
		cfg.Tracker.TimeoutWindow = timeoutFlag
	}
	if len(sinkFlags) > 0 {
		cfg.Sinks.Enabled = sinkFlags
	}
	if jsonlPath != "" {
		cfg.Sinks.JSONLPath = jsonlPath
	}
	if parquetPath != "" {
		cfg.Sinks.ParquetPath = parquetPath
	}
	if compressionFlag != "" {
		cfg.Sinks.Compression = compressionFlag
	}
	if xlsxPath != "" {
		cfg.Report.XLSXPath = xlsxPath
	}
	return cfg, nil
}

// buildWriters assembles the enabled sink writers. The returned shutdown
// function flushes telemetry when the otel sink was enabled.
func buildWriters(ctx context.Context, cfg *config.Config) ([]sinks.Writer, func(context.Context) error, error) {
	var writers []sinks.Writer
	shutdown := func(context.Context) error { return nil }

	for _, name := range cfg.Sinks.Enabled {
		switch name {
		case "jsonl":
			w, err := sinks.NewJSONL(cfg.Sinks.JSONLPath)
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, w)

		case "parquet":
			w, err := sinks.NewParquet(sinks.ParquetConfig{
				Path:        cfg.Sinks.ParquetPath,
				Compression: cfg.Sinks.Compression,
				BatchSize:   cfg.Sinks.BatchSize,
			})
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, w)

		case "redis":
			rc := sinks.DefaultRedisConfig(cfg.Redis.Address)
			rc.Password = cfg.Redis.Password
			rc.Database = cfg.Redis.Database
			if cfg.Redis.Stream != "" {
				rc.Stream = cfg.Redis.Stream
			}
			if cfg.Redis.MaxLen > 0 {
				rc.MaxLen = cfg.Redis.MaxLen
			}
			w, err := sinks.NewRedis(rc)
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, w)

		case "otel":
			tcfg := telemetry.DefaultConfig(cfg.Telemetry.ServiceName)
			tcfg.Endpoint = cfg.Telemetry.Endpoint
			tcfg.Environment = cfg.Telemetry.Environment
			tcfg.Insecure = cfg.Telemetry.Insecure
			tcfg.ServiceVersion = version
			if cfg.Telemetry.Timeout > 0 {
				tcfg.ExportTimeout = cfg.Telemetry.Timeout
			}
			exporter := telemetry.NewExporter(tcfg)
			stop, err := exporter.Init(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to init telemetry: %w", err)
			}
			shutdown = stop
			writers = append(writers, sinks.NewOTel(exporter.Tracer()))

		default:
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}

	return writers, shutdown, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	tracePath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writers, shutdownTelemetry, err := buildWriters(ctx, cfg)
	if err != nil {
		return err
	}

	agg := report.NewAggregator()
	if !noReport {
		writers = append(writers, agg)
	}

	multi := sinks.NewMulti(writers...)
	// Writes run on a background context so the post-interrupt drain in
	// follow mode still reaches the sinks.
	collector := sinks.NewCollector(context.Background(), multi)

	tr := tracker.New(collector, tracker.WithTimeoutWindow(cfg.Tracker.TimeoutWindow))

	var stats *trace.Stats
	if followMode {
		stats, err = followTrace(ctx, tr, tracePath)
	} else {
		replayer := trace.NewReplayer(tr)
		replayer.ShowProgress = !noProgress
		stats, err = replayer.ReplayFile(ctx, tracePath)
	}
	if err != nil {
		multi.Close(context.Background())
		return err
	}

	// Sinks close on a fresh context so an interrupt still flushes.
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := multi.Close(closeCtx); err != nil {
		return err
	}
	if err := shutdownTelemetry(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: telemetry shutdown: %v\n", err)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "run %s: %d lines, %d reads, %d finishes, %d graphics, %d skipped\n",
			stats.RunID, stats.Lines, stats.Reads, stats.Finishes, stats.Graphics, stats.Skipped)
	}
	if collector.Failed() > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d timelines failed to write: %v\n",
			collector.Failed(), collector.Err())
	}

	if !noReport {
		summary := agg.Summarize(cfg.Report.Percentiles)
		fmt.Print(report.Render(summary, cfg.Report.Percentiles))

		if cfg.Report.XLSXPath != "" {
			if err := report.WriteXLSX(cfg.Report.XLSXPath, summary, cfg.Report.Percentiles); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", cfg.Report.XLSXPath)
		}
	}

	if exportArtifacts {
		return uploadArtifacts(closeCtx, cfg, stats.RunID)
	}
	return nil
}

// followTrace tails the trace until the context is cancelled, then flushes
// whatever is still in flight.
func followTrace(ctx context.Context, tr *tracker.Tracker, path string) (*trace.Stats, error) {
	follower := trace.NewFollower(tr)
	if verbose {
		follower.OnError = func(err error) {
			fmt.Fprintf(os.Stderr, "skipping record: %v\n", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return follower.Follow(gctx, path)
	})

	err := g.Wait()
	tr.FlushAll()

	stats := follower.Stats()
	if err != nil && err != context.Canceled {
		return &stats, err
	}
	return &stats, nil
}

// uploadArtifacts pushes the run's local output files to S3.
func uploadArtifacts(ctx context.Context, cfg *config.Config, runID string) error {
	s3cfg := export.DefaultS3Config(cfg.Export.Bucket)
	s3cfg.Prefix = cfg.Export.Prefix
	s3cfg.Region = cfg.Export.Region
	s3cfg.Endpoint = cfg.Export.Endpoint
	s3cfg.UsePathStyle = cfg.Export.UsePathStyle

	uploader, err := export.NewS3Uploader(ctx, s3cfg)
	if err != nil {
		return err
	}

	var paths []string
	for _, name := range cfg.Sinks.Enabled {
		switch name {
		case "jsonl":
			if cfg.Sinks.JSONLPath != "-" {
				paths = append(paths, cfg.Sinks.JSONLPath)
			}
		case "parquet":
			paths = append(paths, cfg.Sinks.ParquetPath)
		}
	}
	if cfg.Report.XLSXPath != "" {
		paths = append(paths, cfg.Report.XLSXPath)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no file-backed artifacts to export")
	}

	uris, err := uploader.UploadAll(ctx, runID, paths)
	for _, uri := range uris {
		fmt.Fprintf(os.Stderr, "exported %s\n", uri)
	}
	return err
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	analyzer, err := analyze.New()
	if err != nil {
		return err
	}
	defer analyzer.Close()

	result, err := analyzer.Analyze(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%d rows, %d distinct event times\n\n", result.Rows, result.Timelines)
	fmt.Printf("%-14s %-14s %8s %10s %10s %10s %10s %10s\n",
		"action", "stage", "count", "min", "p50", "p95", "p99", "max")
	for _, s := range result.Stages {
		fmt.Printf("%-14s %-14s %8d %10s %10s %10s %10s %10s\n",
			s.Action, s.Stage, s.Count,
			formatNs(s.MinNs), formatNs(s.P50Ns), formatNs(s.P95Ns),
			formatNs(s.P99Ns), formatNs(s.MaxNs))
	}

	if slowestCount > 0 {
		slow, err := analyzer.SlowestEvents(slowestCount)
		if err != nil {
			return err
		}
		fmt.Printf("\nslowest end-to-end:\n")
		for _, e := range slow {
			fmt.Printf("  event_time=%d action=%s conn=%s latency=%s\n",
				e.EventTime, e.Action, e.ConnectionToken, formatNs(e.EndToEndNs))
		}
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	mgr := config.Global()
	if err := mgr.Load(); err != nil {
		return err
	}

	for _, p := range mgr.GetPaths() {
		fmt.Fprintf(os.Stderr, "loaded %s\n", p)
	}

	cfg := mgr.Get()
	fmt.Printf("timeout_window: %s\n", cfg.Tracker.TimeoutWindow)
	fmt.Printf("sinks: %v\n", cfg.Sinks.Enabled)
	fmt.Printf("jsonl_path: %s\n", cfg.Sinks.JSONLPath)
	fmt.Printf("parquet_path: %s (%s)\n", cfg.Sinks.ParquetPath, cfg.Sinks.Compression)
	fmt.Printf("redis: %s stream=%s\n", cfg.Redis.Address, cfg.Redis.Stream)
	fmt.Printf("telemetry: enabled=%t endpoint=%s\n", cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint)
	fmt.Printf("export bucket: %s\n", cfg.Export.Bucket)
	fmt.Printf("percentiles: %v\n", cfg.Report.Percentiles)
	return nil
}

// formatNs renders a nanosecond latency with a human unit.
func formatNs(ns int64) string {
	d := time.Duration(ns)
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", ns)
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(ns)/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(ns)/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
