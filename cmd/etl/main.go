package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/application/etl"
	"github.com/facolos/etl/internal/bootstrap"
	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/config"
	"github.com/facolos/etl/internal/infrastructure/logger"
)

var version = "dev"

type options struct {
	configPath string
	logLevel   string
	source     string
	from       string
	to         string
	mode       string
	all        bool
	cleanup    bool
	check      bool
	parallel   int
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config.toml (default: search ./, ./config, /etc/facolos-etl)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flag.StringVar(&opts.source, "source", "", "Source id to extract")
	flag.StringVar(&opts.from, "from", "", "Window start, RFC3339 (requires -to)")
	flag.StringVar(&opts.to, "to", "", "Window end, RFC3339 (requires -from)")
	flag.StringVar(&opts.mode, "mode", "", "Load mode override: append or upsert")
	flag.BoolVar(&opts.all, "all", false, "Run every active source")
	flag.IntVar(&opts.parallel, "parallel", 2, "Sources run concurrently with -all")
	flag.BoolVar(&opts.cleanup, "cleanup", false, "Purge staging rows past the retention period")
	flag.BoolVar(&opts.check, "check", false, "Evaluate source health and raise alerts")
	flag.Parse()

	req, err := opts.runRequest()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return 2
	}

	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 2
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := bootstrap.Build(ctx, cfg, log, version)
	if err != nil {
		log.Error("Failed to wire pipeline", zap.Error(err))
		return 1
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("Error closing pipeline", zap.Error(err))
		}
	}()
	if err := p.RegisterSources(ctx); err != nil {
		log.Error("Failed to register sources", zap.Error(err))
		return 1
	}

	code := 0
	switch {
	case opts.all:
		code = runAll(ctx, p.Orchestrator, opts.parallel, log)
	case opts.source != "":
		code = runOne(ctx, p.Orchestrator, req, log)
	}

	if opts.cleanup {
		purged, err := p.Cleanup.Purge(ctx)
		if err != nil {
			log.Error("Cleanup failed", zap.Error(err))
			code = 1
		}
		for table, n := range purged {
			fmt.Printf("purged %s: %d rows\n", table, n)
		}
	}

	if opts.check {
		report, err := p.Monitor.Report(ctx)
		if err != nil {
			log.Error("Health check failed", zap.Error(err))
			code = 1
		}
		printReport(os.Stdout, report)
	}
	return code
}

// printReport writes one summary line per source followed by its alerts
func printReport(w io.Writer, report []*etl.SourceHealth) {
	for _, h := range report {
		vendor := "unchecked"
		if h.Vendor != nil {
			vendor = "ok"
			if !h.Vendor.Reachable {
				vendor = "unreachable"
			}
		}
		rows := "?"
		if h.StagingRows != nil {
			rows = strconv.FormatInt(*h.StagingRows, 10)
		}
		fmt.Fprintf(w, "source=%s status=%s vendor=%s table=%s rows=%s runs=%d success_rate=%.2f\n",
			h.SourceID, h.Status, vendor, h.StagingTable, rows, h.Runs, h.SuccessRate)
		for _, a := range h.Alerts {
			fmt.Fprintf(w, "%s %s %s: %s\n", a.Severity, a.SourceID, a.Rule, a.Message)
		}
	}
}

// runRequest validates the flag combination and builds the run request
func (o options) runRequest() (etl.RunRequest, error) {
	if !o.all && o.source == "" && !o.cleanup && !o.check {
		return etl.RunRequest{}, fmt.Errorf("one of -source, -all, -cleanup or -check is required")
	}
	if o.all && o.source != "" {
		return etl.RunRequest{}, fmt.Errorf("-all and -source are mutually exclusive")
	}
	if o.all && (o.from != "" || o.to != "" || o.mode != "") {
		return etl.RunRequest{}, fmt.Errorf("-from, -to and -mode apply to a single -source")
	}

	req := etl.RunRequest{SourceID: o.source}
	if o.mode != "" {
		mode, err := pipeline.ParseLoadMode(o.mode)
		if err != nil {
			return req, err
		}
		req.Mode = mode
	}
	if o.from == "" && o.to == "" {
		return req, nil
	}
	if o.from == "" || o.to == "" {
		return req, fmt.Errorf("-from and -to must be given together")
	}
	start, err := time.Parse(time.RFC3339, o.from)
	if err != nil {
		return req, fmt.Errorf("invalid -from: %w", err)
	}
	end, err := time.Parse(time.RFC3339, o.to)
	if err != nil {
		return req, fmt.Errorf("invalid -to: %w", err)
	}
	w := pipeline.Window{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return req, err
	}
	req.Window = &w
	return req, nil
}

func runOne(ctx context.Context, o *etl.Orchestrator, req etl.RunRequest, log *zap.Logger) int {
	result, err := o.Run(ctx, req)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		log.Error("Run failed", zap.String("source_id", req.SourceID), zap.Error(err))
		return 1
	}
	return exitCode(result)
}

func runAll(ctx context.Context, o *etl.Orchestrator, parallel int, log *zap.Logger) int {
	outcomes, err := o.RunAll(ctx, parallel)
	if err != nil {
		log.Error("Run all failed", zap.Error(err))
		return 1
	}
	code := 0
	for _, out := range outcomes {
		if out.Result != nil {
			printResult(out.Result)
		}
		if out.Err != nil {
			log.Error("Run failed", zap.String("source_id", out.SourceID), zap.Error(out.Err))
			code = 1
			continue
		}
		if c := exitCode(out.Result); c != 0 {
			code = c
		}
	}
	return code
}

// exitCode is 1 for any run that did not end in success
func exitCode(r *etl.RunResult) int {
	if r == nil || r.Status != pipeline.BatchStatusSuccess {
		return 1
	}
	return 0
}

func printResult(r *etl.RunResult) {
	fmt.Printf("%s batch=%s status=%s window=%s/%s fetched=%d extracted=%d loaded=%d pages=%d chunks=%d",
		r.SourceID, r.BatchID, r.Status,
		r.Window.Start.Format(time.RFC3339), r.Window.End.Format(time.RFC3339),
		r.RecordsFetched, r.RecordsExtracted, r.RecordsLoaded, r.Pages, r.Chunks)
	if r.ErrorMessage != "" {
		fmt.Printf(" error=%q", r.ErrorMessage)
	}
	fmt.Println()
}
