// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/incr/internal/errors"
	"github.com/kraklabs/incr/internal/ui"
	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/codec"
	"github.com/kraklabs/incr/pkg/compile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runCompile executes the 'compile' CLI command: one incremental
// compile invocation of the configured module.
//
// Flags:
//   - --full: Discard the previous analysis and recompile everything
//   - --debug: Enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
func runCompile(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	full := fs.Bool("full", false, "Discard previous analysis and recompile everything")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", getEnv("INCR_METRICS_ADDR", ""), "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: incr compile [options]

Description:
  Run one incremental compile of the module. incr stamps the current
  sources, compares them with the persisted analysis, feeds the invalid
  subset to the external compiler bridge, and repeats until the
  invalidation closure reaches a fixed point.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Incremental compile (only what changed)
  incr compile

  # Discard the analysis and recompile everything
  incr compile --full

  # Enable debug logging and expose metrics
  incr compile --debug --metrics-addr :9090

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError("load configuration: %v (run 'incr init' first)", err)
	}

	logger := newLogger(globals, *debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *compile.Metrics
	if *metricsAddr != "" {
		metrics = compile.NewMetrics(nil)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.server.error", "err", err)
			}
		}()
		logger.Info("metrics.server.started", "addr", *metricsAddr)
	}

	stamper := analysis.NewStamper(logger)
	store := codec.NewStore(cfg.Paths.AnalysisFile, codec.Identity(), logger)

	if *full {
		compile.GlobalCache().Invalidate(store.Path())
		if err := store.Delete(); err != nil {
			errors.FatalError("delete previous analysis: %v", err)
		}
		logger.Info("compile.full", "msg", "previous analysis discarded")
	}

	sources, err := cfg.CollectSources()
	if err != nil {
		errors.FatalError("collect sources: %v", err)
	}
	if len(sources) == 0 {
		errors.FatalError("no sources found under %v", cfg.Paths.SourceDirs)
	}

	var bar *progressbar.ProgressBar
	progress := func(current, total int64, phase string) {
		if globals.Quiet {
			return
		}
		if bar == nil || bar.GetMax64() != total {
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription(phase),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set64(current)
	}

	driver := compile.NewDriver(compile.Config{
		Store:      store,
		Stamper:    stamper,
		Compiler:   NewExecCompiler(cfg.Compiler.Command, logger),
		Options:    cfg.Options(),
		Setup:      cfg.Setup(stamper),
		Sources:    sources,
		Metrics:    metrics,
		OnProgress: progress,
		Logger:     logger,
	})

	start := time.Now()
	result, err := driver.Run(ctx)
	if err != nil {
		if compile.IsCompileFailure(err) {
			printProblems(err)
			os.Exit(1)
		}
		errors.FatalError("%v", err)
	}

	if globals.JSON {
		printCompileJSON(result, time.Since(start))
		return
	}
	printCompileSummary(result, time.Since(start))
}

func newLogger(globals GlobalFlags, debug bool) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case debug || globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printCompileSummary(result *compile.Result, elapsed time.Duration) {
	if result.Clean {
		_, _ = ui.Success.Println("Nothing to compile: analysis is up to date.")
		return
	}
	if result.FullRebuild {
		_, _ = ui.Warning.Println("Full rebuild was required.")
	}
	_, _ = ui.Success.Printf("Compiled %d source(s) in %d step(s) (%.1fs)\n",
		len(result.Compiled), result.Steps, elapsed.Seconds())
	stats := result.Analysis.Stats()
	_, _ = ui.Dim.Printf("  classes: %d  products: %d  external: %d\n",
		stats.ClassCount, stats.ProductCount, stats.ExternalCount)
}

func printCompileJSON(result *compile.Result, elapsed time.Duration) {
	stats := result.Analysis.Stats()
	fmt.Printf(`{"clean":%t,"full_rebuild":%t,"steps":%d,"compiled":%d,"classes":%d,"duration_ms":%d}`+"\n",
		result.Clean, result.FullRebuild, result.Steps, len(result.Compiled),
		stats.ClassCount, elapsed.Milliseconds())
}

func printProblems(err error) {
	var failure *compile.CompileFailureError
	if !stderrors.As(err, &failure) {
		_, _ = ui.Error.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	_, _ = ui.Error.Fprintf(os.Stderr, "Error: %v\n", failure.Err)
	for src, info := range failure.Infos {
		for _, p := range info.ReportedProblems {
			if p.Severity == analysis.SeverityError {
				_, _ = ui.Error.Fprintf(os.Stderr, "  %s: %s\n", src, p.Message)
			}
		}
	}
}
