// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/incr/internal/errors"
	"github.com/kraklabs/incr/internal/ui"
	"github.com/kraklabs/incr/pkg/codec"
)

// runStatus executes the 'status' CLI command: a summary of the
// persisted analysis. Loads the analysis stream only, skipping the
// APIs stream.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOut := fs.Bool("json", globals.JSON, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: incr status [--json]

Description:
  Show a summary of the persisted analysis: source, product, and class
  counts, the recorded compiler setup, and the compile history length.

`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError("load configuration: %v (run 'incr init' first)", err)
	}

	store := codec.NewStore(cfg.Paths.AnalysisFile, codec.Identity(), nil)
	if !store.Exists() {
		if *jsonOut {
			fmt.Println(`{"exists":false}`)
			return
		}
		_, _ = ui.Warning.Println("No analysis found. Run 'incr compile' first.")
		return
	}

	a, setup, err := store.ReadWithoutAPIs()
	if err != nil {
		errors.FatalError("read analysis: %v", err)
	}
	stats := a.Stats()

	if *jsonOut {
		out := map[string]any{
			"exists":           true,
			"project_id":       cfg.ProjectID,
			"sources":          stats.SourceCount,
			"products":         stats.ProductCount,
			"binaries":         stats.BinaryCount,
			"classes":          stats.ClassCount,
			"external_classes": stats.ExternalCount,
			"compilations":     stats.CompileCount,
			"problems":         stats.ProblemCount,
			"compiler_version": setup.CompilerVersion,
			"compile_order":    setup.Order.String(),
			"store_apis":       setup.StoreAPIs,
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			errors.FatalError("marshal status: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	_, _ = ui.Bold.Printf("Project: %s\n", cfg.ProjectID)
	fmt.Printf("  Analysis file:    %s\n", store.Path())
	fmt.Printf("  Sources:          %d\n", stats.SourceCount)
	fmt.Printf("  Products:         %d\n", stats.ProductCount)
	fmt.Printf("  Classes:          %d (%d external)\n", stats.ClassCount, stats.ExternalCount)
	fmt.Printf("  Classpath deps:   %d\n", stats.BinaryCount)
	fmt.Printf("  Compilations:     %d\n", stats.CompileCount)
	fmt.Printf("  Problems:         %d\n", stats.ProblemCount)
	fmt.Printf("  Compiler:         %s (%s order)\n", setup.CompilerVersion, setup.Order)
}
