// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/incr/internal/errors"
	"github.com/kraklabs/incr/internal/ui"
	"github.com/kraklabs/incr/pkg/codec"
	"github.com/kraklabs/incr/pkg/compile"
)

// runReset executes the 'reset' CLI command: it deletes the persisted
// analysis (both streams) and evicts the process cache entry.
func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: incr reset [--yes]

Description:
  Delete the persisted analysis. The next 'incr compile' performs a
  full compile. Destructive; asks for confirmation unless --yes.

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
		_, _ = ui.Dim.Println("No analysis to reset.")
		return
	}

	if !*yes {
		fmt.Printf("Delete analysis %s and %s? [y/N] ", store.Path(), store.APIsPath())
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	compile.GlobalCache().Invalidate(store.Path())
	if err := store.Delete(); err != nil {
		errors.FatalError("delete analysis: %v", err)
	}
	_, _ = ui.Success.Println("Analysis deleted.")
}
