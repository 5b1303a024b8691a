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

// runDump executes the 'dump' CLI command: a human-inspectable digest
// of the persisted relations and API hashes.
func runDump(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	jsonOut := fs.Bool("json", globals.JSON, "Output as JSON")
	withNames := fs.Bool("names", false, "Include per-class used names")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: incr dump [--json] [--names]

Description:
  Dump the dependency relations and API hashes of the persisted
  analysis, for debugging invalidation decisions.

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
	a, _, err := store.Read()
	if err != nil {
		errors.FatalError("read analysis: %v", err)
	}

	type classDump struct {
		Name      string   `json:"name"`
		APIHash   string   `json:"api_hash"`
		HasMacro  bool     `json:"has_macro,omitempty"`
		DependsOn []string `json:"depends_on,omitempty"`
		Inherits  []string `json:"inherits,omitempty"`
		UsedNames []string `json:"used_names,omitempty"`
	}

	var classes []classDump
	for _, name := range a.APIs.InternalNames() {
		api := a.APIs.Internal[name]
		cd := classDump{
			Name:      name,
			APIHash:   fmt.Sprintf("%016x", api.APIHash),
			HasMacro:  api.HasMacro,
			DependsOn: a.Relations.MemberRef.Internal.Forward(name),
			Inherits:  a.Relations.Inheritance.Internal.Forward(name),
		}
		if *withNames {
			for _, un := range a.Relations.Names.Names(name) {
				cd.UsedNames = append(cd.UsedNames, un.Name)
			}
		}
		classes = append(classes, cd)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(classes, "", "  ")
		if err != nil {
			errors.FatalError("marshal dump: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	for _, cd := range classes {
		_, _ = ui.Bold.Printf("%s", cd.Name)
		_, _ = ui.Dim.Printf("  %s", cd.APIHash)
		if cd.HasMacro {
			_, _ = ui.Warning.Printf("  [macro]")
		}
		fmt.Println()
		for _, dep := range cd.DependsOn {
			fmt.Printf("  -> %s\n", dep)
		}
		for _, parent := range cd.Inherits {
			fmt.Printf("  :> %s\n", parent)
		}
		for _, name := range cd.UsedNames {
			_, _ = ui.Dim.Printf("  uses %s\n", name)
		}
	}
}
