// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/incr/internal/errors"
	"github.com/kraklabs/incr/internal/ui"
)

// runInit executes the 'init' CLI command: it writes a default
// .incr/project.yaml for the current directory.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.BoolP("force", "f", false, "Overwrite existing configuration")
	projectID := fs.String("project-id", "", "Project identifier (default: directory name)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: incr init [options]

Description:
  Create a default .incr/project.yaml in the current directory. Edit
  the compiler command, source directories, and classpath before the
  first 'incr compile'.

`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := filepath.Join(defaultConfigDir, defaultConfigFile)
	if _, err := os.Stat(path); err == nil && !*force {
		errors.FatalError("%s already exists (use --force to overwrite)", path)
	}

	id := *projectID
	if id == "" {
		wd, err := os.Getwd()
		if err != nil {
			errors.FatalError("determine working directory: %v", err)
		}
		id = filepath.Base(wd)
	}

	cfg := DefaultConfig(id)
	if err := SaveConfig(path, cfg); err != nil {
		errors.FatalError("write configuration: %v", err)
	}

	_, _ = ui.Success.Printf("Created %s\n", path)
	_, _ = ui.Dim.Println("Edit the compiler command and source directories, then run 'incr compile'.")
}
