// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui centralizes terminal color output for the CLI.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	// Success renders positive outcomes (green).
	Success = color.New(color.FgGreen)

	// Warning renders cautions (yellow).
	Warning = color.New(color.FgYellow)

	// Error renders failures (red).
	Error = color.New(color.FgRed)

	// Bold renders emphasized text.
	Bold = color.New(color.Bold)

	// Dim renders secondary text.
	Dim = color.New(color.Faint)
)

// InitColors enables or disables colored output. Colors are disabled
// when noColor is set, when stdout is not a terminal, or when the
// NO_COLOR environment variable is present.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}
