// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors holds the CLI fatal-error helpers.
package errors

import (
	"fmt"
	"os"

	"github.com/kraklabs/incr/internal/ui"
)

// FatalError prints an error to stderr and exits non-zero. Used by
// command handlers for unrecoverable failures.
func FatalError(format string, args ...any) {
	_, _ = ui.Error.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// Fatal prints an error value to stderr and exits non-zero.
func Fatal(err error) {
	FatalError("%v", err)
}

// Warn prints a warning to stderr without exiting.
func Warn(format string, args ...any) {
	_, _ = ui.Warning.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// Exitf prints a plain message to stderr and exits with the given code.
func Exitf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
