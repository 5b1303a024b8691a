// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package compile

import (
	"errors"
	"fmt"

	"github.com/kraklabs/incr/pkg/analysis"
)

// CallbackViolationError reports a compiler callback event that breaks
// the driver contract: an event for an unregistered source, or a class
// file produced outside the declared output. Fatal; the run aborts and
// the on-disk analysis is preserved.
type CallbackViolationError struct {
	Source analysis.File
	Event  string
	Reason string
}

// Error implements error.
func (e *CallbackViolationError) Error() string {
	return fmt.Sprintf("callback violation in %s for source %q: %s", e.Event, e.Source, e.Reason)
}

// IsCallbackViolation reports whether err is a callback violation.
func IsCallbackViolation(err error) bool {
	var cv *CallbackViolationError
	return errors.As(err, &cv)
}

// MissingExternalError reports an external class that could not be
// resolved on the classpath. Recoverable: dependents of the class are
// invalidated conservatively.
type MissingExternalError struct {
	Class string
}

// Error implements error.
func (e *MissingExternalError) Error() string {
	return fmt.Sprintf("external class %q not resolvable on classpath", e.Class)
}

// CompileFailureError reports that the external compiler failed. The
// driver persists no new analysis; problems of the in-progress run are
// carried in Infos.
type CompileFailureError struct {
	Err   error
	Infos analysis.SourceInfos
}

// Error implements error.
func (e *CompileFailureError) Error() string {
	return fmt.Sprintf("compilation failed: %v", e.Err)
}

// Unwrap exposes the compiler error.
func (e *CompileFailureError) Unwrap() error { return e.Err }

// IsCompileFailure reports whether err is a compile failure.
func IsCompileFailure(err error) bool {
	var cf *CompileFailureError
	return errors.As(err, &cf)
}
