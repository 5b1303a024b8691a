// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import "sort"

// CompileOrder controls how mixed L_S / L_J sources are sequenced.
type CompileOrder uint8

const (
	CompileOrderMixed CompileOrder = iota
	CompileOrderJavaThenScala
	CompileOrderScalaThenJava
)

// String returns the order name for logging and configuration.
func (o CompileOrder) String() string {
	switch o {
	case CompileOrderJavaThenScala:
		return "java-then-scala"
	case CompileOrderScalaThenJava:
		return "scala-then-java"
	default:
		return "mixed"
	}
}

// ParseCompileOrder maps a configuration string to a CompileOrder.
// Unrecognized values fall back to mixed.
func ParseCompileOrder(s string) CompileOrder {
	switch s {
	case "java-then-scala":
		return CompileOrderJavaThenScala
	case "scala-then-java":
		return CompileOrderScalaThenJava
	default:
		return CompileOrderMixed
	}
}

// FileHash pairs a classpath entry with its content hash.
type FileHash struct {
	File File
	Hash string
}

// OutputGroup maps one source directory to its target directory in a
// multi-output layout.
type OutputGroup struct {
	SourceDir File
	TargetDir File
}

// Output describes where products are written. Exactly one of Single or
// Groups is populated.
type Output struct {
	Single File
	Groups []OutputGroup
}

// SingleOutput builds a single-directory output.
func SingleOutput(dir File) Output {
	return Output{Single: dir}
}

// MultipleOutput builds a grouped output.
func MultipleOutput(groups []OutputGroup) Output {
	return Output{Groups: groups}
}

// IsSingle reports whether the output has one target directory.
func (o Output) IsSingle() bool {
	return len(o.Groups) == 0
}

// Contains reports whether the product file lives under one of the
// output directories. Paths are compared by prefix on the canonical
// tokens.
func (o Output) Contains(product File) bool {
	if o.IsSingle() {
		return hasDirPrefix(product, o.Single)
	}
	for _, g := range o.Groups {
		if hasDirPrefix(product, g.TargetDir) {
			return true
		}
	}
	return false
}

func hasDirPrefix(f, dir File) bool {
	if dir == "" {
		return false
	}
	s, d := string(f), string(dir)
	if len(s) <= len(d) || s[:len(d)] != d {
		return false
	}
	return s[len(d)] == '/' || s[len(d)] == '\\'
}

// ExtraEntry is an opaque key/value pair carried through the setup for
// downstream consumers.
type ExtraEntry struct {
	Key   string
	Value string
}

// MiniOptions captures the compiler inputs that, when changed, force a
// full rebuild.
type MiniOptions struct {
	ClasspathHash []FileHash
	ScalacOptions []string
	JavacOptions  []string
}

// MiniSetup records the compile configuration an analysis was produced
// under. On the next run a setup mismatch makes the previous analysis
// unusable.
type MiniSetup struct {
	Output          Output
	Options         MiniOptions
	CompilerVersion string
	Order           CompileOrder
	StoreAPIs       bool
	Extra           []ExtraEntry
}

// Equivalent reports whether two setups are interchangeable, that is,
// whether an analysis produced under m is still valid under other.
// Classpath hashes are compared as sets; option and extra lists are
// order-sensitive because the compilers are.
func (m MiniSetup) Equivalent(other MiniSetup) bool {
	if m.CompilerVersion != other.CompilerVersion {
		return false
	}
	if m.Order != other.Order {
		return false
	}
	if m.StoreAPIs != other.StoreAPIs {
		return false
	}
	if !stringSlicesEqual(m.Options.ScalacOptions, other.Options.ScalacOptions) {
		return false
	}
	if !stringSlicesEqual(m.Options.JavacOptions, other.Options.JavacOptions) {
		return false
	}
	if !classpathHashesEqual(m.Options.ClasspathHash, other.Options.ClasspathHash) {
		return false
	}
	if len(m.Extra) != len(other.Extra) {
		return false
	}
	for i := range m.Extra {
		if m.Extra[i] != other.Extra[i] {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func classpathHashesEqual(a, b []FileHash) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]FileHash(nil), a...)
	bs := append([]FileHash(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].File < as[j].File })
	sort.Slice(bs, func(i, j int) bool { return bs[i].File < bs[j].File })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Compilation records one compile step.
type Compilation struct {
	StartTimeMillis int64
	Output          Output
}
