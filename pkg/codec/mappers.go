// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import "github.com/kraklabs/incr/pkg/analysis"

// FileMapper rewrites a path token.
type FileMapper func(analysis.File) analysis.File

// StampMapper rewrites a stamp, given the file it belongs to.
type StampMapper func(analysis.File, analysis.Stamp) analysis.Stamp

// OptionMapper rewrites one compiler option.
type OptionMapper func(string) string

// Mappers rewrite paths, stamps, and options in one direction (reading
// or writing). They make a persisted analysis portable across machines
// with different directory layouts. Nil members are identity.
type Mappers struct {
	SourceFile     FileMapper
	BinaryFile     FileMapper
	ProductFile    FileMapper
	SourceDir      FileMapper
	OutputDir      FileMapper
	ClasspathEntry FileMapper

	SourceStamp  StampMapper
	BinaryStamp  StampMapper
	ProductStamp StampMapper

	JavacOption  OptionMapper
	ScalacOption OptionMapper
}

// ReadWriteMappers pairs the mappers applied while reading with those
// applied while writing.
type ReadWriteMappers struct {
	Read  Mappers
	Write Mappers
}

// Identity returns mappers that change nothing.
func Identity() ReadWriteMappers {
	return ReadWriteMappers{}
}

func (m Mappers) sourceFile(f analysis.File) analysis.File {
	return applyFile(m.SourceFile, f)
}

func (m Mappers) binaryFile(f analysis.File) analysis.File {
	return applyFile(m.BinaryFile, f)
}

func (m Mappers) productFile(f analysis.File) analysis.File {
	return applyFile(m.ProductFile, f)
}

func (m Mappers) sourceDir(f analysis.File) analysis.File {
	return applyFile(m.SourceDir, f)
}

func (m Mappers) outputDir(f analysis.File) analysis.File {
	return applyFile(m.OutputDir, f)
}

func (m Mappers) classpathEntry(f analysis.File) analysis.File {
	return applyFile(m.ClasspathEntry, f)
}

func (m Mappers) sourceStamp(f analysis.File, s analysis.Stamp) analysis.Stamp {
	return applyStamp(m.SourceStamp, f, s)
}

func (m Mappers) binaryStamp(f analysis.File, s analysis.Stamp) analysis.Stamp {
	return applyStamp(m.BinaryStamp, f, s)
}

func (m Mappers) productStamp(f analysis.File, s analysis.Stamp) analysis.Stamp {
	return applyStamp(m.ProductStamp, f, s)
}

func (m Mappers) javacOption(o string) string {
	return applyOption(m.JavacOption, o)
}

func (m Mappers) scalacOption(o string) string {
	return applyOption(m.ScalacOption, o)
}

func applyFile(fn FileMapper, f analysis.File) analysis.File {
	if fn == nil {
		return f
	}
	return fn(f)
}

func applyStamp(fn StampMapper, f analysis.File, s analysis.Stamp) analysis.Stamp {
	if fn == nil {
		return s
	}
	return fn(f, s)
}

func applyOption(fn OptionMapper, o string) string {
	if fn == nil {
		return o
	}
	return fn(o)
}
