// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package codec persists an Analysis in a schema-versioned binary form.
// Two msgpack streams are written per compile unit: the analysis stream
// (stamps, relations, source infos, setup) and a sibling APIs stream,
// so callers can load everything-but-APIs cheaply. User-supplied
// mappers rewrite paths, stamps, and options on the way in and out,
// making the persisted form portable across machines.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

// Schema versions. Readers reject anything newer than CurrentVersion.
const (
	Version1 uint32 = 1

	CurrentVersion = Version1
)

// APIsSuffix is appended to the backing path for the APIs stream.
const APIsSuffix = ".apis"

// DecodeError reports a malformed or unsupported analysis file. Callers
// treat it as "no previous analysis" and proceed with a full compile.
type DecodeError struct {
	Reason  string
	Version uint32
	EnumID  int
	Err     error
}

// Error implements error.
func (e *DecodeError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("decode analysis: %s: %v", e.Reason, e.Err)
	case e.EnumID != 0:
		return fmt.Sprintf("decode analysis: %s (id %d)", e.Reason, e.EnumID)
	case e.Version != 0:
		return fmt.Sprintf("decode analysis: %s (version %d)", e.Reason, e.Version)
	default:
		return fmt.Sprintf("decode analysis: %s", e.Reason)
	}
}

// Unwrap exposes the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type wireStampEntry struct {
	File   string
	Kind   uint8
	Hash   string
	Millis int64
}

type wireRelationEntry struct {
	Key    string
	Values []string
}

type wireUsedName struct {
	Name   string
	Scopes uint8
}

type wireUsedNameEntry struct {
	Class string
	Names []wireUsedName
}

type wirePosition struct {
	Line          int32
	Offset        int32
	PointerLine   int32
	PointerColumn int32
	SourcePath    string
	LineContent   string
	PointerSpace  string
	StartLine     int32
	StartOffset   int32
	StartColumn   int32
	EndLine       int32
	EndOffset     int32
	EndColumn     int32
}

type wireProblem struct {
	Category string
	Severity uint8
	Message  string
	Position wirePosition
}

type wireSourceInfo struct {
	File        string
	Reported    []wireProblem
	Unreported  []wireProblem
	MainClasses []string
}

type wireOutputGroup struct {
	SourceDir string
	TargetDir string
}

type wireOutput struct {
	Single string
	Groups []wireOutputGroup
}

type wireCompilation struct {
	StartTimeMillis int64
	Output          wireOutput
}

type wireFileHash struct {
	File string
	Hash string
}

type wireExtra struct {
	Key   string
	Value string
}

type wireMiniSetup struct {
	Output          wireOutput
	ClasspathHash   []wireFileHash
	ScalacOptions   []string
	JavacOptions    []string
	CompilerVersion string
	Order           uint8
	StoreAPIs       bool
	Extra           []wireExtra
}

type wireAnalysis struct {
	Sources  []wireStampEntry
	Products []wireStampEntry
	Binaries []wireStampEntry

	SrcProd          []wireRelationEntry
	LibraryDep       []wireRelationEntry
	LibraryClassName []wireRelationEntry
	Classes          []wireRelationEntry
	ProductClassName []wireRelationEntry

	MemberRefInternal        []wireRelationEntry
	MemberRefExternal        []wireRelationEntry
	InheritanceInternal      []wireRelationEntry
	InheritanceExternal      []wireRelationEntry
	LocalInheritanceInternal []wireRelationEntry
	LocalInheritanceExternal []wireRelationEntry

	Names []wireUsedNameEntry

	SourceInfos  []wireSourceInfo
	Compilations []wireCompilation
}

type wireAnalysisFile struct {
	Analysis wireAnalysis
	Setup    wireMiniSetup
}

type wireAPIsFile struct {
	Internal []wireAnalyzedClass
	External []wireAnalyzedClass
}

// Store reads and writes the two analysis streams of one compile unit.
type Store struct {
	path    string
	mappers ReadWriteMappers
	logger  *slog.Logger
}

// NewStore creates a store backed by path and path+".apis".
func NewStore(path string, mappers ReadWriteMappers, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, mappers: mappers, logger: logger}
}

// Path returns the analysis stream path.
func (s *Store) Path() string { return s.path }

// APIsPath returns the APIs stream path.
func (s *Store) APIsPath() string { return s.path + APIsSuffix }

// Exists reports whether the analysis stream is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Delete removes both streams.
func (s *Store) Delete() error {
	for _, p := range []string{s.path, s.APIsPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Write persists the analysis and its setup. When storeAPIs is false,
// the APIs stream keeps the hashes and name hashes but drops the full
// class structures.
func (s *Store) Write(a *analysis.Analysis, setup analysis.MiniSetup, storeAPIs bool) error {
	start := time.Now()
	m := s.mappers.Write

	file := wireAnalysisFile{
		Analysis: s.encodeAnalysis(a, m),
		Setup:    encodeSetup(setup, m),
	}
	if err := writeMessage(s.path, CurrentVersion, &file); err != nil {
		return fmt.Errorf("write analysis stream: %w", err)
	}

	apis, err := encodeAPIs(a.APIs, storeAPIs)
	if err != nil {
		return fmt.Errorf("encode apis: %w", err)
	}
	if err := writeMessage(s.APIsPath(), CurrentVersion, apis); err != nil {
		return fmt.Errorf("write apis stream: %w", err)
	}

	s.logger.Info("codec.write.complete",
		"path", s.path,
		"sources", len(a.Stamps.Sources),
		"classes", len(a.APIs.Internal),
		"store_apis", storeAPIs,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Read loads the analysis and setup, APIs included.
func (s *Store) Read() (*analysis.Analysis, analysis.MiniSetup, error) {
	a, setup, in, err := s.readAnalysisStream()
	if err != nil {
		return nil, analysis.MiniSetup{}, err
	}

	var apisFile wireAPIsFile
	if err := readMessage(s.APIsPath(), &apisFile); err != nil {
		return nil, analysis.MiniSetup{}, err
	}
	dec := &apiDecoder{in: in}
	for _, w := range apisFile.Internal {
		a.APIs.AddInternal(dec.analyzedClass(w))
	}
	for _, w := range apisFile.External {
		a.APIs.AddExternal(dec.analyzedClass(w))
	}
	if dec.err != nil {
		return nil, analysis.MiniSetup{}, dec.err
	}

	s.logger.Info("codec.read.complete",
		"path", s.path,
		"sources", len(a.Stamps.Sources),
		"classes", len(a.APIs.Internal),
	)
	return a, setup, nil
}

// ReadWithoutAPIs loads the analysis stream only. The returned analysis
// has empty API maps, so it carries no name hashes; relations, used
// names included, are intact.
func (s *Store) ReadWithoutAPIs() (*analysis.Analysis, analysis.MiniSetup, error) {
	a, setup, _, err := s.readAnalysisStream()
	if err != nil {
		return nil, analysis.MiniSetup{}, err
	}
	return a, setup, nil
}

func (s *Store) readAnalysisStream() (*analysis.Analysis, analysis.MiniSetup, *interner, error) {
	var file wireAnalysisFile
	if err := readMessage(s.path, &file); err != nil {
		return nil, analysis.MiniSetup{}, nil, err
	}
	in := newInterner()
	a := s.decodeAnalysis(&file.Analysis, in)
	setup := decodeSetup(file.Setup, s.mappers.Read, in)
	return a, setup, in, nil
}

// writeMessage writes one length-prefixed, version-tagged msgpack
// message atomically (temp file + rename).
func writeMessage(path string, version uint32, payload any) error {
	var body bytes.Buffer
	enc := msgpack.NewEncoder(&body)
	if err := enc.Encode(version); err != nil {
		return err
	}
	if err := enc.Encode(payload); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create analysis dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "tmp-analysis-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(body.Len()))
	if _, err := tmp.Write(length[:]); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(body.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readMessage(path string, payload any) error {
	f, err := os.Open(path) //nolint:gosec // G304: path from store configuration
	if err != nil {
		if os.IsNotExist(err) {
			return &DecodeError{Reason: "analysis file missing", Err: err}
		}
		return &DecodeError{Reason: "open analysis file", Err: err}
	}
	defer func() { _ = f.Close() }()

	var length [8]byte
	if _, err := io.ReadFull(f, length[:]); err != nil {
		return &DecodeError{Reason: "truncated length prefix", Err: err}
	}
	body := make([]byte, binary.BigEndian.Uint64(length[:]))
	if _, err := io.ReadFull(f, body); err != nil {
		return &DecodeError{Reason: "truncated message body", Err: err}
	}

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	version, err := dec.DecodeUint32()
	if err != nil {
		return &DecodeError{Reason: "missing version tag", Err: err}
	}
	if version > CurrentVersion {
		return &DecodeError{Reason: "unsupported schema version", Version: version}
	}
	if err := dec.Decode(payload); err != nil {
		return &DecodeError{Reason: "malformed message body", Version: version, Err: err}
	}
	return nil
}

func (s *Store) encodeAnalysis(a *analysis.Analysis, m Mappers) wireAnalysis {
	out := wireAnalysis{
		Sources:  encodeStamps(a.Stamps.Sources, m.sourceFile, m.sourceStamp),
		Products: encodeStamps(a.Stamps.Products, m.productFile, m.productStamp),
		Binaries: encodeStamps(a.Stamps.Binaries, m.binaryFile, m.binaryStamp),

		SrcProd:          encodeFileRelation(a.Relations.SrcProd, m.sourceFile, m.productFile),
		LibraryDep:       encodeFileRelation(a.Relations.LibraryDep, m.sourceFile, m.binaryFile),
		LibraryClassName: encodeFileStringRelation(a.Relations.LibraryClassName, m.binaryFile),
		Classes:          encodeFileStringRelation(a.Relations.Classes, m.sourceFile),
		ProductClassName: encodeStringRelation(a.Relations.ProductClassName),

		MemberRefInternal:        encodeStringRelation(a.Relations.MemberRef.Internal),
		MemberRefExternal:        encodeStringRelation(a.Relations.MemberRef.External),
		InheritanceInternal:      encodeStringRelation(a.Relations.Inheritance.Internal),
		InheritanceExternal:      encodeStringRelation(a.Relations.Inheritance.External),
		LocalInheritanceInternal: encodeStringRelation(a.Relations.LocalInheritance.Internal),
		LocalInheritanceExternal: encodeStringRelation(a.Relations.LocalInheritance.External),
	}

	for _, class := range a.Relations.Names.Classes() {
		entry := wireUsedNameEntry{Class: class}
		for _, un := range a.Relations.Names.Names(class) {
			entry.Names = append(entry.Names, wireUsedName{Name: un.Name, Scopes: uint8(un.Scopes)})
		}
		out.Names = append(out.Names, entry)
	}

	for _, src := range sortedInfoFiles(a.SourceInfos) {
		info := a.SourceInfos[src]
		out.SourceInfos = append(out.SourceInfos, wireSourceInfo{
			File:        string(m.sourceFile(src)),
			Reported:    encodeProblems(info.ReportedProblems),
			Unreported:  encodeProblems(info.UnreportedProblems),
			MainClasses: info.MainClasses,
		})
	}

	for _, c := range a.Compilations {
		out.Compilations = append(out.Compilations, wireCompilation{
			StartTimeMillis: c.StartTimeMillis,
			Output:          encodeOutput(c.Output, m),
		})
	}
	return out
}

func (s *Store) decodeAnalysis(w *wireAnalysis, in *interner) *analysis.Analysis {
	m := s.mappers.Read
	a := analysis.Empty()

	decodeStamps(a.Stamps.Sources, w.Sources, m.sourceFile, m.sourceStamp, in)
	decodeStamps(a.Stamps.Products, w.Products, m.productFile, m.productStamp, in)
	decodeStamps(a.Stamps.Binaries, w.Binaries, m.binaryFile, m.binaryStamp, in)

	decodeFileRelation(a.Relations.SrcProd, w.SrcProd, m.sourceFile, m.productFile, in)
	decodeFileRelation(a.Relations.LibraryDep, w.LibraryDep, m.sourceFile, m.binaryFile, in)
	decodeFileStringRelation(a.Relations.LibraryClassName, w.LibraryClassName, m.binaryFile, in)
	decodeFileStringRelation(a.Relations.Classes, w.Classes, m.sourceFile, in)
	decodeStringRelation(a.Relations.ProductClassName, w.ProductClassName, in)

	decodeStringRelation(a.Relations.MemberRef.Internal, w.MemberRefInternal, in)
	decodeStringRelation(a.Relations.MemberRef.External, w.MemberRefExternal, in)
	decodeStringRelation(a.Relations.Inheritance.Internal, w.InheritanceInternal, in)
	decodeStringRelation(a.Relations.Inheritance.External, w.InheritanceExternal, in)
	decodeStringRelation(a.Relations.LocalInheritance.Internal, w.LocalInheritanceInternal, in)
	decodeStringRelation(a.Relations.LocalInheritance.External, w.LocalInheritanceExternal, in)

	for _, entry := range w.Names {
		class := in.intern(entry.Class)
		for _, un := range entry.Names {
			a.Relations.Names.Add(class, in.intern(un.Name), analysis.UseScopeSet(un.Scopes))
		}
	}

	for _, info := range w.SourceInfos {
		a.SourceInfos[m.sourceFile(analysis.File(in.intern(info.File)))] = &analysis.SourceInfo{
			ReportedProblems:   decodeProblems(info.Reported, in),
			UnreportedProblems: decodeProblems(info.Unreported, in),
			MainClasses:        in.internAll(info.MainClasses),
		}
	}

	for _, c := range w.Compilations {
		a.Compilations = append(a.Compilations, analysis.Compilation{
			StartTimeMillis: c.StartTimeMillis,
			Output:          decodeOutput(c.Output, m, in),
		})
	}
	return a
}

func encodeStamps(stamps map[analysis.File]analysis.Stamp, mapFile FileMapper, mapStamp StampMapper) []wireStampEntry {
	files := make([]analysis.File, 0, len(stamps))
	for f := range stamps {
		files = append(files, f)
	}
	sortFiles(files)
	out := make([]wireStampEntry, 0, len(files))
	for _, f := range files {
		stamp := applyStamp(mapStamp, f, stamps[f])
		out = append(out, wireStampEntry{
			File:   string(applyFile(mapFile, f)),
			Kind:   uint8(stamp.Kind),
			Hash:   stamp.Hash,
			Millis: stamp.Millis,
		})
	}
	return out
}

func decodeStamps(dst map[analysis.File]analysis.Stamp, entries []wireStampEntry, mapFile FileMapper, mapStamp StampMapper, in *interner) {
	for _, e := range entries {
		f := applyFile(mapFile, analysis.File(in.intern(e.File)))
		stamp := analysis.Stamp{
			Kind:   analysis.StampKind(e.Kind),
			Hash:   in.intern(e.Hash),
			Millis: e.Millis,
		}
		dst[f] = applyStamp(mapStamp, f, stamp)
	}
}

func encodeFileRelation(r *analysis.Relation[analysis.File, analysis.File], mapKey, mapValue FileMapper) []wireRelationEntry {
	var out []wireRelationEntry
	for _, key := range r.ForwardKeys() {
		values := r.Forward(key)
		entry := wireRelationEntry{Key: string(applyFile(mapKey, key))}
		for _, v := range values {
			entry.Values = append(entry.Values, string(applyFile(mapValue, v)))
		}
		out = append(out, entry)
	}
	return out
}

func decodeFileRelation(r *analysis.Relation[analysis.File, analysis.File], entries []wireRelationEntry, mapKey, mapValue FileMapper, in *interner) {
	for _, e := range entries {
		key := applyFile(mapKey, analysis.File(in.intern(e.Key)))
		for _, v := range e.Values {
			r.Add(key, applyFile(mapValue, analysis.File(in.intern(v))))
		}
	}
}

func encodeFileStringRelation(r *analysis.Relation[analysis.File, string], mapKey FileMapper) []wireRelationEntry {
	var out []wireRelationEntry
	for _, key := range r.ForwardKeys() {
		out = append(out, wireRelationEntry{
			Key:    string(applyFile(mapKey, key)),
			Values: r.Forward(key),
		})
	}
	return out
}

func decodeFileStringRelation(r *analysis.Relation[analysis.File, string], entries []wireRelationEntry, mapKey FileMapper, in *interner) {
	for _, e := range entries {
		key := applyFile(mapKey, analysis.File(in.intern(e.Key)))
		for _, v := range e.Values {
			r.Add(key, in.intern(v))
		}
	}
}

func encodeStringRelation(r *analysis.Relation[string, string]) []wireRelationEntry {
	var out []wireRelationEntry
	for _, key := range r.ForwardKeys() {
		out = append(out, wireRelationEntry{Key: key, Values: r.Forward(key)})
	}
	return out
}

func decodeStringRelation(r *analysis.Relation[string, string], entries []wireRelationEntry, in *interner) {
	for _, e := range entries {
		key := in.intern(e.Key)
		for _, v := range e.Values {
			r.Add(key, in.intern(v))
		}
	}
}

func encodeProblems(ps []analysis.Problem) []wireProblem {
	if ps == nil {
		return nil
	}
	out := make([]wireProblem, len(ps))
	for i, p := range ps {
		out[i] = wireProblem{
			Category: p.Category,
			Severity: uint8(p.Severity),
			Message:  p.Message,
			Position: wirePosition(p.Position),
		}
	}
	return out
}

func decodeProblems(ws []wireProblem, in *interner) []analysis.Problem {
	if ws == nil {
		return nil
	}
	out := make([]analysis.Problem, len(ws))
	for i, w := range ws {
		out[i] = analysis.Problem{
			Category: in.intern(w.Category),
			Severity: analysis.Severity(w.Severity),
			Message:  w.Message,
			Position: analysis.Position(w.Position),
		}
	}
	return out
}

func encodeOutput(o analysis.Output, m Mappers) wireOutput {
	out := wireOutput{Single: string(m.outputDir(o.Single))}
	for _, g := range o.Groups {
		out.Groups = append(out.Groups, wireOutputGroup{
			SourceDir: string(m.sourceDir(g.SourceDir)),
			TargetDir: string(m.outputDir(g.TargetDir)),
		})
	}
	return out
}

func decodeOutput(w wireOutput, m Mappers, in *interner) analysis.Output {
	out := analysis.Output{Single: m.outputDir(analysis.File(in.intern(w.Single)))}
	for _, g := range w.Groups {
		out.Groups = append(out.Groups, analysis.OutputGroup{
			SourceDir: m.sourceDir(analysis.File(in.intern(g.SourceDir))),
			TargetDir: m.outputDir(analysis.File(in.intern(g.TargetDir))),
		})
	}
	return out
}

func encodeSetup(setup analysis.MiniSetup, m Mappers) wireMiniSetup {
	out := wireMiniSetup{
		Output:          encodeOutput(setup.Output, m),
		CompilerVersion: setup.CompilerVersion,
		Order:           uint8(setup.Order),
		StoreAPIs:       setup.StoreAPIs,
	}
	for _, fh := range setup.Options.ClasspathHash {
		out.ClasspathHash = append(out.ClasspathHash, wireFileHash{
			File: string(m.classpathEntry(fh.File)),
			Hash: fh.Hash,
		})
	}
	for _, o := range setup.Options.ScalacOptions {
		out.ScalacOptions = append(out.ScalacOptions, m.scalacOption(o))
	}
	for _, o := range setup.Options.JavacOptions {
		out.JavacOptions = append(out.JavacOptions, m.javacOption(o))
	}
	for _, e := range setup.Extra {
		out.Extra = append(out.Extra, wireExtra{Key: e.Key, Value: e.Value})
	}
	return out
}

func decodeSetup(w wireMiniSetup, m Mappers, in *interner) analysis.MiniSetup {
	setup := analysis.MiniSetup{
		Output:          decodeOutput(w.Output, m, in),
		CompilerVersion: in.intern(w.CompilerVersion),
		Order:           analysis.CompileOrder(w.Order),
		StoreAPIs:       w.StoreAPIs,
	}
	for _, fh := range w.ClasspathHash {
		setup.Options.ClasspathHash = append(setup.Options.ClasspathHash, analysis.FileHash{
			File: m.classpathEntry(analysis.File(in.intern(fh.File))),
			Hash: in.intern(fh.Hash),
		})
	}
	for _, o := range w.ScalacOptions {
		setup.Options.ScalacOptions = append(setup.Options.ScalacOptions, m.scalacOption(o))
	}
	for _, o := range w.JavacOptions {
		setup.Options.JavacOptions = append(setup.Options.JavacOptions, m.javacOption(o))
	}
	for _, e := range w.Extra {
		setup.Extra = append(setup.Extra, analysis.ExtraEntry{Key: e.Key, Value: e.Value})
	}
	return setup
}

func encodeAPIs(apis *apimodel.APIs, storeAPIs bool) (*wireAPIsFile, error) {
	enc := &apiEncoder{}
	out := &wireAPIsFile{}
	for _, name := range apis.InternalNames() {
		out.Internal = append(out.Internal, enc.analyzedClass(apis.Internal[name], storeAPIs))
	}
	for _, name := range apis.ExternalNames() {
		out.External = append(out.External, enc.analyzedClass(apis.External[name], storeAPIs))
	}
	if enc.err != nil {
		return nil, enc.err
	}
	return out, nil
}

func sortedInfoFiles(infos analysis.SourceInfos) []analysis.File {
	files := make([]analysis.File, 0, len(infos))
	for f := range infos {
		files = append(files, f)
	}
	sortFiles(files)
	return files
}

func sortFiles(files []analysis.File) {
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
}
