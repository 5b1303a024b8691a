// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// File is an opaque path token identifying a source, product, or binary
// file. Equality is by canonicalized absolute path. The engine never
// dereferences a File except through the Stamper.
type File string

// StampKind tags the Stamp variant.
type StampKind uint8

const (
	// StampEmpty marks a file that has vanished or was never present.
	StampEmpty StampKind = iota

	// StampHash carries a content hash of the file.
	StampHash

	// StampLastModified carries the file's mtime in epoch milliseconds.
	StampLastModified
)

// Stamp is a fingerprint of a file at a point in time. It is a tagged
// union: exactly one of Hash or Millis is meaningful depending on Kind.
// Equality is structural, so Stamp values compare with ==.
type Stamp struct {
	Kind   StampKind
	Hash   string
	Millis int64
}

// EmptyStamp returns the stamp of a vanished file.
func EmptyStamp() Stamp {
	return Stamp{Kind: StampEmpty}
}

// HashStamp returns a content-hash stamp from a raw digest.
func HashStamp(sum []byte) Stamp {
	return Stamp{Kind: StampHash, Hash: hex.EncodeToString(sum)}
}

// LastModifiedStamp returns a last-modified stamp.
func LastModifiedStamp(millis int64) Stamp {
	return Stamp{Kind: StampLastModified, Millis: millis}
}

// IsEmpty reports whether the stamp marks a vanished file.
func (s Stamp) IsEmpty() bool {
	return s.Kind == StampEmpty
}

// Modified reports whether a file changed between two stampings.
// Comparison is structural: a kind change counts as a modification.
func Modified(old, cur Stamp) bool {
	return old != cur
}

// Stamps holds the fingerprints of every file the analysis knows about,
// partitioned by role. A given File appears in exactly one role.
type Stamps struct {
	Sources  map[File]Stamp
	Products map[File]Stamp
	Binaries map[File]Stamp
}

// NewStamps creates an empty stamp store.
func NewStamps() *Stamps {
	return &Stamps{
		Sources:  make(map[File]Stamp),
		Products: make(map[File]Stamp),
		Binaries: make(map[File]Stamp),
	}
}

// Source returns the recorded stamp for a source file, or the empty stamp.
func (s *Stamps) Source(f File) Stamp {
	if st, ok := s.Sources[f]; ok {
		return st
	}
	return EmptyStamp()
}

// Product returns the recorded stamp for a product file, or the empty stamp.
func (s *Stamps) Product(f File) Stamp {
	if st, ok := s.Products[f]; ok {
		return st
	}
	return EmptyStamp()
}

// Binary returns the recorded stamp for a classpath entry, or the empty stamp.
func (s *Stamps) Binary(f File) Stamp {
	if st, ok := s.Binaries[f]; ok {
		return st
	}
	return EmptyStamp()
}

// AllSources returns the stamped source files in sorted order.
func (s *Stamps) AllSources() []File {
	return sortedFileKeys(s.Sources)
}

// AllProducts returns the stamped product files in sorted order.
func (s *Stamps) AllProducts() []File {
	return sortedFileKeys(s.Products)
}

// AllBinaries returns the stamped classpath entries in sorted order.
func (s *Stamps) AllBinaries() []File {
	return sortedFileKeys(s.Binaries)
}

func sortedFileKeys(m map[File]Stamp) []File {
	keys := make([]File, 0, len(m))
	for f := range m {
		keys = append(keys, f)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Stamper computes stamps for files on disk. Source and binary files are
// fingerprinted by content hash; product files by last-modified time.
type Stamper struct {
	logger *slog.Logger
}

// NewStamper creates a stamper.
func NewStamper(logger *slog.Logger) *Stamper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stamper{logger: logger}
}

// StampSource fingerprints a source file by content hash.
func (st *Stamper) StampSource(f File) Stamp {
	return st.hashFile(f)
}

// StampBinary fingerprints a classpath entry by content hash.
func (st *Stamper) StampBinary(f File) Stamp {
	return st.hashFile(f)
}

// StampProduct fingerprints an emitted class file by last-modified time.
func (st *Stamper) StampProduct(f File) Stamp {
	info, err := os.Stat(string(f))
	if err != nil {
		return EmptyStamp()
	}
	return LastModifiedStamp(info.ModTime().UnixMilli())
}

func (st *Stamper) hashFile(f File) Stamp {
	content, err := os.ReadFile(string(f))
	if err != nil {
		return EmptyStamp()
	}
	sum := sha256.Sum256(content)
	return HashStamp(sum[:])
}

// StampSources stamps a set of source files using a worker pool and
// returns the stamps keyed by file. Workers <= 0 selects GOMAXPROCS.
func (st *Stamper) StampSources(ctx context.Context, files []File, workers int) (map[File]Stamp, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	out := make(map[File]Stamp, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			stamp := st.StampSource(f)
			mu.Lock()
			out[f] = stamp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st.logger.Debug("stamp.sources.complete", "files", len(files), "workers", workers)
	return out, nil
}
