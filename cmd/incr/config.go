// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/incremental"
)

const (
	defaultConfigDir  = ".incr"
	defaultConfigFile = "project.yaml"
	configVersion     = "1"
)

// Config represents the .incr/project.yaml configuration file.
type Config struct {
	Version      string             `yaml:"version"`
	ProjectID    string             `yaml:"project_id"`
	Compiler     CompilerConfig     `yaml:"compiler"`
	Paths        PathsConfig        `yaml:"paths"`
	Classpath    []string           `yaml:"classpath"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
}

// CompilerConfig describes the external compiler bridge.
type CompilerConfig struct {
	// Command launches the compiler bridge; events arrive as JSON
	// lines on its stdout.
	Command []string `yaml:"command"`

	// Version is the compiler version; a change discards the previous
	// analysis.
	Version string `yaml:"version"`

	// Order sequences mixed-language sources: mixed, java-then-scala,
	// or scala-then-java.
	Order string `yaml:"order"`

	ScalacOptions []string `yaml:"scalac_options,omitempty"`
	JavacOptions  []string `yaml:"javac_options,omitempty"`
}

// PathsConfig locates sources, outputs, and the backing analysis.
type PathsConfig struct {
	// SourceDirs are walked for source files.
	SourceDirs []string `yaml:"source_dirs"`

	// Extensions select source files during the walk.
	Extensions []string `yaml:"extensions"`

	// OutputDir receives emitted class files.
	OutputDir string `yaml:"output_dir"`

	// AnalysisFile is the backing file of the persisted analysis.
	AnalysisFile string `yaml:"analysis_file"`
}

// InvalidationConfig tunes the invalidation engine.
type InvalidationConfig struct {
	RecompileAllFraction float64 `yaml:"recompile_all_fraction"`
	TransitiveStep       uint32  `yaml:"transitive_step"`
	NameHashing          *bool   `yaml:"name_hashing,omitempty"`
	StoreAPIs            *bool   `yaml:"store_apis,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig(projectID string) *Config {
	return &Config{
		Version:   configVersion,
		ProjectID: projectID,
		Compiler: CompilerConfig{
			Command: []string{"incr-bridge"},
			Order:   "mixed",
		},
		Paths: PathsConfig{
			SourceDirs:   []string{"src"},
			Extensions:   []string{".scala", ".java"},
			OutputDir:    "target/classes",
			AnalysisFile: filepath.Join(defaultConfigDir, "analysis.bin"),
		},
		Invalidation: InvalidationConfig{
			RecompileAllFraction: 0.5,
			TransitiveStep:       3,
		},
	}
}

// LoadConfig reads the configuration file. An empty path uses the
// default location.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(defaultConfigDir, defaultConfigFile)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Version != configVersion {
		return nil, fmt.Errorf("unsupported config version %q (want %q)", cfg.Version, configVersion)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// SaveConfig writes the configuration file atomically.
func SaveConfig(path string, cfg *Config) error {
	if path == "" {
		path = filepath.Join(defaultConfigDir, defaultConfigFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func applyConfigDefaults(cfg *Config) {
	def := DefaultConfig(cfg.ProjectID)
	if len(cfg.Paths.SourceDirs) == 0 {
		cfg.Paths.SourceDirs = def.Paths.SourceDirs
	}
	if len(cfg.Paths.Extensions) == 0 {
		cfg.Paths.Extensions = def.Paths.Extensions
	}
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = def.Paths.OutputDir
	}
	if cfg.Paths.AnalysisFile == "" {
		cfg.Paths.AnalysisFile = def.Paths.AnalysisFile
	}
	if cfg.Invalidation.RecompileAllFraction == 0 {
		cfg.Invalidation.RecompileAllFraction = def.Invalidation.RecompileAllFraction
	}
	if cfg.Invalidation.TransitiveStep == 0 {
		cfg.Invalidation.TransitiveStep = def.Invalidation.TransitiveStep
	}
}

// Options converts the invalidation section to engine options.
func (c *Config) Options() incremental.Options {
	opts := incremental.DefaultOptions()
	opts.RecompileAllFraction = c.Invalidation.RecompileAllFraction
	opts.TransitiveStep = c.Invalidation.TransitiveStep
	if c.Invalidation.NameHashing != nil {
		opts.NameHashing = *c.Invalidation.NameHashing
	}
	if c.Invalidation.StoreAPIs != nil {
		opts.StoreAPIs = *c.Invalidation.StoreAPIs
	}
	opts.CompileOrder = analysis.ParseCompileOrder(c.Compiler.Order)
	return opts
}

// Setup builds the current MiniSetup, stamping the classpath entries.
func (c *Config) Setup(stamper *analysis.Stamper) analysis.MiniSetup {
	setup := analysis.MiniSetup{
		Output:          analysis.SingleOutput(canonicalFile(c.Paths.OutputDir)),
		CompilerVersion: c.Compiler.Version,
		Order:           analysis.ParseCompileOrder(c.Compiler.Order),
		StoreAPIs:       c.Invalidation.StoreAPIs == nil || *c.Invalidation.StoreAPIs,
	}
	setup.Options.ScalacOptions = c.Compiler.ScalacOptions
	setup.Options.JavacOptions = c.Compiler.JavacOptions
	for _, entry := range c.Classpath {
		f := canonicalFile(entry)
		setup.Options.ClasspathHash = append(setup.Options.ClasspathHash, analysis.FileHash{
			File: f,
			Hash: stamper.StampBinary(f).Hash,
		})
	}
	return setup
}

// CollectSources walks the configured source directories and returns
// every matching source file as a canonical path token, sorted.
func (c *Config) CollectSources() ([]analysis.File, error) {
	var out []analysis.File
	for _, dir := range c.Paths.SourceDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			for _, ext := range c.Paths.Extensions {
				if strings.HasSuffix(path, ext) {
					out = append(out, canonicalFile(path))
					break
				}
			}
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// canonicalFile turns a path into the canonical absolute token the
// engine keys everything by.
func canonicalFile(path string) analysis.File {
	abs, err := filepath.Abs(path)
	if err != nil {
		return analysis.File(filepath.Clean(path))
	}
	return analysis.File(abs)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
