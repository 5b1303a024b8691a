// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
	"github.com/kraklabs/incr/pkg/compile"
)

// ExecCompiler bridges an external compiler process into the driver.
// The bridge command is launched with the source subset as arguments
// and streams callback events as JSON lines on stdout.
type ExecCompiler struct {
	command []string
	logger  *slog.Logger
}

// NewExecCompiler creates a bridge for the given command.
func NewExecCompiler(command []string, logger *slog.Logger) *ExecCompiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecCompiler{command: command, logger: logger}
}

// bridgeEvent is one JSON line of the bridge protocol.
type bridgeEvent struct {
	Event string `json:"event"`

	Source      string `json:"source,omitempty"`
	On          string `json:"on,omitempty"`
	From        string `json:"from,omitempty"`
	Context     string `json:"context,omitempty"`
	Binary      string `json:"binary,omitempty"`
	BinaryClass string `json:"binaryClass,omitempty"`
	SrcClass    string `json:"srcClass,omitempty"`
	ClassFile   string `json:"classFile,omitempty"`
	Class       string `json:"class,omitempty"`
	Name        string `json:"name,omitempty"`

	Scopes []string     `json:"scopes,omitempty"`
	API    *bridgeClass `json:"api,omitempty"`

	Severity string `json:"severity,omitempty"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message,omitempty"`
	Line     int32  `json:"line,omitempty"`
	Reported bool   `json:"reported"`
}

// bridgeClass is the simplified class API the bridge emits; the adapter
// expands it into the structural model.
type bridgeClass struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"` // class, module, trait, package-module
	Access   string      `json:"access,omitempty"`
	Sealed   bool        `json:"sealed,omitempty"`
	TopLevel bool        `json:"topLevel"`
	Parents  []string    `json:"parents,omitempty"`
	Children []string    `json:"children,omitempty"`
	Defs     []bridgeDef `json:"defs,omitempty"`
}

type bridgeDef struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"` // def, val, var, type
	Type     string   `json:"type,omitempty"`
	Params   []string `json:"params,omitempty"`
	Implicit bool     `json:"implicit,omitempty"`
	Macro    bool     `json:"macro,omitempty"`
}

// Compile implements compile.Compiler.
func (ec *ExecCompiler) Compile(ctx context.Context, sources []analysis.File, cb compile.AnalysisCallback) error {
	if len(ec.command) == 0 {
		return fmt.Errorf("no compiler command configured")
	}
	args := make([]string, 0, len(ec.command)-1+len(sources))
	args = append(args, ec.command[1:]...)
	for _, src := range sources {
		args = append(args, string(src))
	}

	cmd := exec.CommandContext(ctx, ec.command[0], args...) //nolint:gosec // G204: command from project config
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe compiler stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start compiler: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var eventErr error
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev bridgeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			ec.logger.Warn("bridge.event.malformed", "err", err)
			continue
		}
		if err := ec.dispatch(&ev, cb); err != nil {
			eventErr = err
			break
		}
	}

	waitErr := cmd.Wait()
	if eventErr != nil {
		return eventErr
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read compiler events: %w", err)
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return fmt.Errorf("compiler exited: %s", string(exitErr.Stderr))
		}
		return fmt.Errorf("compiler: %w", waitErr)
	}
	return nil
}

func (ec *ExecCompiler) dispatch(ev *bridgeEvent, cb compile.AnalysisCallback) error {
	switch ev.Event {
	case "startSource":
		return cb.StartSource(analysis.File(ev.Source))
	case "classDependency":
		return cb.ClassDependency(ev.On, ev.From, parseContext(ev.Context))
	case "binaryDependency":
		return cb.BinaryDependency(analysis.File(ev.Binary), ev.BinaryClass, ev.From, parseContext(ev.Context))
	case "generatedLocalClass":
		return cb.GeneratedLocalClass(analysis.File(ev.Source), analysis.File(ev.ClassFile))
	case "generatedNonLocalClass":
		return cb.GeneratedNonLocalClass(analysis.File(ev.Source), analysis.File(ev.ClassFile), ev.BinaryClass, ev.SrcClass)
	case "api":
		return cb.API(analysis.File(ev.Source), expandClass(ev.API))
	case "usedName":
		return cb.UsedName(ev.Class, ev.Name, parseScopes(ev.Scopes))
	case "mainClass":
		return cb.MainClass(analysis.File(ev.Source), ev.Class)
	case "problem":
		return cb.Problem(analysis.File(ev.Source), expandProblem(ev), ev.Reported)
	default:
		ec.logger.Warn("bridge.event.unknown", "event", ev.Event)
		return nil
	}
}

func parseContext(s string) analysis.DependencyContext {
	switch s {
	case "inheritance":
		return analysis.DependencyInheritance
	case "local-inheritance":
		return analysis.DependencyLocalInheritance
	default:
		return analysis.DependencyMemberRef
	}
}

func parseScopes(scopes []string) analysis.UseScopeSet {
	var set analysis.UseScopeSet
	for _, s := range scopes {
		switch s {
		case "implicit":
			set = set.Union(analysis.NewUseScopeSet(analysis.ScopeImplicit))
		case "pattern-match-target":
			set = set.Union(analysis.NewUseScopeSet(analysis.ScopePatternMatchTarget))
		default:
			set = set.Union(analysis.NewUseScopeSet(analysis.ScopeDefault))
		}
	}
	if set.IsEmpty() {
		set = analysis.NewUseScopeSet(analysis.ScopeDefault)
	}
	return set
}

// expandClass turns a simplified bridge class into the structural
// model. Parents and children arrive as class names and are modeled as
// singleton type references; defs get singleton-typed signatures.
func expandClass(bc *bridgeClass) *apimodel.ClassLike {
	if bc == nil {
		return nil
	}
	cl := &apimodel.ClassLike{
		Name:     bc.Name,
		Access:   expandAccess(bc.Access),
		DefType:  expandKind(bc.Kind),
		SelfType: apimodel.Strict[apimodel.Type](&apimodel.EmptyType{}),
		TopLevel: bc.TopLevel,
	}
	if bc.Sealed {
		cl.Modifiers |= apimodel.ModifierSealed
	}

	parents := make([]apimodel.Type, len(bc.Parents))
	for i, p := range bc.Parents {
		parents[i] = &apimodel.Singleton{Path: p}
	}
	declared := make([]apimodel.ClassDefinition, len(bc.Defs))
	for i, d := range bc.Defs {
		declared[i] = expandDef(d)
	}
	cl.Structure = &apimodel.Structure{
		Parents:   apimodel.Strict(parents),
		Declared:  apimodel.Strict(declared),
		Inherited: apimodel.Strict([]apimodel.ClassDefinition(nil)),
	}

	for _, child := range bc.Children {
		cl.Children = append(cl.Children, &apimodel.Singleton{Path: child})
	}
	return cl
}

func expandDef(d bridgeDef) apimodel.ClassDefinition {
	base := apimodel.Definition{Name: d.Name, Access: &apimodel.Public{}}
	if d.Implicit {
		base.Modifiers |= apimodel.ModifierImplicit
	}
	if d.Macro {
		base.Modifiers |= apimodel.ModifierMacro
	}
	typ := func(name string) apimodel.Type {
		if name == "" {
			return &apimodel.EmptyType{}
		}
		return &apimodel.Singleton{Path: name}
	}
	switch d.Kind {
	case "val":
		return &apimodel.ValDef{Definition: base, Type: typ(d.Type)}
	case "var":
		return &apimodel.VarDef{Definition: base, Type: typ(d.Type)}
	case "type":
		return &apimodel.TypeAlias{Definition: base, Alias: typ(d.Type)}
	default:
		params := make([]apimodel.MethodParameter, len(d.Params))
		for i, p := range d.Params {
			params[i] = apimodel.MethodParameter{Type: typ(p)}
		}
		return &apimodel.Def{
			Definition:  base,
			ValueParams: [][]apimodel.MethodParameter{params},
			ReturnType:  typ(d.Type),
		}
	}
}

func expandKind(kind string) apimodel.DefinitionType {
	switch kind {
	case "module":
		return apimodel.DefTypeModule
	case "trait":
		return apimodel.DefTypeTrait
	case "package-module":
		return apimodel.DefTypePackageModule
	default:
		return apimodel.DefTypeClass
	}
}

func expandAccess(access string) apimodel.Access {
	switch access {
	case "protected":
		return &apimodel.Protected{Qualifier: &apimodel.Unqualified{}}
	case "private":
		return &apimodel.Private{Qualifier: &apimodel.Unqualified{}}
	default:
		return &apimodel.Public{}
	}
}

func expandProblem(ev *bridgeEvent) analysis.Problem {
	pos := analysis.NewPosition()
	if ev.Line > 0 {
		pos.Line = ev.Line
	}
	pos.SourcePath = ev.Source
	severity := analysis.SeverityInfo
	switch ev.Severity {
	case "warn", "warning":
		severity = analysis.SeverityWarn
	case "error":
		severity = analysis.SeverityError
	}
	return analysis.Problem{
		Category: ev.Category,
		Severity: severity,
		Message:  ev.Message,
		Position: pos,
	}
}
