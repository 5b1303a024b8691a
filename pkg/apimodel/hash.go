// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package apimodel

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// HashAPI returns the 64-bit hash of the canonical serialization of a
// companion pair. Equal APIs hash equally; annotation order does not
// affect the result.
func HashAPI(api Companions) uint64 {
	var c canon
	c.companions(api)
	return xxhash.Sum64(c.buf.Bytes())
}

// NameHashes enumerates, for each simple name defined at the class
// surface, one hash per use scope in which it appears. Definitions are
// grouped by name; each group's canonical bytes are hashed together so
// that any signature change to any overload of a name changes that
// name's hash. Implicit members additionally hash under the implicit
// scope, and a sealed class's own name hashes under the pattern-match
// scope over its children.
func NameHashes(api Companions) []NameHash {
	groups := make(map[string][]ClassDefinition)
	implicits := make(map[string]bool)

	collect := func(cl *ClassLike) {
		if cl == nil || cl.Structure == nil {
			return
		}
		for _, defs := range [][]ClassDefinition{
			forceDefs(cl.Structure.Declared),
			forceDefs(cl.Structure.Inherited),
		} {
			for _, d := range defs {
				name := d.DefName()
				groups[name] = append(groups[name], d)
				if defModifiers(d).Has(ModifierImplicit) {
					implicits[name] = true
				}
			}
		}
	}
	collect(api.Class)
	collect(api.Module)

	var out []NameHash
	for name, defs := range groups {
		var c canon
		c.str(name)
		// Sort group members canonically so overload order in source
		// does not affect the hash.
		encoded := make([][]byte, len(defs))
		for i, d := range defs {
			var dc canon
			dc.definition(d)
			encoded[i] = dc.buf.Bytes()
		}
		sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })
		for _, e := range encoded {
			c.raw(e)
		}
		h := uint32(xxhash.Sum64(c.buf.Bytes()))
		out = append(out, NameHash{Name: name, Scope: ScopeDefault, Hash: h})
		if implicits[name] {
			out = append(out, NameHash{Name: name, Scope: ScopeImplicit, Hash: h})
		}
	}

	for _, cl := range []*ClassLike{api.Class, api.Module} {
		if cl == nil || !cl.Modifiers.Has(ModifierSealed) {
			continue
		}
		var c canon
		c.str(cl.Name)
		c.types(cl.Children)
		out = append(out, NameHash{
			Name:  cl.Name,
			Scope: ScopePatternMatchTarget,
			Hash:  uint32(xxhash.Sum64(c.buf.Bytes())),
		})
	}

	SortNameHashes(out)
	return out
}

// HashStructure returns a hash of the parent types of a companion pair.
// It forces only the parent lists, not the member definitions, and is
// used to decide whether local-inheritance dependents must be
// invalidated.
func HashStructure(api Companions) uint64 {
	var c canon
	for _, cl := range []*ClassLike{api.Class, api.Module} {
		if cl == nil || cl.Structure == nil {
			c.tag(0)
			continue
		}
		c.types(force(cl.Structure.Parents))
	}
	return xxhash.Sum64(c.buf.Bytes())
}

// Analyze summarizes a companion pair into an AnalyzedClass.
func Analyze(name string, compilationTimestamp int64, api Companions) *AnalyzedClass {
	hasMacro := false
	if api.Class != nil && api.Class.HasMacro() {
		hasMacro = true
	}
	if api.Module != nil && api.Module.HasMacro() {
		hasMacro = true
	}
	return &AnalyzedClass{
		CompilationTimestamp: compilationTimestamp,
		Name:                 name,
		API:                  Strict(api),
		APIHash:              HashAPI(api),
		NameHashes:           NameHashes(api),
		HasMacro:             hasMacro,
	}
}

func forceDefs(l *Lazy[[]ClassDefinition]) []ClassDefinition {
	if l == nil {
		return nil
	}
	return l.Force()
}

func defModifiers(d ClassDefinition) Modifiers {
	switch v := d.(type) {
	case *Def:
		return v.Modifiers
	case *ValDef:
		return v.Modifiers
	case *VarDef:
		return v.Modifiers
	case *TypeAlias:
		return v.Modifiers
	case *TypeDeclaration:
		return v.Modifiers
	case *ClassLikeDef:
		return v.Modifiers
	case *Definition:
		return v.Modifiers
	default:
		return 0
	}
}

// canon serializes API nodes into a deterministic byte stream. Every
// variant writes a distinct tag byte before its payload so different
// shapes can never collide structurally.
type canon struct {
	buf bytes.Buffer
}

func (c *canon) tag(t byte) {
	c.buf.WriteByte(t)
}

func (c *canon) raw(b []byte) {
	c.u32(uint32(len(b)))
	c.buf.Write(b)
}

func (c *canon) str(s string) {
	c.u32(uint32(len(s)))
	c.buf.WriteString(s)
}

func (c *canon) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.buf.Write(b[:])
}

func (c *canon) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	c.buf.Write(b[:])
}

func (c *canon) bool(v bool) {
	if v {
		c.buf.WriteByte(1)
	} else {
		c.buf.WriteByte(0)
	}
}

func (c *canon) companions(api Companions) {
	c.tag('C')
	c.classLike(api.Class)
	c.classLike(api.Module)
}

func (c *canon) classLike(cl *ClassLike) {
	if cl == nil {
		c.tag(0)
		return
	}
	c.tag('L')
	c.str(cl.Name)
	c.access(cl.Access)
	c.buf.WriteByte(byte(cl.Modifiers))
	c.annotations(cl.Annotations)
	c.buf.WriteByte(byte(cl.DefType))
	if cl.SelfType != nil {
		c.typ(cl.SelfType.Force())
	} else {
		c.typ(nil)
	}
	c.structure(cl.Structure)
	c.typeParams(cl.TypeParams)
	c.types(cl.Children)
	c.bool(cl.TopLevel)
}

func (c *canon) structure(s *Structure) {
	if s == nil {
		c.tag(0)
		return
	}
	c.tag('S')
	c.types(force(s.Parents))
	c.definitions(forceDefs(s.Declared))
	c.definitions(forceDefs(s.Inherited))
}

func force[T any](l *Lazy[[]T]) []T {
	if l == nil {
		return nil
	}
	return l.Force()
}

func (c *canon) types(ts []Type) {
	c.u32(uint32(len(ts)))
	for _, t := range ts {
		c.typ(t)
	}
}

func (c *canon) typ(t Type) {
	switch v := t.(type) {
	case nil:
		c.tag(0)
	case *ParameterRef:
		c.tag('p')
		c.str(v.ID)
	case *Parameterized:
		c.tag('P')
		c.typ(v.Base)
		c.types(v.Args)
	case *Structure:
		c.structure(v)
	case *Polymorphic:
		c.tag('Y')
		c.typ(v.Base)
		c.typeParams(v.Params)
	case *Constant:
		c.tag('K')
		c.typ(v.Base)
		c.str(v.Value)
	case *Existential:
		c.tag('E')
		c.typ(v.Base)
		c.typeParams(v.Clause)
	case *Singleton:
		c.tag('G')
		c.str(v.Path)
	case *Projection:
		c.tag('J')
		c.typ(v.Prefix)
		c.str(v.ID)
	case *Annotated:
		c.tag('A')
		c.typ(v.Base)
		c.annotations(v.Annotations)
	case *EmptyType:
		c.tag('0')
	default:
		c.tag('?')
	}
}

func (c *canon) access(a Access) {
	switch v := a.(type) {
	case nil, *Public:
		c.tag('u')
	case *Protected:
		c.tag('o')
		c.qualifier(v.Qualifier)
	case *Private:
		c.tag('v')
		c.qualifier(v.Qualifier)
	default:
		c.tag('?')
	}
}

func (c *canon) qualifier(q Qualifier) {
	switch v := q.(type) {
	case nil, *Unqualified:
		c.tag('n')
	case *ThisQualifier:
		c.tag('t')
	case *IDQualifier:
		c.tag('i')
		c.str(v.Value)
	default:
		c.tag('?')
	}
}

// annotations canonicalizes the unordered annotation set by sorting the
// encoded forms.
func (c *canon) annotations(as []Annotation) {
	encoded := make([][]byte, len(as))
	for i, a := range as {
		var ac canon
		ac.typ(a.Base)
		ac.u32(uint32(len(a.Args)))
		for _, arg := range a.Args {
			ac.str(arg.Name)
			ac.str(arg.Value)
		}
		encoded[i] = ac.buf.Bytes()
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })
	c.u32(uint32(len(encoded)))
	for _, e := range encoded {
		c.raw(e)
	}
}

func (c *canon) typeParams(ps []TypeParameter) {
	c.u32(uint32(len(ps)))
	for _, p := range ps {
		c.str(p.ID)
		c.annotations(p.Annotations)
		c.typeParams(p.TypeParams)
		c.buf.WriteByte(byte(p.Variance))
		c.typ(p.Lower)
		c.typ(p.Upper)
	}
}

func (c *canon) definitions(ds []ClassDefinition) {
	c.u32(uint32(len(ds)))
	for _, d := range ds {
		c.definition(d)
	}
}

func (c *canon) definition(d ClassDefinition) {
	switch v := d.(type) {
	case *Def:
		c.tag('d')
		c.base(&v.Definition)
		c.typeParams(v.TypeParams)
		c.u32(uint32(len(v.ValueParams)))
		for _, section := range v.ValueParams {
			c.u32(uint32(len(section)))
			for _, p := range section {
				c.str(p.Name)
				c.typ(p.Type)
				c.bool(p.HasDefault)
				c.buf.WriteByte(byte(p.Modifier))
			}
		}
		c.typ(v.ReturnType)
	case *ValDef:
		c.tag('l')
		c.base(&v.Definition)
		c.typ(v.Type)
	case *VarDef:
		c.tag('r')
		c.base(&v.Definition)
		c.typ(v.Type)
	case *TypeAlias:
		c.tag('a')
		c.base(&v.Definition)
		c.typeParams(v.TypeParams)
		c.typ(v.Alias)
	case *TypeDeclaration:
		c.tag('t')
		c.base(&v.Definition)
		c.typeParams(v.TypeParams)
		c.typ(v.Lower)
		c.typ(v.Upper)
	case *ClassLikeDef:
		c.tag('c')
		c.base(&v.Definition)
		c.typeParams(v.TypeParams)
		c.buf.WriteByte(byte(v.DefType))
	default:
		c.tag('?')
	}
}

func (c *canon) base(d *Definition) {
	c.str(d.Name)
	c.access(d.Access)
	c.buf.WriteByte(byte(d.Modifiers))
	c.annotations(d.Annotations)
}
