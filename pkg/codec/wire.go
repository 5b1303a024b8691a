// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kraklabs/incr/pkg/apimodel"
)

// Wire kinds for the Type sum.
const (
	typeKindParameterRef uint8 = iota + 1
	typeKindParameterized
	typeKindStructure
	typeKindPolymorphic
	typeKindConstant
	typeKindExistential
	typeKindSingleton
	typeKindProjection
	typeKindAnnotated
	typeKindEmpty
)

// Wire kinds for the Access sum.
const (
	accessKindPublic uint8 = iota + 1
	accessKindProtected
	accessKindPrivate
)

// Wire kinds for the Qualifier sum.
const (
	qualifierKindUnqualified uint8 = iota + 1
	qualifierKindThis
	qualifierKindID
)

// Wire kinds for the ClassDefinition sum.
const (
	defKindDef uint8 = iota + 1
	defKindVal
	defKindVar
	defKindTypeAlias
	defKindTypeDeclaration
	defKindClassLike
)

type wireType struct {
	Kind        uint8
	ID          string
	Value       string
	Base        *wireType
	Prefix      *wireType
	Args        []wireType
	Params      []wireTypeParam
	Structure   *wireStructure
	Annotations []wireAnnotation
}

type wireStructure struct {
	Parents   msgpack.RawMessage
	Declared  msgpack.RawMessage
	Inherited msgpack.RawMessage
}

type wireTypeParam struct {
	ID          string
	Annotations []wireAnnotation
	TypeParams  []wireTypeParam
	Variance    uint8
	Lower       *wireType
	Upper       *wireType
}

type wireAnnotation struct {
	Base *wireType
	Args []wireAnnotationArg
}

type wireAnnotationArg struct {
	Name  string
	Value string
}

type wireAccess struct {
	Kind      uint8
	Qualifier uint8
	ID        string
}

type wireMethodParam struct {
	Name       string
	Type       *wireType
	HasDefault bool
	Modifier   uint8
}

type wireDefinition struct {
	Kind        uint8
	Name        string
	Access      wireAccess
	Modifiers   uint8
	Annotations []wireAnnotation
	TypeParams  []wireTypeParam
	ValueParams [][]wireMethodParam
	ReturnType  *wireType
	Type        *wireType
	Lower       *wireType
	Upper       *wireType
	DefType     uint8
}

type wireClassLike struct {
	Name        string
	Access      wireAccess
	Modifiers   uint8
	Annotations []wireAnnotation
	DefType     uint8
	SelfType    *wireType
	Structure   *wireStructure
	TypeParams  []wireTypeParam
	Children    []wireType
	TopLevel    bool
}

type wireCompanions struct {
	Present bool
	Class   *wireClassLike
	Module  *wireClassLike
}

type wireNameHash struct {
	Name  string
	Scope uint8
	Hash  uint32
}

type wireAnalyzedClass struct {
	Timestamp  int64
	Name       string
	APIHash    uint64
	NameHashes []wireNameHash
	HasMacro   bool
	API        wireCompanions
}

// apiEncoder converts API-model values to wire form, accumulating the
// first error.
type apiEncoder struct {
	err error
}

func (e *apiEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *apiEncoder) analyzedClass(ac *apimodel.AnalyzedClass, withAPI bool) wireAnalyzedClass {
	out := wireAnalyzedClass{
		Timestamp: ac.CompilationTimestamp,
		Name:      ac.Name,
		APIHash:   ac.APIHash,
		HasMacro:  ac.HasMacro,
	}
	out.NameHashes = make([]wireNameHash, len(ac.NameHashes))
	for i, nh := range ac.NameHashes {
		out.NameHashes[i] = wireNameHash{Name: nh.Name, Scope: uint8(nh.Scope), Hash: nh.Hash}
	}
	if withAPI && ac.API != nil {
		api := ac.API.Force()
		out.API = wireCompanions{
			Present: true,
			Class:   e.classLike(api.Class),
			Module:  e.classLike(api.Module),
		}
	}
	return out
}

func (e *apiEncoder) classLike(cl *apimodel.ClassLike) *wireClassLike {
	if cl == nil {
		return nil
	}
	return &wireClassLike{
		Name:        cl.Name,
		Access:      e.access(cl.Access),
		Modifiers:   uint8(cl.Modifiers),
		Annotations: e.annotations(cl.Annotations),
		DefType:     uint8(cl.DefType),
		SelfType:    e.lazyType(cl.SelfType),
		Structure:   e.structure(cl.Structure),
		TypeParams:  e.typeParams(cl.TypeParams),
		Children:    e.types(cl.Children),
		TopLevel:    cl.TopLevel,
	}
}

func (e *apiEncoder) structure(s *apimodel.Structure) *wireStructure {
	if s == nil {
		return nil
	}
	return &wireStructure{
		Parents:   e.marshalRaw(e.types(forceLazy(s.Parents))),
		Declared:  e.marshalRaw(e.definitions(forceLazy(s.Declared))),
		Inherited: e.marshalRaw(e.definitions(forceLazy(s.Inherited))),
	}
}

func forceLazy[T any](l *apimodel.Lazy[[]T]) []T {
	if l == nil {
		return nil
	}
	return l.Force()
}

func (e *apiEncoder) marshalRaw(v any) msgpack.RawMessage {
	if e.err != nil {
		return nil
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		e.fail(err)
		return nil
	}
	return b
}

func (e *apiEncoder) lazyType(l *apimodel.Lazy[apimodel.Type]) *wireType {
	if l == nil {
		return nil
	}
	return e.typ(l.Force())
}

func (e *apiEncoder) types(ts []apimodel.Type) []wireType {
	if ts == nil {
		return nil
	}
	out := make([]wireType, len(ts))
	for i, t := range ts {
		if w := e.typ(t); w != nil {
			out[i] = *w
		}
	}
	return out
}

func (e *apiEncoder) typ(t apimodel.Type) *wireType {
	switch v := t.(type) {
	case nil:
		return nil
	case *apimodel.ParameterRef:
		return &wireType{Kind: typeKindParameterRef, ID: v.ID}
	case *apimodel.Parameterized:
		return &wireType{Kind: typeKindParameterized, Base: e.typ(v.Base), Args: e.types(v.Args)}
	case *apimodel.Structure:
		return &wireType{Kind: typeKindStructure, Structure: e.structure(v)}
	case *apimodel.Polymorphic:
		return &wireType{Kind: typeKindPolymorphic, Base: e.typ(v.Base), Params: e.typeParams(v.Params)}
	case *apimodel.Constant:
		return &wireType{Kind: typeKindConstant, Base: e.typ(v.Base), Value: v.Value}
	case *apimodel.Existential:
		return &wireType{Kind: typeKindExistential, Base: e.typ(v.Base), Params: e.typeParams(v.Clause)}
	case *apimodel.Singleton:
		return &wireType{Kind: typeKindSingleton, ID: v.Path}
	case *apimodel.Projection:
		return &wireType{Kind: typeKindProjection, Prefix: e.typ(v.Prefix), ID: v.ID}
	case *apimodel.Annotated:
		return &wireType{Kind: typeKindAnnotated, Base: e.typ(v.Base), Annotations: e.annotations(v.Annotations)}
	case *apimodel.EmptyType:
		return &wireType{Kind: typeKindEmpty}
	default:
		return &wireType{Kind: typeKindEmpty}
	}
}

func (e *apiEncoder) access(a apimodel.Access) wireAccess {
	switch v := a.(type) {
	case *apimodel.Protected:
		w := wireAccess{Kind: accessKindProtected}
		w.Qualifier, w.ID = e.qualifier(v.Qualifier)
		return w
	case *apimodel.Private:
		w := wireAccess{Kind: accessKindPrivate}
		w.Qualifier, w.ID = e.qualifier(v.Qualifier)
		return w
	default:
		return wireAccess{Kind: accessKindPublic}
	}
}

func (e *apiEncoder) qualifier(q apimodel.Qualifier) (uint8, string) {
	switch v := q.(type) {
	case *apimodel.ThisQualifier:
		return qualifierKindThis, ""
	case *apimodel.IDQualifier:
		return qualifierKindID, v.Value
	default:
		return qualifierKindUnqualified, ""
	}
}

func (e *apiEncoder) annotations(as []apimodel.Annotation) []wireAnnotation {
	if as == nil {
		return nil
	}
	out := make([]wireAnnotation, len(as))
	for i, a := range as {
		args := make([]wireAnnotationArg, len(a.Args))
		for j, arg := range a.Args {
			args[j] = wireAnnotationArg{Name: arg.Name, Value: arg.Value}
		}
		out[i] = wireAnnotation{Base: e.typ(a.Base), Args: args}
	}
	return out
}

func (e *apiEncoder) typeParams(ps []apimodel.TypeParameter) []wireTypeParam {
	if ps == nil {
		return nil
	}
	out := make([]wireTypeParam, len(ps))
	for i, p := range ps {
		out[i] = wireTypeParam{
			ID:          p.ID,
			Annotations: e.annotations(p.Annotations),
			TypeParams:  e.typeParams(p.TypeParams),
			Variance:    uint8(p.Variance),
			Lower:       e.typ(p.Lower),
			Upper:       e.typ(p.Upper),
		}
	}
	return out
}

func (e *apiEncoder) definitions(ds []apimodel.ClassDefinition) []wireDefinition {
	if ds == nil {
		return nil
	}
	out := make([]wireDefinition, len(ds))
	for i, d := range ds {
		out[i] = e.definition(d)
	}
	return out
}

func (e *apiEncoder) definition(d apimodel.ClassDefinition) wireDefinition {
	switch v := d.(type) {
	case *apimodel.Def:
		w := e.defBase(defKindDef, &v.Definition)
		w.TypeParams = e.typeParams(v.TypeParams)
		w.ValueParams = e.methodParams(v.ValueParams)
		w.ReturnType = e.typ(v.ReturnType)
		return w
	case *apimodel.ValDef:
		w := e.defBase(defKindVal, &v.Definition)
		w.Type = e.typ(v.Type)
		return w
	case *apimodel.VarDef:
		w := e.defBase(defKindVar, &v.Definition)
		w.Type = e.typ(v.Type)
		return w
	case *apimodel.TypeAlias:
		w := e.defBase(defKindTypeAlias, &v.Definition)
		w.TypeParams = e.typeParams(v.TypeParams)
		w.Type = e.typ(v.Alias)
		return w
	case *apimodel.TypeDeclaration:
		w := e.defBase(defKindTypeDeclaration, &v.Definition)
		w.TypeParams = e.typeParams(v.TypeParams)
		w.Lower = e.typ(v.Lower)
		w.Upper = e.typ(v.Upper)
		return w
	case *apimodel.ClassLikeDef:
		w := e.defBase(defKindClassLike, &v.Definition)
		w.TypeParams = e.typeParams(v.TypeParams)
		w.DefType = uint8(v.DefType)
		return w
	default:
		return wireDefinition{Kind: defKindVal, Name: d.DefName(), Access: wireAccess{Kind: accessKindPublic}}
	}
}

func (e *apiEncoder) defBase(kind uint8, d *apimodel.Definition) wireDefinition {
	return wireDefinition{
		Kind:        kind,
		Name:        d.Name,
		Access:      e.access(d.Access),
		Modifiers:   uint8(d.Modifiers),
		Annotations: e.annotations(d.Annotations),
	}
}

func (e *apiEncoder) methodParams(sections [][]apimodel.MethodParameter) [][]wireMethodParam {
	if sections == nil {
		return nil
	}
	out := make([][]wireMethodParam, len(sections))
	for i, section := range sections {
		ws := make([]wireMethodParam, len(section))
		for j, p := range section {
			ws[j] = wireMethodParam{
				Name:       p.Name,
				Type:       e.typ(p.Type),
				HasDefault: p.HasDefault,
				Modifier:   uint8(p.Modifier),
			}
		}
		out[i] = ws
	}
	return out
}

// apiDecoder converts wire values back to the API model, interning
// strings and deferring structure bodies behind lazy thunks.
type apiDecoder struct {
	in  *interner
	err error
}

func (d *apiDecoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *apiDecoder) analyzedClass(w wireAnalyzedClass) *apimodel.AnalyzedClass {
	out := &apimodel.AnalyzedClass{
		CompilationTimestamp: w.Timestamp,
		Name:                 d.in.intern(w.Name),
		APIHash:              w.APIHash,
		HasMacro:             w.HasMacro,
	}
	out.NameHashes = make([]apimodel.NameHash, len(w.NameHashes))
	for i, nh := range w.NameHashes {
		out.NameHashes[i] = apimodel.NameHash{
			Name:  d.in.intern(nh.Name),
			Scope: apimodel.UseScope(nh.Scope),
			Hash:  nh.Hash,
		}
	}
	if w.API.Present {
		out.API = apimodel.Strict(apimodel.Companions{
			Class:  d.classLike(w.API.Class),
			Module: d.classLike(w.API.Module),
		})
	} else {
		out.API = apimodel.Strict(apimodel.Companions{})
	}
	return out
}

func (d *apiDecoder) classLike(w *wireClassLike) *apimodel.ClassLike {
	if w == nil {
		return nil
	}
	cl := &apimodel.ClassLike{
		Name:        d.in.intern(w.Name),
		Access:      d.access(w.Access),
		Modifiers:   apimodel.Modifiers(w.Modifiers),
		Annotations: d.annotations(w.Annotations),
		TypeParams:  d.typeParams(w.TypeParams),
		TopLevel:    w.TopLevel,
	}
	if w.DefType > uint8(apimodel.DefTypePackageModule) {
		d.fail(&DecodeError{Reason: "unknown definition type", EnumID: int(w.DefType)})
	}
	cl.DefType = apimodel.DefinitionType(w.DefType)
	if w.SelfType != nil {
		cl.SelfType = apimodel.Strict(d.typ(w.SelfType))
	} else {
		cl.SelfType = apimodel.Strict[apimodel.Type](&apimodel.EmptyType{})
	}
	cl.Structure = d.structure(w.Structure)
	if len(w.Children) > 0 {
		cl.Children = d.types(w.Children)
	}
	return cl
}

// structure defers parent and member decoding behind single-shot
// thunks. The thunks capture the raw bytes and this decoder's interner;
// after forcing, the bytes are released. A decode failure inside a
// thunk yields an empty list: by the time a thunk runs, the top-level
// read that could have reported it has long returned.
func (d *apiDecoder) structure(w *wireStructure) *apimodel.Structure {
	if w == nil {
		return nil
	}
	in := d.in
	parents := w.Parents
	declared := w.Declared
	inherited := w.Inherited
	return &apimodel.Structure{
		Parents: apimodel.NewLazy(func() []apimodel.Type {
			return decodeRawTypes(parents, in)
		}),
		Declared: apimodel.NewLazy(func() []apimodel.ClassDefinition {
			return decodeRawDefinitions(declared, in)
		}),
		Inherited: apimodel.NewLazy(func() []apimodel.ClassDefinition {
			return decodeRawDefinitions(inherited, in)
		}),
	}
}

func decodeRawTypes(raw msgpack.RawMessage, in *interner) []apimodel.Type {
	if len(raw) == 0 {
		return nil
	}
	var ws []wireType
	if err := msgpack.Unmarshal(raw, &ws); err != nil {
		return nil
	}
	sub := &apiDecoder{in: in}
	return sub.types(ws)
}

func decodeRawDefinitions(raw msgpack.RawMessage, in *interner) []apimodel.ClassDefinition {
	if len(raw) == 0 {
		return nil
	}
	var ws []wireDefinition
	if err := msgpack.Unmarshal(raw, &ws); err != nil {
		return nil
	}
	sub := &apiDecoder{in: in}
	return sub.definitions(ws)
}

func (d *apiDecoder) types(ws []wireType) []apimodel.Type {
	if ws == nil {
		return nil
	}
	out := make([]apimodel.Type, len(ws))
	for i := range ws {
		out[i] = d.typ(&ws[i])
	}
	return out
}

func (d *apiDecoder) typ(w *wireType) apimodel.Type {
	if w == nil {
		return nil
	}
	switch w.Kind {
	case typeKindParameterRef:
		return &apimodel.ParameterRef{ID: d.in.intern(w.ID)}
	case typeKindParameterized:
		return &apimodel.Parameterized{Base: d.typ(w.Base), Args: d.types(w.Args)}
	case typeKindStructure:
		return d.structure(w.Structure)
	case typeKindPolymorphic:
		return &apimodel.Polymorphic{Base: d.typ(w.Base), Params: d.typeParams(w.Params)}
	case typeKindConstant:
		return &apimodel.Constant{Base: d.typ(w.Base), Value: d.in.intern(w.Value)}
	case typeKindExistential:
		return &apimodel.Existential{Base: d.typ(w.Base), Clause: d.typeParams(w.Params)}
	case typeKindSingleton:
		return &apimodel.Singleton{Path: d.in.intern(w.ID)}
	case typeKindProjection:
		return &apimodel.Projection{Prefix: d.typ(w.Prefix), ID: d.in.intern(w.ID)}
	case typeKindAnnotated:
		return &apimodel.Annotated{Base: d.typ(w.Base), Annotations: d.annotations(w.Annotations)}
	case typeKindEmpty:
		return &apimodel.EmptyType{}
	default:
		d.fail(&DecodeError{Reason: "unknown type kind", EnumID: int(w.Kind)})
		return &apimodel.EmptyType{}
	}
}

func (d *apiDecoder) access(w wireAccess) apimodel.Access {
	switch w.Kind {
	case accessKindPublic:
		return &apimodel.Public{}
	case accessKindProtected:
		return &apimodel.Protected{Qualifier: d.qualifier(w)}
	case accessKindPrivate:
		return &apimodel.Private{Qualifier: d.qualifier(w)}
	default:
		d.fail(&DecodeError{Reason: "unknown access kind", EnumID: int(w.Kind)})
		return &apimodel.Public{}
	}
}

func (d *apiDecoder) qualifier(w wireAccess) apimodel.Qualifier {
	switch w.Qualifier {
	case qualifierKindThis:
		return &apimodel.ThisQualifier{}
	case qualifierKindID:
		return &apimodel.IDQualifier{Value: d.in.intern(w.ID)}
	case qualifierKindUnqualified:
		return &apimodel.Unqualified{}
	default:
		d.fail(&DecodeError{Reason: "unknown access qualifier", EnumID: int(w.Qualifier)})
		return &apimodel.Unqualified{}
	}
}

func (d *apiDecoder) annotations(ws []wireAnnotation) []apimodel.Annotation {
	if ws == nil {
		return nil
	}
	out := make([]apimodel.Annotation, len(ws))
	for i, w := range ws {
		args := make([]apimodel.AnnotationArgument, len(w.Args))
		for j, a := range w.Args {
			args[j] = apimodel.AnnotationArgument{
				Name:  d.in.intern(a.Name),
				Value: d.in.intern(a.Value),
			}
		}
		out[i] = apimodel.Annotation{Base: d.typ(w.Base), Args: args}
	}
	return out
}

func (d *apiDecoder) typeParams(ws []wireTypeParam) []apimodel.TypeParameter {
	if ws == nil {
		return nil
	}
	out := make([]apimodel.TypeParameter, len(ws))
	for i, w := range ws {
		if w.Variance > uint8(apimodel.Contravariant) {
			d.fail(&DecodeError{Reason: "unknown variance", EnumID: int(w.Variance)})
		}
		out[i] = apimodel.TypeParameter{
			ID:          d.in.intern(w.ID),
			Annotations: d.annotations(w.Annotations),
			TypeParams:  d.typeParams(w.TypeParams),
			Variance:    apimodel.Variance(w.Variance),
			Lower:       d.typ(w.Lower),
			Upper:       d.typ(w.Upper),
		}
	}
	return out
}

func (d *apiDecoder) definitions(ws []wireDefinition) []apimodel.ClassDefinition {
	if ws == nil {
		return nil
	}
	out := make([]apimodel.ClassDefinition, len(ws))
	for i, w := range ws {
		out[i] = d.definition(w)
	}
	return out
}

func (d *apiDecoder) definition(w wireDefinition) apimodel.ClassDefinition {
	base := apimodel.Definition{
		Name:        d.in.intern(w.Name),
		Access:      d.access(w.Access),
		Modifiers:   apimodel.Modifiers(w.Modifiers),
		Annotations: d.annotations(w.Annotations),
	}
	switch w.Kind {
	case defKindDef:
		return &apimodel.Def{
			Definition:  base,
			TypeParams:  d.typeParams(w.TypeParams),
			ValueParams: d.methodParams(w.ValueParams),
			ReturnType:  d.typ(w.ReturnType),
		}
	case defKindVal:
		return &apimodel.ValDef{Definition: base, Type: d.typ(w.Type)}
	case defKindVar:
		return &apimodel.VarDef{Definition: base, Type: d.typ(w.Type)}
	case defKindTypeAlias:
		return &apimodel.TypeAlias{
			Definition: base,
			TypeParams: d.typeParams(w.TypeParams),
			Alias:      d.typ(w.Type),
		}
	case defKindTypeDeclaration:
		return &apimodel.TypeDeclaration{
			Definition: base,
			TypeParams: d.typeParams(w.TypeParams),
			Lower:      d.typ(w.Lower),
			Upper:      d.typ(w.Upper),
		}
	case defKindClassLike:
		if w.DefType > uint8(apimodel.DefTypePackageModule) {
			d.fail(&DecodeError{Reason: "unknown definition type", EnumID: int(w.DefType)})
		}
		return &apimodel.ClassLikeDef{
			Definition: base,
			TypeParams: d.typeParams(w.TypeParams),
			DefType:    apimodel.DefinitionType(w.DefType),
		}
	default:
		d.fail(&DecodeError{Reason: "unknown definition kind", EnumID: int(w.Kind)})
		return &apimodel.ValDef{Definition: base}
	}
}

func (d *apiDecoder) methodParams(ws [][]wireMethodParam) [][]apimodel.MethodParameter {
	if ws == nil {
		return nil
	}
	out := make([][]apimodel.MethodParameter, len(ws))
	for i, section := range ws {
		ps := make([]apimodel.MethodParameter, len(section))
		for j, w := range section {
			if w.Modifier > uint8(apimodel.ParamByName) {
				d.fail(&DecodeError{Reason: "unknown parameter modifier", EnumID: int(w.Modifier)})
			}
			ps[j] = apimodel.MethodParameter{
				Name:       d.in.intern(w.Name),
				Type:       d.typ(w.Type),
				HasDefault: w.HasDefault,
				Modifier:   apimodel.ParameterModifier(w.Modifier),
			}
		}
		out[i] = ps
	}
	return out
}
