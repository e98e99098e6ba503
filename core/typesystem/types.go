// Package typesystem describes the annotation types a document may carry.
//
// Types are looked up by name once, when a header is parsed. Every type has a static
// Kind: the kinds the codec treats specially (tokens, sentences, lemmas, part-of-speech,
// named entities, dependencies) and two generic fallbacks for custom span and relation
// layers loaded from a type-system descriptor.
package typesystem

import (
	"fmt"
	"sort"
	"strings"

	"github.com/FocuswithJustin/annotsv/core/errors"
)

// Kind is the static category of an annotation type.
type Kind int

// Kind constants.
const (
	KindSpan Kind = iota
	KindToken
	KindSentence
	KindLemma
	KindPOS
	KindNamedEntity
	KindDependency
	KindRelation
)

var kindNames = map[Kind]string{
	KindSpan:        "span",
	KindToken:       "token",
	KindSentence:    "sentence",
	KindLemma:       "lemma",
	KindPOS:         "pos",
	KindNamedEntity: "named-entity",
	KindDependency:  "dependency",
	KindRelation:    "relation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Well-known type names (DKPro Core).
const (
	TokenType       = "de.tudarmstadt.ukp.dkpro.core.api.segmentation.type.Token"
	SentenceType    = "de.tudarmstadt.ukp.dkpro.core.api.segmentation.type.Sentence"
	LemmaType       = "de.tudarmstadt.ukp.dkpro.core.api.segmentation.type.Lemma"
	POSType         = "de.tudarmstadt.ukp.dkpro.core.api.lexmorph.type.pos.POS"
	NamedEntityType = "de.tudarmstadt.ukp.dkpro.core.api.ner.type.NamedEntity"
	DependencyType  = "de.tudarmstadt.ukp.dkpro.core.api.syntax.type.dependency.Dependency"
	ChunkType       = "de.tudarmstadt.ukp.dkpro.core.api.syntax.type.chunk.Chunk"
)

// Well-known feature names.
const (
	FeatureValue          = "value"
	FeaturePosValue       = "PosValue"
	FeatureDependencyType = "DependencyType"
	FeatureGovernor       = "Governor"
	FeatureDependent      = "Dependent"
)

// Type is an annotation type with its ordered primitive features.
type Type struct {
	// Name is the fully qualified type name.
	Name string

	// Kind is the static category used for dispatch.
	Kind Kind

	// Features lists primitive feature base names in declaration order.
	Features []string

	// AttachTo names the endpoint type of a relation type.
	AttachTo string

	// Description is free text from the descriptor.
	Description string
}

// ShortName returns the part of the name after the last dot.
func (t *Type) ShortName() string {
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

// HasFeature reports whether the type declares the primitive feature.
func (t *Type) HasFeature(name string) bool {
	for _, f := range t.Features {
		if f == name {
			return true
		}
	}
	return false
}

// IsRelation reports whether instances connect a governor and a dependent.
func (t *Type) IsRelation() bool {
	return t.Kind == KindDependency || t.Kind == KindRelation
}

// IsAnnotationLayer reports whether the type can be declared as a layer in a header.
// Tokens and sentences come from the positional encoding itself.
func (t *Type) IsAnnotationLayer() bool {
	return t.Kind != KindToken && t.Kind != KindSentence
}

// ValueFeature returns the feature that carries the type's primary label.
func (t *Type) ValueFeature() string {
	switch t.Kind {
	case KindPOS:
		return FeaturePosValue
	case KindDependency:
		return FeatureDependencyType
	case KindLemma, KindNamedEntity:
		return FeatureValue
	}
	if len(t.Features) > 0 {
		return t.Features[0]
	}
	return ""
}

func (t *Type) clone() *Type {
	c := *t
	c.Features = append([]string(nil), t.Features...)
	return &c
}

// TypeSystem is a registry of types. It is safe for concurrent reads once built.
type TypeSystem struct {
	types map[string]*Type
	order []string
}

// New returns an empty type system.
func New() *TypeSystem {
	return &TypeSystem{types: make(map[string]*Type)}
}

// Default returns a fresh type system holding the DKPro Core types the format uses.
func Default() *TypeSystem {
	ts := New()
	builtin := []*Type{
		{Name: TokenType, Kind: KindToken},
		{Name: SentenceType, Kind: KindSentence, Features: []string{"id"}},
		{Name: LemmaType, Kind: KindLemma, Features: []string{FeatureValue}},
		{Name: POSType, Kind: KindPOS, Features: []string{FeaturePosValue, "coarseValue"}},
		{Name: NamedEntityType, Kind: KindNamedEntity, Features: []string{FeatureValue, "identifier"}},
		{Name: DependencyType, Kind: KindDependency, Features: []string{FeatureDependencyType, "flavor"}, AttachTo: TokenType},
		{Name: ChunkType, Kind: KindSpan, Features: []string{"chunkValue"}},
	}
	for _, t := range builtin {
		// builtin names are unique
		_ = ts.Add(t)
	}
	return ts
}

// Add registers a type. A second type with the same name is rejected.
func (ts *TypeSystem) Add(t *Type) error {
	if t == nil || t.Name == "" {
		return errors.NewValidation("type", "name must not be empty")
	}
	if _, exists := ts.types[t.Name]; exists {
		return errors.NewValidation("type", fmt.Sprintf("duplicate type %s", t.Name))
	}
	ts.types[t.Name] = t
	ts.order = append(ts.order, t.Name)
	return nil
}

// Lookup finds a type by full name, or by short name when exactly one type has it.
func (ts *TypeSystem) Lookup(name string) (*Type, bool) {
	if t, ok := ts.types[name]; ok {
		return t, true
	}
	var found *Type
	for _, n := range ts.order {
		t := ts.types[n]
		if t.ShortName() == name {
			if found != nil {
				return nil, false
			}
			found = t
		}
	}
	return found, found != nil
}

// Types returns all types in registration order.
func (ts *TypeSystem) Types() []*Type {
	out := make([]*Type, 0, len(ts.order))
	for _, n := range ts.order {
		out = append(out, ts.types[n])
	}
	return out
}

// Names returns the sorted type names.
func (ts *TypeSystem) Names() []string {
	names := append([]string(nil), ts.order...)
	sort.Strings(names)
	return names
}

// ByKind returns the first registered type of the given kind.
func (ts *TypeSystem) ByKind(kind Kind) *Type {
	for _, n := range ts.order {
		if t := ts.types[n]; t.Kind == kind {
			return t
		}
	}
	return nil
}

// TokenRelations returns the relation types whose endpoints are tokens.
func (ts *TypeSystem) TokenRelations() []*Type {
	var out []*Type
	for _, n := range ts.order {
		t := ts.types[n]
		if !t.IsRelation() {
			continue
		}
		if target, ok := ts.types[t.AttachTo]; ok && target.Kind == KindToken {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy that can be extended without affecting the original.
func (ts *TypeSystem) Clone() *TypeSystem {
	c := New()
	for _, n := range ts.order {
		c.types[n] = ts.types[n].clone()
		c.order = append(c.order, n)
	}
	return c
}

// merge adds a type, or folds new features into an existing type of the same name.
func (ts *TypeSystem) merge(t *Type) {
	existing, ok := ts.types[t.Name]
	if !ok {
		ts.types[t.Name] = t
		ts.order = append(ts.order, t.Name)
		return
	}
	for _, f := range t.Features {
		if !existing.HasFeature(f) {
			existing.Features = append(existing.Features, f)
		}
	}
	if existing.AttachTo == "" {
		existing.AttachTo = t.AttachTo
	}
	if existing.Description == "" {
		existing.Description = t.Description
	}
}
