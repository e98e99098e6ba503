package tsv

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

// headerLine is one '#' line declaring one or more layers.
type headerLine struct {
	Layers []*headerLayer `( "#" @@ )+`
}

// headerLayer is `<layer>|<feature>|...|AttachTo=<type>`.
type headerLayer struct {
	Name  string        `@Name`
	Items []*headerItem `( "|" @@? )*`
}

type headerItem struct {
	Attach  string `  "AttachTo=" @Name`
	Feature string `| @Name`
}

// AttachTo= must be tried before Name so the prefix is not swallowed as a feature.
var headerLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "AttachTo", Pattern: `AttachTo=`},
	{Name: "Hash", Pattern: `#`},
	{Name: "Pipe", Pattern: `\|`},
	{Name: "Name", Pattern: `[^#|=\s]+`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
})

var headerParser = participle.MustBuild[headerLine](
	participle.Lexer(headerLexer),
	participle.Elide("Whitespace"),
)

// Layer is one declared annotation layer and the columns it occupies.
type Layer struct {
	Type *typesystem.Type

	// Features are the declared feature names in column order.
	Features []string

	// Attach is the endpoint type of a relation layer, nil for span layers.
	Attach *typesystem.Type

	// Column is the 0-based index of the layer's first field in a data row.
	Column int
}

// IsRelation reports whether the layer has a target-reference column.
func (l *Layer) IsRelation() bool {
	return l.Attach != nil
}

// Width returns the number of fields the layer occupies.
func (l *Layer) Width() int {
	n := len(l.Features)
	if l.IsRelation() {
		n++
	}
	return n
}

// Schema is the ordered list of layers declared by a document header.
type Schema struct {
	Layers []*Layer
	fields int
}

// NewSchema returns a schema with no layers: each row holds only a token number and
// the token text.
func NewSchema() *Schema {
	return &Schema{fields: 2}
}

// Fields returns the number of tab-separated fields in a data row.
func (s *Schema) Fields() int {
	return s.fields
}

// ExpectedTabs returns the exact number of tab characters in a data row.
func (s *Schema) ExpectedTabs() int {
	return s.fields - 1
}

// Layer returns the declared layer for a type, or nil.
func (s *Schema) Layer(t *typesystem.Type) *Layer {
	for _, l := range s.Layers {
		if l.Type == t {
			return l
		}
	}
	return nil
}

// String renders the schema back into header lines, one per layer.
func (s *Schema) String() string {
	var b strings.Builder
	for _, l := range s.Layers {
		b.WriteString("#")
		b.WriteString(l.Type.Name)
		for _, f := range l.Features {
			b.WriteString("|")
			b.WriteString(f)
		}
		if l.Attach != nil {
			b.WriteString("|AttachTo=")
			b.WriteString(l.Attach.Name)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ParseHeader adds the layers declared on a header line to the schema. Layer and
// AttachTo names resolve through ts by full or unique short name; features must be
// declared on the layer's type.
func (s *Schema) ParseHeader(ts *typesystem.TypeSystem, line string, lineNo int) error {
	h, err := headerParser.ParseString("", line)
	if err != nil {
		return &errors.ParseError{Format: "header", Line: lineNo, Message: err.Error(), Err: err}
	}

	// Validate every layer on the line before adding any of them.
	var layers []*Layer
	for _, hl := range h.Layers {
		l, err := buildLayer(ts, hl, lineNo)
		if err != nil {
			return err
		}
		layers = append(layers, l)
	}

	for _, l := range layers {
		l.Column = s.fields
		s.fields += l.Width()
		s.Layers = append(s.Layers, l)
	}
	return nil
}

func buildLayer(ts *typesystem.TypeSystem, hl *headerLayer, lineNo int) (*Layer, error) {
	typ, ok := ts.Lookup(hl.Name)
	if !ok {
		return nil, &errors.UnknownLayerError{Layer: hl.Name, Line: lineNo}
	}
	if !typ.IsAnnotationLayer() {
		return nil, &errors.UnknownLayerError{Layer: hl.Name, Line: lineNo, Reason: "not an annotation layer"}
	}

	l := &Layer{Type: typ}
	for _, item := range hl.Items {
		switch {
		case item == nil:
			// empty item from a trailing '|'
		case item.Attach != "":
			attach, ok := ts.Lookup(item.Attach)
			if !ok {
				return nil, &errors.UnknownLayerError{Layer: item.Attach, Line: lineNo, Reason: "unknown attachment target of " + typ.ShortName()}
			}
			l.Attach = attach
		default:
			if !typ.HasFeature(item.Feature) {
				return nil, &errors.UnknownFeatureError{Layer: hl.Name, Feature: item.Feature, Line: lineNo}
			}
			l.Features = append(l.Features, item.Feature)
		}
	}
	return l, nil
}
