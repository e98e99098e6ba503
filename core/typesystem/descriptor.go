package typesystem

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/annotsv/core/errors"
)

// Local-name matching keeps the queries independent of the UIMA resourceSpecifier
// namespace declaration.
var (
	typeDescriptionExpr    = xpath.MustCompile(`//*[local-name()='typeDescription']`)
	nameExpr               = xpath.MustCompile(`*[local-name()='name']`)
	descriptionExpr        = xpath.MustCompile(`*[local-name()='description']`)
	supertypeExpr          = xpath.MustCompile(`*[local-name()='supertypeName']`)
	featureDescriptionExpr = xpath.MustCompile(`*[local-name()='features']/*[local-name()='featureDescription']`)
	rangeTypeExpr          = xpath.MustCompile(`*[local-name()='rangeTypeName']`)
)

// primitiveRanges are the UIMA range types stored as feature values.
var primitiveRanges = map[string]bool{
	"uima.cas.String":  true,
	"uima.cas.Boolean": true,
	"uima.cas.Integer": true,
	"uima.cas.Long":    true,
	"uima.cas.Float":   true,
	"uima.cas.Double":  true,
	"uima.cas.Short":   true,
	"uima.cas.Byte":    true,
}

// LoadDescriptorFile reads a UIMA type-system descriptor from disk into ts.
func (ts *TypeSystem) LoadDescriptorFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewIO("open", path, err)
	}
	defer f.Close()

	if err := ts.LoadDescriptor(f); err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return err
	}
	return nil
}

// LoadDescriptor merges the types of a UIMA type-system descriptor into ts.
//
// A type with both a Governor and a Dependent feature becomes a relation type attached
// to the Governor's range type. Types extending a known type inherit its kind. Types
// already present gain any features they were missing.
func (ts *TypeSystem) LoadDescriptor(r io.Reader) error {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return &errors.ParseError{Format: "type system", Message: err.Error(), Err: err}
	}

	nodes := xmlquery.QuerySelectorAll(doc, typeDescriptionExpr)
	if len(nodes) == 0 {
		return errors.NewParse("type system", "", "no typeDescription elements found")
	}

	for _, n := range nodes {
		t, err := ts.typeFromNode(n)
		if err != nil {
			return err
		}
		ts.merge(t)
	}
	return nil
}

func (ts *TypeSystem) typeFromNode(n *xmlquery.Node) (*Type, error) {
	name := childText(n, nameExpr)
	if name == "" {
		return nil, errors.NewParse("type system", "", "typeDescription without a name")
	}

	t := &Type{
		Name:        name,
		Kind:        KindSpan,
		Description: childText(n, descriptionExpr),
	}
	if super, ok := ts.types[childText(n, supertypeExpr)]; ok && super.IsAnnotationLayer() {
		t.Kind = super.Kind
		t.AttachTo = super.AttachTo
	}

	var governor, dependent string
	for _, f := range xmlquery.QuerySelectorAll(n, featureDescriptionExpr) {
		fname := childText(f, nameExpr)
		rangeType := childText(f, rangeTypeExpr)
		switch {
		case fname == "":
			return nil, errors.NewParse("type system", "", fmt.Sprintf("feature without a name on %s", name))
		case fname == FeatureGovernor:
			governor = rangeType
		case fname == FeatureDependent:
			dependent = rangeType
		case primitiveRanges[rangeType]:
			t.Features = append(t.Features, fname)
		}
	}

	if governor != "" && dependent != "" {
		if t.Kind != KindDependency {
			t.Kind = KindRelation
		}
		t.AttachTo = governor
	}
	return t, nil
}

func childText(n *xmlquery.Node, expr *xpath.Expr) string {
	c := xmlquery.QuerySelector(n, expr)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.InnerText())
}
