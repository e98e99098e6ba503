package tsv

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

// Fixed layout fields.
const (
	fixedPosition = iota
	fixedText
	fixedLemma
	fixedPOS
	fixedNE1
	fixedNE2
	fixedHead
	fixedDeprel
	fixedReserved1
	fixedReserved2
	fixedFields
)

const fixedTabs = fixedFields - 1

// fixedState holds the open entity spans of the two entity columns.
type fixedState struct {
	open [2]*cas.Span
}

// fixedLayers are the layer views the fixed layout reads into.
type fixedLayers struct {
	lemma, pos, ne *typesystem.Type
	dependency     *Layer
}

func (s *Stream) fixedTypes() (*fixedLayers, error) {
	ts := s.doc.TypeSystem()
	fl := &fixedLayers{
		lemma: ts.ByKind(typesystem.KindLemma),
		pos:   ts.ByKind(typesystem.KindPOS),
		ne:    ts.ByKind(typesystem.KindNamedEntity),
	}
	dep := ts.ByKind(typesystem.KindDependency)
	tok := ts.ByKind(typesystem.KindToken)
	if fl.lemma == nil || fl.pos == nil || fl.ne == nil || dep == nil || tok == nil {
		return nil, errors.NewUnsupported("fixed layout", "type system lacks the token, lemma, POS, named entity or dependency type")
	}
	fl.dependency = &Layer{Type: dep, Features: []string{dep.ValueFeature()}, Attach: tok}
	return fl, nil
}

// fixedRow reads one ten-field row: position, text, lemma, POS, two entity columns,
// head, dependency type and two reserved fields.
func (s *Stream) fixedRow(line string) error {
	if got := strings.Count(line, "\t"); got != fixedTabs {
		return &errors.MalformedRowError{Line: s.lineNo, Content: line, Expected: fixedTabs, Got: got}
	}
	fields := strings.Split(line, "\t")
	if fields[fixedText] == "" {
		return errors.NewParse("row", "", fmt.Sprintf("line %d: empty token text", s.lineNo))
	}

	sentence := s.currentSentence()
	addr, ok := parseAddress(fields[fixedPosition], sentence)
	if !ok {
		return errors.NewParse("row", "", fmt.Sprintf("line %d: bad token number %q", s.lineNo, fields[fixedPosition]))
	}

	var head address
	hasHead := false
	switch h := fields[fixedHead]; h {
	case "_", "":
	case "0":
		head, hasHead = addr, true
	default:
		head, hasHead = parseAddress(h, sentence)
		if !hasHead {
			return errors.NewParse("row", "", fmt.Sprintf("line %d: bad head %q", s.lineNo, h))
		}
	}

	fl, err := s.fixedTypes()
	if err != nil {
		return err
	}
	if s.fixed == nil {
		s.fixed = &fixedState{}
	}

	tok, err := s.doc.AppendToken(fields[fixedText])
	if err != nil {
		return err
	}
	s.tokens[addr] = tok

	if v := fields[fixedLemma]; v != "_" {
		sp := s.doc.AddSpan(fl.lemma, tok.Range, 0)
		sp.SetFeature(fl.lemma.ValueFeature(), v)
		tok.Lemma = sp
	}
	if v := fields[fixedPOS]; v != "_" {
		sp := s.doc.AddSpan(fl.pos, tok.Range, 0)
		sp.SetFeature(fl.pos.ValueFeature(), v)
		tok.POS = sp
		s.anchor(addr, sp)
	}

	for col, field := range []string{fields[fixedNE1], fields[fixedNE2]} {
		s.fixedEntity(fl.ne, col, field, tok, addr)
	}

	if hasHead {
		placeholder := cas.NewSpan(fl.dependency.Type, tok.Range, 1)
		if v := fields[fixedDeprel]; v != "_" {
			placeholder.SetFeature(fl.dependency.Features[0], v)
		}
		s.queue.add(fl.dependency, addr, head, head.String(), placeholder, s.lineNo)
	}
	return nil
}

// fixedEntity applies one entity column. B_<v> starts an entity, I_<v> continues the
// one open in the same column (or starts one), anything else closes it.
func (s *Stream) fixedEntity(ne *typesystem.Type, col int, field string, tok *cas.Token, addr address) {
	open := s.fixed.open[col]
	switch {
	case strings.HasPrefix(field, "I_") && open != nil:
		s.doc.ExtendSpan(open, tok.End)
	case strings.HasPrefix(field, "B_"), strings.HasPrefix(field, "I_"):
		sp := s.doc.AddSpan(ne, tok.Range, col+1)
		sp.SetFeature(ne.ValueFeature(), field[2:])
		s.anchor(addr, sp)
		s.fixed.open[col] = sp
	default:
		s.fixed.open[col] = nil
	}
}
