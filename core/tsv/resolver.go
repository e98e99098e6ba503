package tsv

import (
	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

// PendingRelationRef collects the governors declared for one dependent token of a
// relation layer. Each governor has a placeholder span carrying the relation's
// feature values; placeholders are never indexed in the document. A governor whose
// reference is no address is queued as the zero address and never resolves.
type PendingRelationRef struct {
	Layer         *Layer
	Dependent     address
	Governors     []address
	GovernorTexts []string
	Placeholders  []*cas.Span
	Lines         []int
}

type pendingKey struct {
	layer     *Layer
	dependent address
}

// pendingQueue keeps references in the order their dependents were first seen.
type pendingQueue struct {
	refs  []*PendingRelationRef
	index map[pendingKey]*PendingRelationRef
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{index: make(map[pendingKey]*PendingRelationRef)}
}

func (q *pendingQueue) add(l *Layer, dependent, governor address, governorText string, placeholder *cas.Span, line int) {
	key := pendingKey{layer: l, dependent: dependent}
	ref, ok := q.index[key]
	if !ok {
		ref = &PendingRelationRef{Layer: l, Dependent: dependent}
		q.index[key] = ref
		q.refs = append(q.refs, ref)
	}
	ref.Governors = append(ref.Governors, governor)
	ref.GovernorTexts = append(ref.GovernorTexts, governorText)
	ref.Placeholders = append(ref.Placeholders, placeholder)
	ref.Lines = append(ref.Lines, line)
}

// resolver materializes pending relations once every token and span exists.
type resolver struct {
	doc      *cas.Document
	tokens   map[address]*cas.Token
	anchored map[address]map[string][]*cas.Span
}

// resolve creates one relation per queued governor. Unresolvable endpoints are
// returned as warnings and the relation is kept with the endpoint unset.
func (r *resolver) resolve(q *pendingQueue) []error {
	var warnings []error
	for _, ref := range q.refs {
		dependent := r.endpoint(ref.Layer, ref.Dependent)
		if dependent == nil {
			warnings = append(warnings, r.unresolved(ref.Layer, "dependent", ref.Dependent.String(), ref.Lines[0]))
		}
		for i, gov := range ref.Governors {
			governor := r.endpoint(ref.Layer, gov)
			if governor == nil {
				warnings = append(warnings, r.unresolved(ref.Layer, "governor", ref.GovernorTexts[i], ref.Lines[i]))
			}

			placeholder := ref.Placeholders[i]
			rel := r.doc.AddRelation(ref.Layer.Type, governor, dependent, placeholder.Range)
			for name, value := range placeholder.Features() {
				rel.SetFeature(name, value)
			}
		}
	}
	return warnings
}

func (r *resolver) unresolved(l *Layer, role, ref string, line int) error {
	return &errors.UnresolvedEndpointError{Layer: l.Type.ShortName(), Role: role, Address: ref, Line: line}
}

// endpoint finds the annotation a relation of layer l connects at address a.
func (r *resolver) endpoint(l *Layer, a address) cas.Endpoint {
	tok, ok := r.tokens[a]
	if !ok {
		return nil
	}

	var found cas.Endpoint
	switch {
	case l.Attach.Kind == typesystem.KindToken:
		found = tok
	default:
		if spans := r.anchored[a][l.Attach.Name]; len(spans) > 0 {
			found = spans[0]
		} else if spans := r.doc.SpansAt(l.Attach, tok.Begin); len(spans) > 0 {
			found = spans[0]
		}
	}
	if found == nil {
		return nil
	}

	if l.Type.Kind == typesystem.KindDependency {
		return r.redirectToToken(found)
	}
	return found
}

// redirectToToken turns a dependency endpoint into the token it covers and records a
// part-of-speech endpoint as that token's POS.
func (r *resolver) redirectToToken(e cas.Endpoint) cas.Endpoint {
	if tok, ok := e.(*cas.Token); ok {
		return tok
	}
	tok := r.doc.TokenAt(e.Bounds().Begin)
	if tok == nil {
		return e
	}
	if sp, ok := e.(*cas.Span); ok && sp.Layer.Kind == typesystem.KindPOS {
		tok.POS = sp
	}
	return tok
}
