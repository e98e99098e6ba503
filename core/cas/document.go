// Package cas holds the annotation store: a document's text, its sentences and tokens,
// and the span and relation annotations laid over them.
//
// All offsets are UTF-8 byte offsets into the document text and every range is
// half-open. The store is not safe for concurrent mutation; each conversion works on
// its own Document.
package cas

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

// Range is a half-open byte range [Begin, End).
type Range struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered.
func (r Range) Len() int {
	return r.End - r.Begin
}

// Contains reports whether o lies inside r.
func (r Range) Contains(o Range) bool {
	return o.Begin >= r.Begin && o.End <= r.End
}

// Union returns the smallest range covering r and o.
func (r Range) Union(o Range) Range {
	u := r
	if o.Begin < u.Begin {
		u.Begin = o.Begin
	}
	if o.End > u.End {
		u.End = o.End
	}
	return u
}

// Endpoint is anything a relation may connect: a token or a span.
type Endpoint interface {
	Bounds() Range
	AnnotationID() int
}

// Sentence is a contiguous run of tokens.
type Sentence struct {
	Range

	// Index is the 1-based position in the document.
	Index int

	// ID is the value of a preceding #id= line, if any.
	ID string

	// SourceText is the value of a preceding #text= line, if any.
	SourceText string

	first, count int
}

// Token is a word within a sentence.
type Token struct {
	Range

	// ID is the document-unique address of the token.
	ID int

	// Ordinal is the 1-based position within its sentence.
	Ordinal int

	// Sentence is the 1-based index of the owning sentence.
	Sentence int

	// Lemma and POS point at the token's attribute annotations.
	Lemma *Span
	POS   *Span
}

// Bounds implements Endpoint.
func (t *Token) Bounds() Range { return t.Range }

// AnnotationID implements Endpoint.
func (t *Token) AnnotationID() int { return t.ID }

// Span is an annotation occupying a contiguous range.
type Span struct {
	Range

	ID    int
	Layer *typesystem.Type

	// Slot disambiguates co-occurring spans of one layer (1-based, 0 when unset).
	Slot int

	features map[string]string
}

// NewSpan returns a span that is not part of any document index.
func NewSpan(layer *typesystem.Type, r Range, slot int) *Span {
	return &Span{Range: r, Layer: layer, Slot: slot}
}

// Bounds implements Endpoint.
func (s *Span) Bounds() Range { return s.Range }

// AnnotationID implements Endpoint.
func (s *Span) AnnotationID() int { return s.ID }

// Feature returns a feature value, or "" when unset.
func (s *Span) Feature(name string) string {
	return s.features[name]
}

// SetFeature sets a feature value.
func (s *Span) SetFeature(name, value string) {
	if s.features == nil {
		s.features = make(map[string]string)
	}
	s.features[name] = value
}

// Features returns a copy of the feature values.
func (s *Span) Features() map[string]string {
	return copyFeatures(s.features)
}

// Value returns the layer's primary label.
func (s *Span) Value() string {
	return s.features[s.Layer.ValueFeature()]
}

// Relation connects a governor and a dependent annotation.
type Relation struct {
	Range

	ID    int
	Layer *typesystem.Type

	// Governor and Dependent are nil when the endpoint could not be resolved.
	Governor  Endpoint
	Dependent Endpoint

	features map[string]string
}

// Feature returns a feature value, or "" when unset.
func (r *Relation) Feature(name string) string {
	return r.features[name]
}

// SetFeature sets a feature value.
func (r *Relation) SetFeature(name, value string) {
	if r.features == nil {
		r.features = make(map[string]string)
	}
	r.features[name] = value
}

// Features returns a copy of the feature values.
func (r *Relation) Features() map[string]string {
	return copyFeatures(r.features)
}

// Value returns the layer's primary label.
func (r *Relation) Value() string {
	return r.features[r.Layer.ValueFeature()]
}

// Complete reports whether both endpoints are set.
func (r *Relation) Complete() bool {
	return r.Governor != nil && r.Dependent != nil
}

// Store is the read side of the annotation store consumed by encoders.
type Store interface {
	TypeSystem() *typesystem.TypeSystem
	Text() string
	Sentences() []*Sentence
	TokensCovered(r Range) []*Token
	SpansCovered(layer *typesystem.Type, r Range) []*Span
	RelationsCovered(layer *typesystem.Type, r Range) []*Relation
}

// Document owns the text and every annotation laid over it.
type Document struct {
	ID    string
	Title string

	ts        *typesystem.TypeSystem
	text      []byte
	sentences []*Sentence
	tokens    []*Token
	spans     map[string]*spanIndex
	relations map[string]*relationIndex
	nextID    int

	// open sentence state
	sentenceStart int
	openFirst     int
	openCount     int
	pendingID     string
	pendingText   string
}

var _ Store = (*Document)(nil)

// NewDocument returns an empty document. An empty id is replaced by a random UUID.
func NewDocument(id string, ts *typesystem.TypeSystem) *Document {
	if id == "" {
		id = uuid.NewString()
	}
	if ts == nil {
		ts = typesystem.Default()
	}
	return &Document{
		ID:        id,
		ts:        ts,
		spans:     make(map[string]*spanIndex),
		relations: make(map[string]*relationIndex),
	}
}

// TypeSystem returns the document's type system.
func (d *Document) TypeSystem() *typesystem.TypeSystem { return d.ts }

// Text returns the document text.
func (d *Document) Text() string { return string(d.text) }

// CoveredText returns the text under r.
func (d *Document) CoveredText(r Range) string {
	if r.Begin < 0 || r.End > len(d.text) || r.Begin > r.End {
		return ""
	}
	return string(d.text[r.Begin:r.End])
}

func (d *Document) newID() int {
	d.nextID++
	return d.nextID
}

// AppendToken adds a token to the open sentence. The token text is followed by one
// separating space in the document text.
func (d *Document) AppendToken(text string) (*Token, error) {
	if text == "" {
		return nil, errors.NewValidation("token", "token text must not be empty")
	}
	if d.openCount == 0 {
		d.sentenceStart = len(d.text)
		d.openFirst = len(d.tokens)
	}
	begin := len(d.text)
	d.text = append(d.text, text...)
	d.text = append(d.text, ' ')

	d.openCount++
	tok := &Token{
		Range:    Range{Begin: begin, End: begin + len(text)},
		ID:       d.newID(),
		Ordinal:  d.openCount,
		Sentence: len(d.sentences) + 1,
	}
	d.tokens = append(d.tokens, tok)
	return tok, nil
}

// SetSentenceMetadata records #id= / #text= values for the next sentence closed.
func (d *Document) SetSentenceMetadata(id, text string) {
	if id != "" {
		d.pendingID = id
	}
	if text != "" {
		d.pendingText = text
	}
}

// HasOpenSentence reports whether tokens were added since the last boundary.
func (d *Document) HasOpenSentence() bool { return d.openCount > 0 }

// OpenSentenceTokens returns the tokens of the sentence being built.
func (d *Document) OpenSentenceTokens() []*Token {
	return d.tokens[d.openFirst : d.openFirst+d.openCount]
}

// CloseSentence ends the open sentence. The separator after its last token becomes a
// newline. It returns nil when no token was added since the previous boundary.
func (d *Document) CloseSentence() *Sentence {
	if d.openCount == 0 {
		return nil
	}
	last := d.tokens[len(d.tokens)-1]
	d.text[len(d.text)-1] = '\n'

	s := &Sentence{
		Range:      Range{Begin: d.sentenceStart, End: last.End},
		Index:      len(d.sentences) + 1,
		ID:         d.pendingID,
		SourceText: d.pendingText,
		first:      d.openFirst,
		count:      d.openCount,
	}
	d.sentences = append(d.sentences, s)
	d.openCount = 0
	d.pendingID, d.pendingText = "", ""
	return s
}

// Sentences returns the closed sentences in order.
func (d *Document) Sentences() []*Sentence { return d.sentences }

// Tokens returns all tokens in offset order.
func (d *Document) Tokens() []*Token { return d.tokens }

// SentenceTokens returns the tokens of a sentence.
func (d *Document) SentenceTokens(s *Sentence) []*Token {
	return d.tokens[s.first : s.first+s.count]
}

// TokensCovered returns the tokens lying inside r.
func (d *Document) TokensCovered(r Range) []*Token {
	i := sort.Search(len(d.tokens), func(i int) bool { return d.tokens[i].Begin >= r.Begin })
	var out []*Token
	for ; i < len(d.tokens) && d.tokens[i].Begin < r.End; i++ {
		if d.tokens[i].End <= r.End {
			out = append(out, d.tokens[i])
		}
	}
	return out
}

// TokenAt returns the token starting at offset, or nil.
func (d *Document) TokenAt(offset int) *Token {
	i := sort.Search(len(d.tokens), func(i int) bool { return d.tokens[i].Begin >= offset })
	if i < len(d.tokens) && d.tokens[i].Begin == offset {
		return d.tokens[i]
	}
	return nil
}

// AddSpan creates and indexes a span.
func (d *Document) AddSpan(layer *typesystem.Type, r Range, slot int) *Span {
	s := NewSpan(layer, r, slot)
	d.IndexSpan(s)
	return s
}

// IndexSpan assigns an ID to a detached span and adds it to the index.
func (d *Document) IndexSpan(s *Span) {
	s.ID = d.newID()
	idx := d.spans[s.Layer.Name]
	if idx == nil {
		idx = &spanIndex{}
		d.spans[s.Layer.Name] = idx
	}
	idx.add(s)
}

// ExtendSpan moves the end of an indexed span. Indexed spans must be resized through
// ExtendSpan so lookups see the new order.
func (d *Document) ExtendSpan(s *Span, end int) {
	s.End = end
	if idx := d.spans[s.Layer.Name]; idx != nil {
		idx.sorted = false
	}
}

func (d *Document) sortedSpans(layer *typesystem.Type) []*Span {
	idx := d.spans[layer.Name]
	if idx == nil {
		return nil
	}
	return idx.ordered()
}

// Spans returns the spans of a layer in document order
// (begin ascending, end descending, creation order).
func (d *Document) Spans(layer *typesystem.Type) []*Span {
	return append([]*Span(nil), d.sortedSpans(layer)...)
}

// SpansCovered returns the spans of a layer lying inside r, in document order.
func (d *Document) SpansCovered(layer *typesystem.Type, r Range) []*Span {
	spans := d.sortedSpans(layer)
	var out []*Span
	for i := searchSpans(spans, r.Begin); i < len(spans) && spans[i].Begin <= r.End; i++ {
		if r.Contains(spans[i].Range) {
			out = append(out, spans[i])
		}
	}
	return out
}

// SpansAt returns the spans of a layer beginning at offset, in document order.
func (d *Document) SpansAt(layer *typesystem.Type, offset int) []*Span {
	spans := d.sortedSpans(layer)
	var out []*Span
	for i := searchSpans(spans, offset); i < len(spans) && spans[i].Begin == offset; i++ {
		out = append(out, spans[i])
	}
	return out
}

// AddRelation creates and indexes a relation. Its range covers both endpoints; when
// neither is set, fallback is used.
func (d *Document) AddRelation(layer *typesystem.Type, governor, dependent Endpoint, fallback Range) *Relation {
	r := &Relation{
		ID:        d.newID(),
		Layer:     layer,
		Governor:  governor,
		Dependent: dependent,
	}
	switch {
	case governor != nil && dependent != nil:
		r.Range = governor.Bounds().Union(dependent.Bounds())
	case governor != nil:
		r.Range = governor.Bounds()
	case dependent != nil:
		r.Range = dependent.Bounds()
	default:
		r.Range = fallback
	}
	idx := d.relations[layer.Name]
	if idx == nil {
		idx = &relationIndex{}
		d.relations[layer.Name] = idx
	}
	idx.add(r)
	return r
}

// Relations returns the relations of a layer in creation order.
func (d *Document) Relations(layer *typesystem.Type) []*Relation {
	idx := d.relations[layer.Name]
	if idx == nil {
		return nil
	}
	return append([]*Relation(nil), idx.created...)
}

// RelationsCovered returns the relations of a layer lying inside r, in creation order.
func (d *Document) RelationsCovered(layer *typesystem.Type, r Range) []*Relation {
	idx := d.relations[layer.Name]
	if idx == nil {
		return nil
	}
	rels := idx.ordered()
	i := sort.Search(len(rels), func(i int) bool { return rels[i].Begin >= r.Begin })
	var out []*Relation
	for ; i < len(rels) && rels[i].Begin <= r.End; i++ {
		if r.Contains(rels[i].Range) {
			out = append(out, rels[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Layers returns the types that have at least one annotation, in type-system order.
func (d *Document) Layers() []*typesystem.Type {
	var out []*typesystem.Type
	for _, t := range d.ts.Types() {
		if d.spans[t.Name] != nil || d.relations[t.Name] != nil {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the offset invariants: tokens are non-empty, strictly increasing and
// inside their sentence; sentences are ordered, non-overlapping and inside the text.
func (d *Document) Validate() error {
	prevEnd := 0
	for i, s := range d.sentences {
		if s.Begin < prevEnd || s.Begin >= s.End {
			return errors.NewValidation("sentence", fmt.Sprintf("sentence %d has range [%d,%d) after offset %d", i+1, s.Begin, s.End, prevEnd))
		}
		if s.End > len(d.text) {
			return errors.NewValidation("sentence", fmt.Sprintf("sentence %d ends at %d beyond text length %d", i+1, s.End, len(d.text)))
		}
		prevEnd = s.End
		tokPrev := s.Begin
		for _, t := range d.SentenceTokens(s) {
			if t.Begin >= t.End || t.Begin < tokPrev || !s.Contains(t.Range) {
				return errors.NewValidation("token", fmt.Sprintf("token %d of sentence %d has range [%d,%d)", t.Ordinal, i+1, t.Begin, t.End))
			}
			tokPrev = t.End
		}
	}
	return nil
}

func copyFeatures(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
