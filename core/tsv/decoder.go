// Package tsv reads and writes the WebAnno tab-separated annotation format.
//
// The decoder accepts the header layout, where '#' lines declare the layers that
// occupy the columns after the token number and token text, and the fixed ten-field
// layout written by the encoder. Decoding builds a cas.Document; encoding projects any
// cas.Store onto the fixed layout.
package tsv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
	"github.com/FocuswithJustin/annotsv/internal/logging"
)

// Layout selects the row grammar.
type Layout string

// Layout constants.
const (
	// LayoutAuto reads the fixed layout when no layer is declared and the first data
	// row has nine tabs, the header layout otherwise.
	LayoutAuto Layout = "auto"

	// LayoutHeader reads columns as declared by '#' header lines.
	LayoutHeader Layout = "header"

	// LayoutFixed reads the ten-field layout written by the encoder.
	LayoutFixed Layout = "fixed"
)

// ParseLayout converts a layout name. The empty string means LayoutAuto.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(s)) {
	case "", LayoutAuto:
		return LayoutAuto, nil
	case LayoutHeader:
		return LayoutHeader, nil
	case LayoutFixed:
		return LayoutFixed, nil
	}
	return "", errors.NewUnsupported("layout", fmt.Sprintf("unknown layout %q", s))
}

// maxLineSize bounds a single input line.
const maxLineSize = 4 * 1024 * 1024

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	// TypeSystem resolves layer names. Nil means typesystem.Default().
	TypeSystem *typesystem.TypeSystem

	// Layout selects the row grammar.
	Layout Layout

	// DocumentID is assigned to decoded documents. Empty means a random UUID.
	DocumentID string
}

// Decoder turns TSV input into documents. A Decoder holds no per-document state and
// may be shared; every Stream is independent.
type Decoder struct {
	config DecoderConfig
}

// NewDecoder creates a decoder.
func NewDecoder(config DecoderConfig) *Decoder {
	if config.TypeSystem == nil {
		config.TypeSystem = typesystem.Default()
	}
	if config.Layout == "" {
		config.Layout = LayoutAuto
	}
	return &Decoder{config: config}
}

// Result is a decoded document with the schema that described it.
type Result struct {
	Document *cas.Document

	// Schema is the declared header schema; nil for the fixed layout.
	Schema *Schema

	// Layout is the grammar the input was read with.
	Layout Layout

	// Warnings are the non-fatal problems found while decoding.
	Warnings []error
}

// Decode reads a whole document. On error or cancellation no partial document is
// returned.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) (*Result, error) {
	s := d.NewStream()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.Line(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewIO("read", "", err)
	}

	res, err := s.Close()
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		logging.DecodeWarning(res.Document.ID, w)
	}
	return res, nil
}

// DecodeString is Decode over an in-memory document.
func (d *Decoder) DecodeString(ctx context.Context, s string) (*Result, error) {
	return d.Decode(ctx, strings.NewReader(s))
}

// address identifies a token by sentence index and in-sentence token number.
type address struct {
	sentence int
	token    int
}

func (a address) String() string {
	return fmt.Sprintf("%d-%d", a.sentence, a.token)
}

// parseAddress reads "N" (token N of the current sentence) or "S-N".
func parseAddress(s string, current int) (address, bool) {
	if sent, tok, ok := strings.Cut(s, "-"); ok {
		si, err1 := strconv.Atoi(sent)
		ti, err2 := strconv.Atoi(tok)
		if err1 != nil || err2 != nil || si < 1 || ti < 1 {
			return address{}, false
		}
		return address{sentence: si, token: ti}, true
	}
	ti, err := strconv.Atoi(s)
	if err != nil || ti < 1 {
		return address{}, false
	}
	return address{sentence: current, token: ti}, true
}

// isNoise reports whether a row is not a data row: its first field does not start
// with a digit, or the part after its first hyphen does not.
func isNoise(line string) bool {
	first, _, _ := strings.Cut(line, "\t")
	if first == "" || !isDigit(first[0]) {
		return true
	}
	if _, rest, ok := strings.Cut(first, "-"); ok {
		return rest == "" || !isDigit(rest[0])
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// layerState tracks the spans of one layer open for continuation within a sentence.
type layerState struct {
	open map[int]*cas.Span
}

// Stream is a single in-progress decode fed one line at a time.
type Stream struct {
	doc    *cas.Document
	schema *Schema
	layout Layout

	lineNo   int
	dataSeen bool
	closed   bool

	// per-sentence state, reset at each boundary
	layers map[*Layer]*layerState
	fixed  *fixedState

	// document-wide arena for deferred resolution
	tokens   map[address]*cas.Token
	anchored map[address]map[string][]*cas.Span
	queue    *pendingQueue

	warnings []error
}

// NewStream starts decoding a new document.
func (d *Decoder) NewStream() *Stream {
	return &Stream{
		doc:      cas.NewDocument(d.config.DocumentID, d.config.TypeSystem),
		schema:   NewSchema(),
		layout:   d.config.Layout,
		layers:   make(map[*Layer]*layerState),
		tokens:   make(map[address]*cas.Token),
		anchored: make(map[address]map[string][]*cas.Span),
		queue:    newPendingQueue(),
	}
}

// Document returns the document being built.
func (s *Stream) Document() *cas.Document { return s.doc }

// Schema returns the schema declared so far.
func (s *Stream) Schema() *Schema { return s.schema }

// Line feeds one input line. A fatal error leaves the document as it was before the
// line.
func (s *Stream) Line(raw string) error {
	if s.closed {
		return errors.NewValidation("stream", "line after close")
	}
	s.lineNo++
	line := strings.TrimSpace(raw)

	switch {
	case line == "":
		s.endSentence()
		return nil
	case strings.HasPrefix(line, "#text="):
		s.doc.SetSentenceMetadata("", strings.TrimPrefix(line, "#text="))
		return nil
	case strings.HasPrefix(line, "#id="):
		s.doc.SetSentenceMetadata(strings.TrimPrefix(line, "#id="), "")
		return nil
	case strings.HasPrefix(line, "#FORMAT="):
		return nil
	case strings.HasPrefix(line, "#"):
		return s.header(line)
	case isNoise(line):
		return nil
	}

	if s.layout == LayoutAuto {
		s.layout = LayoutHeader
		if len(s.schema.Layers) == 0 && strings.Count(line, "\t") == fixedTabs {
			s.layout = LayoutFixed
		}
	}
	s.dataSeen = true

	if s.layout == LayoutFixed {
		return s.fixedRow(line)
	}
	return s.headerRow(line)
}

func (s *Stream) header(line string) error {
	if s.layout == LayoutFixed {
		// the fixed layout has no layer declarations
		return nil
	}
	if s.dataSeen {
		return errors.NewParse("header", "", fmt.Sprintf("line %d: layer declaration after the first data row", s.lineNo))
	}
	return s.schema.ParseHeader(s.doc.TypeSystem(), line, s.lineNo)
}

// endSentence closes the open sentence and all its span state. Repeated blank lines
// are no-ops.
func (s *Stream) endSentence() {
	if s.doc.CloseSentence() == nil {
		return
	}
	s.layers = make(map[*Layer]*layerState)
	s.fixed = nil
}

func (s *Stream) currentSentence() int {
	return len(s.doc.Sentences()) + 1
}

func (s *Stream) state(l *Layer) *layerState {
	st, ok := s.layers[l]
	if !ok {
		st = &layerState{open: make(map[int]*cas.Span)}
		s.layers[l] = st
	}
	return st
}

// slotKind classifies one '|'-separated entry of a feature column.
type slotKind int

const (
	slotEmpty slotKind = iota
	slotFiller
	slotSingle
	slotBegin
	slotInside
)

func classifySlot(entry string) (slotKind, string) {
	switch {
	case entry == "_" || entry == "O" || entry == "":
		return slotEmpty, ""
	case entry == "O-_" || entry == "B-_" || entry == "I-_":
		return slotFiller, ""
	case strings.HasPrefix(entry, "B-"):
		return slotBegin, entry[2:]
	case strings.HasPrefix(entry, "I-"):
		return slotInside, entry[2:]
	case strings.HasPrefix(entry, "O-"):
		return slotEmpty, ""
	}
	return slotSingle, entry
}

type opAction int

const (
	opCreate opAction = iota
	opExtend
	opSet
)

// slotOp is one planned mutation of a data row.
type slotOp struct {
	layer   *Layer
	action  opAction
	slot    int
	feature string
	value   string
	open    bool
	target  address

	// targetText names the target in warnings. It is the entry as written when the
	// entry is no address, and target then stays zero.
	targetText string
}

// headerRow validates a row against the schema, plans its mutations, and only then
// applies them.
func (s *Stream) headerRow(line string) error {
	if got := strings.Count(line, "\t"); got != s.schema.ExpectedTabs() {
		return &errors.MalformedRowError{Line: s.lineNo, Content: line, Expected: s.schema.ExpectedTabs(), Got: got}
	}
	fields := strings.Split(line, "\t")
	if fields[1] == "" {
		return errors.NewParse("row", "", fmt.Sprintf("line %d: empty token text", s.lineNo))
	}
	sentence := s.currentSentence()
	addr, ok := parseAddress(fields[0], sentence)
	if !ok {
		return errors.NewParse("row", "", fmt.Sprintf("line %d: bad token number %q", s.lineNo, fields[0]))
	}

	var ops []slotOp
	for _, l := range s.schema.Layers {
		lops, err := s.planLayer(l, fields[l.Column:l.Column+l.Width()], sentence)
		if err != nil {
			return err
		}
		ops = append(ops, lops...)
	}

	tok, err := s.doc.AppendToken(fields[1])
	if err != nil {
		return err
	}
	s.tokens[addr] = tok
	s.apply(ops, tok, addr)
	return nil
}

// planLayer computes the mutations for one layer's columns without touching state.
func (s *Stream) planLayer(l *Layer, cols []string, sentence int) ([]slotOp, error) {
	st := s.layers[l]
	var targets []string
	if l.IsRelation() {
		targets = strings.Split(cols[len(l.Features)], "|")
	}

	var ops []slotOp
	inRow := mapset.NewThreadUnsafeSet[int]()
	next := 0
	for fi, feature := range l.Features {
		for i, entry := range strings.Split(cols[fi], "|") {
			slot := i + 1
			kind, value := classifySlot(entry)
			op := slotOp{layer: l, slot: slot, feature: feature, value: value}

			switch kind {
			case slotEmpty, slotFiller:
				continue
			case slotInside:
				if inRow.Contains(slot) {
					continue
				}
				if st != nil && st.open[slot] != nil {
					op.action = opExtend
					ops = append(ops, op)
					inRow.Add(slot)
					continue
				}
				op.action, op.open = opCreate, true
			case slotBegin, slotSingle:
				if inRow.Contains(slot) {
					op.action = opSet
					ops = append(ops, op)
					continue
				}
				op.action, op.open = opCreate, kind == slotBegin
			}

			if l.IsRelation() {
				if next >= len(targets) {
					return nil, errors.NewParse("row", "", fmt.Sprintf("line %d: layer %s has no relation target for slot %d", s.lineNo, l.Type.ShortName(), slot))
				}
				if target, ok := parseAddress(targets[next], sentence); ok {
					op.target, op.targetText = target, target.String()
				} else {
					op.targetText = targets[next]
				}
				next++
			}
			ops = append(ops, op)
			inRow.Add(slot)
		}
	}
	return ops, nil
}

// apply performs planned mutations and closes slots the row did not continue.
func (s *Stream) apply(ops []slotOp, tok *cas.Token, addr address) {
	rowSpans := make(map[*Layer]map[int]*cas.Span)
	continued := make(map[*Layer]mapset.Set[int])
	for _, l := range s.schema.Layers {
		rowSpans[l] = make(map[int]*cas.Span)
		continued[l] = mapset.NewThreadUnsafeSet[int]()
	}

	for _, op := range ops {
		st := s.state(op.layer)
		switch op.action {
		case opCreate:
			sp := s.createSpan(op, tok, addr)
			rowSpans[op.layer][op.slot] = sp
			if op.open {
				st.open[op.slot] = sp
				continued[op.layer].Add(op.slot)
			} else {
				delete(st.open, op.slot)
			}
		case opExtend:
			sp := st.open[op.slot]
			s.doc.ExtendSpan(sp, tok.End)
			rowSpans[op.layer][op.slot] = sp
			continued[op.layer].Add(op.slot)
		case opSet:
			rowSpans[op.layer][op.slot].SetFeature(op.feature, op.value)
		}
	}

	for l, st := range s.layers {
		for slot := range st.open {
			if !continued[l].Contains(slot) {
				delete(st.open, slot)
			}
		}
	}
}

func (s *Stream) createSpan(op slotOp, tok *cas.Token, addr address) *cas.Span {
	if op.layer.IsRelation() {
		sp := cas.NewSpan(op.layer.Type, tok.Range, op.slot)
		sp.SetFeature(op.feature, op.value)
		s.queue.add(op.layer, addr, op.target, op.targetText, sp, s.lineNo)
		return sp
	}
	sp := s.doc.AddSpan(op.layer.Type, tok.Range, op.slot)
	sp.SetFeature(op.feature, op.value)
	s.anchor(addr, sp)
	return sp
}

// anchor records a span as created at a token for endpoint resolution.
func (s *Stream) anchor(addr address, sp *cas.Span) {
	byType, ok := s.anchored[addr]
	if !ok {
		byType = make(map[string][]*cas.Span)
		s.anchored[addr] = byType
	}
	byType[sp.Layer.Name] = append(byType[sp.Layer.Name], sp)
}

// Close finishes the document: an open sentence is closed with a warning, pending
// relations are resolved and token attributes are linked.
func (s *Stream) Close() (*Result, error) {
	if s.closed {
		return nil, errors.NewValidation("stream", "already closed")
	}
	s.closed = true

	if s.doc.HasOpenSentence() {
		sentence := s.currentSentence()
		s.endSentence()
		end := s.doc.Sentences()[sentence-1].End
		s.warnings = append(s.warnings, &errors.TruncatedDocumentError{Sentence: sentence, Offset: end})
	}

	r := &resolver{doc: s.doc, tokens: s.tokens, anchored: s.anchored}
	s.warnings = append(s.warnings, r.resolve(s.queue)...)
	linkTokenAttributes(s.doc)

	if err := s.doc.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Document: s.doc, Layout: s.layout, Warnings: s.warnings}
	if s.layout != LayoutFixed {
		res.Schema = s.schema
	}
	if res.Layout == LayoutAuto {
		res.Layout = LayoutHeader
	}
	return res, nil
}

// linkTokenAttributes points each token at the lemma and part-of-speech spans that
// cover exactly that token, unless already linked.
func linkTokenAttributes(doc *cas.Document) {
	for _, typ := range doc.Layers() {
		if typ.Kind != typesystem.KindLemma && typ.Kind != typesystem.KindPOS {
			continue
		}
		for _, sp := range doc.Spans(typ) {
			tok := doc.TokenAt(sp.Begin)
			if tok == nil || tok.End != sp.End {
				continue
			}
			if typ.Kind == typesystem.KindLemma && tok.Lemma == nil {
				tok.Lemma = sp
			}
			if typ.Kind == typesystem.KindPOS && tok.POS == nil {
				tok.POS = sp
			}
		}
	}
}
