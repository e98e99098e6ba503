package tsv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

// EncoderConfig configures an Encoder.
type EncoderConfig struct {
	// Metadata emits #id= and #text= lines before each sentence.
	Metadata bool
}

// Encoder writes the fixed ten-field layout.
type Encoder struct {
	config EncoderConfig
}

// NewEncoder creates an encoder.
func NewEncoder(config EncoderConfig) *Encoder {
	return &Encoder{config: config}
}

// Encode writes every sentence of store to w. Any annotation the layout cannot carry
// is listed in the returned report.
func (e *Encoder) Encode(ctx context.Context, w io.Writer, store cas.Store) (*LossReport, error) {
	bw := bufio.NewWriter(w)
	report := newLossReport()
	text := store.Text()
	ts := store.TypeSystem()

	relTypes := ts.TokenRelations()
	var neTypes []*typesystem.Type
	for _, t := range ts.Types() {
		if t.Kind == typesystem.KindNamedEntity {
			neTypes = append(neTypes, t)
		}
	}
	checkUnrepresentable(store, report, len(text))
	relations := groupRelations(store, relTypes, report, len(text))

	for _, sent := range store.Sentences() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		se := &sentenceEncoder{
			sent:   sent,
			text:   text,
			tokens: store.TokensCovered(sent.Range),
			report: report,
		}
		se.collectRelations(relations[sent.Index])
		se.assignEntities(store, neTypes)
		if err := se.write(bw, e.config.Metadata); err != nil {
			return nil, err
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return report, nil
}

// EncodeString renders store as a string.
func (e *Encoder) EncodeString(ctx context.Context, store cas.Store) (string, *LossReport, error) {
	var b strings.Builder
	report, err := e.Encode(ctx, &b, store)
	if err != nil {
		return "", nil, err
	}
	return b.String(), report, nil
}

// sentenceEncoder holds the per-sentence maps built before writing rows.
type sentenceEncoder struct {
	sent   *cas.Sentence
	text   string
	tokens []*cas.Token
	report *LossReport

	governorOf map[*cas.Token]*cas.Token
	depType    map[*cas.Token]string
	governors  mapset.Set[*cas.Token]

	ne1, ne2 map[*cas.Token]string
}

func (se *sentenceEncoder) path(tok *cas.Token) string {
	if tok == nil {
		return fmt.Sprintf("sentence %d", se.sent.Index)
	}
	return fmt.Sprintf("sentence %d/token %d", se.sent.Index, tok.Ordinal)
}

// groupRelations buckets token relations by the sentence of their dependent. The fixed
// layout can only point at a head inside the same sentence, so relations without two
// token endpoints or crossing a sentence boundary go to the report instead.
func groupRelations(store cas.Store, relTypes []*typesystem.Type, report *LossReport, textLen int) map[int][]*cas.Relation {
	sentences := store.Sentences()
	all := cas.Range{Begin: 0, End: textLen}
	out := make(map[int][]*cas.Relation)

	for _, rt := range relTypes {
		for _, rel := range store.RelationsCovered(rt, all) {
			gov, gok := rel.Governor.(*cas.Token)
			dep, dok := rel.Dependent.(*cas.Token)
			switch {
			case !gok || !dok:
				report.AddLostElement(LossL3, sentencePath(sentences, rel.Begin), "relation",
					fmt.Sprintf("%s relation without token endpoints", rt.ShortName()), rel.Value())
			case gov.Sentence != dep.Sentence:
				report.AddLostElement(LossL3, fmt.Sprintf("sentence %d/token %d", dep.Sentence, dep.Ordinal), "relation",
					fmt.Sprintf("%s relation crosses sentence boundary to sentence %d", rt.ShortName(), gov.Sentence), rel.Value())
			default:
				out[dep.Sentence] = append(out[dep.Sentence], rel)
			}
		}
	}
	return out
}

func sentencePath(sentences []*cas.Sentence, offset int) string {
	i := sort.Search(len(sentences), func(i int) bool { return sentences[i].End > offset })
	if i == len(sentences) {
		return "document"
	}
	return fmt.Sprintf("sentence %d", sentences[i].Index)
}

// collectRelations maps each dependent token of the sentence to its governor and
// relation label.
func (se *sentenceEncoder) collectRelations(rels []*cas.Relation) {
	se.governorOf = make(map[*cas.Token]*cas.Token)
	se.depType = make(map[*cas.Token]string)
	se.governors = mapset.NewThreadUnsafeSet[*cas.Token]()

	for _, rel := range rels {
		gov := rel.Governor.(*cas.Token)
		dep := rel.Dependent.(*cas.Token)
		if prev, ok := se.governorOf[dep]; ok && prev != gov {
			se.report.AddLostElement(LossL3, se.path(dep), "relation",
				"token already has a head", rel.Value())
			continue
		}
		se.governorOf[dep] = gov
		se.depType[dep] = rel.Value()
		se.governors.Add(gov)
	}
}

// assignEntities fills the two entity columns. An entity takes the primary column
// where it is free; once it moves to the secondary column it stays there. A token
// with both columns taken drops the entity.
func (se *sentenceEncoder) assignEntities(store cas.Store, neTypes []*typesystem.Type) {
	se.ne1 = make(map[*cas.Token]string)
	se.ne2 = make(map[*cas.Token]string)

	var entities []*cas.Span
	for _, t := range neTypes {
		entities = append(entities, store.SpansCovered(t, se.sent.Range)...)
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Begin != entities[j].Begin {
			return entities[i].Begin < entities[j].Begin
		}
		return entities[i].End > entities[j].End
	})

	for _, ne := range entities {
		value := ne.Value()
		secondary, in1, in2, dropped := false, false, false, false
		for _, tok := range se.tokens {
			if !ne.Contains(tok.Range) {
				continue
			}
			switch {
			case se.ne1[tok] == "" && !secondary:
				se.ne1[tok] = iob(in1, value)
				in1 = true
			case se.ne2[tok] == "":
				if in1 && !in2 {
					se.report.AddLostElement(LossL1, se.path(tok), "entity", "entity continues in the secondary column", value)
				}
				se.ne2[tok] = iob(in2, value)
				in2, secondary = true, true
			default:
				if !dropped {
					se.report.AddLostElement(LossL3, se.path(tok), "entity", "more than two entities overlap", value)
					dropped = true
				}
			}
		}
		lostFeatures(se.report, se.path(nil), ne)
	}
}

func iob(inside bool, value string) string {
	if inside {
		return "I_" + field(value)
	}
	return "B_" + field(value)
}

// lostFeatures records feature values other than the primary label.
func lostFeatures(report *LossReport, path string, sp *cas.Span) {
	primary := sp.Layer.ValueFeature()
	var names []string
	for name, v := range sp.Features() {
		if name != primary && v != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		report.AddLostElement(LossL2, path, "feature",
			fmt.Sprintf("%s.%s has no column", sp.Layer.ShortName(), name), sp.Feature(name))
	}
}

func (se *sentenceEncoder) write(w *bufio.Writer, metadata bool) error {
	if metadata {
		if se.sent.ID != "" {
			fmt.Fprintf(w, "#id=%s\n", se.sent.ID)
		}
		src := se.sent.SourceText
		if src == "" {
			src = se.text[se.sent.Begin:se.sent.End]
		}
		fmt.Fprintf(w, "#text=%s\n", strings.ReplaceAll(src, "\n", " "))
	}

	positions := make(map[*cas.Token]int, len(se.tokens))
	for i, tok := range se.tokens {
		positions[tok] = i + 1
	}

	row := make([]string, fixedFields)
	for i, tok := range se.tokens {
		row[fixedPosition] = strconv.Itoa(i + 1)
		row[fixedText] = field(se.text[tok.Begin:tok.End])
		row[fixedLemma] = attribute(tok.Lemma)
		row[fixedPOS] = attribute(tok.POS)
		row[fixedNE1] = orDefault(se.ne1[tok], "O")
		row[fixedNE2] = orDefault(se.ne2[tok], "O")
		row[fixedHead], row[fixedDeprel] = se.head(tok, positions)
		row[fixedReserved1] = "_"
		row[fixedReserved2] = "_"

		if _, err := w.WriteString(strings.Join(row, "\t")); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// head returns the head and dependency type fields. A dependent points at its
// governor's position, or 0 when it governs itself; a governor that is no dependent
// is an implicit root.
func (se *sentenceEncoder) head(tok *cas.Token, positions map[*cas.Token]int) (string, string) {
	typ := orDefault(field(se.depType[tok]), "_")
	if gov, ok := se.governorOf[tok]; ok {
		if gov == tok {
			return "0", typ
		}
		if p, ok := positions[gov]; ok {
			return strconv.Itoa(p), typ
		}
		return "_", typ
	}
	if se.governors.Contains(tok) {
		return "0", "ROOT"
	}
	return "_", typ
}

func attribute(sp *cas.Span) string {
	if sp == nil {
		return "_"
	}
	return orDefault(field(sp.Value()), "_")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// field makes a value safe for a tab-separated cell.
func field(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}

// checkUnrepresentable records annotation layers the fixed layout has no column for.
func checkUnrepresentable(store cas.Store, report *LossReport, textLen int) {
	all := cas.Range{Begin: 0, End: textLen}
	tokenRelations := mapset.NewThreadUnsafeSet[string]()
	for _, t := range store.TypeSystem().TokenRelations() {
		tokenRelations.Add(t.Name)
	}

	for _, t := range store.TypeSystem().Types() {
		if !t.IsAnnotationLayer() {
			continue
		}
		switch t.Kind {
		case typesystem.KindLemma, typesystem.KindPOS, typesystem.KindNamedEntity:
			continue
		}
		if t.IsRelation() && tokenRelations.Contains(t.Name) {
			continue
		}
		var n int
		if t.IsRelation() {
			n = len(store.RelationsCovered(t, all))
		} else {
			n = len(store.SpansCovered(t, all))
		}
		if n > 0 {
			report.AddLostElement(LossL3, t.Name, "layer",
				fmt.Sprintf("%d %s annotations have no column", n, t.ShortName()), "")
		}
	}
}
