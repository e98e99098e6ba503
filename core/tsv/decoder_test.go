package tsv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/FocuswithJustin/annotsv/core/cas"
	cerrors "github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

func decode(t *testing.T, lines ...string) *Result {
	t.Helper()
	res, err := NewDecoder(DecoderConfig{DocumentID: "test"}).DecodeString(context.Background(), strings.Join(lines, "\n")+"\n")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return res
}

func lookup(t *testing.T, doc *cas.Document, name string) *typesystem.Type {
	t.Helper()
	typ, ok := doc.TypeSystem().Lookup(name)
	if !ok {
		t.Fatalf("type %s not found", name)
	}
	return typ
}

func TestDecodeMultiTokenSpan(t *testing.T) {
	res := decode(t,
		"#NamedEntity|value",
		"",
		"1-1\tNew\tB-LOC",
		"1-2\tYork\tI-LOC",
		"1-3\tCity\tI-LOC",
		"1-4\tis\t_",
		"",
	)
	doc := res.Document

	if got, want := doc.Text(), "New York City is\n"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	spans := doc.Spans(lookup(t, doc, "NamedEntity"))
	if len(spans) != 1 {
		t.Fatalf("got %d entity spans, want 1", len(spans))
	}
	toks := doc.Tokens()
	if spans[0].Begin != toks[0].Begin || spans[0].End != toks[2].End {
		t.Errorf("span range = %v, want [%d,%d)", spans[0].Range, toks[0].Begin, toks[2].End)
	}
	if spans[0].Value() != "LOC" {
		t.Errorf("span value = %q, want LOC", spans[0].Value())
	}
	if doc.CoveredText(spans[0].Range) != "New York City" {
		t.Errorf("covered text = %q", doc.CoveredText(spans[0].Range))
	}
}

func TestDecodeSlots(t *testing.T) {
	res := decode(t,
		"#NamedEntity|value",
		"1-1\tNew\tB-LOC",
		"1-2\tYork\tI-LOC|B-ORG",
		"1-3\tTimes\t_|I-ORG",
		"1-4\treported\t_",
		"",
	)
	doc := res.Document
	spans := doc.Spans(lookup(t, doc, "NamedEntity"))
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	tests := []struct {
		value string
		text  string
		slot  int
	}{
		{"LOC", "New York", 1},
		{"ORG", "York Times", 2},
	}
	for i, tt := range tests {
		sp := spans[i]
		if sp.Value() != tt.value || doc.CoveredText(sp.Range) != tt.text || sp.Slot != tt.slot {
			t.Errorf("span %d = %s %q slot %d, want %s %q slot %d",
				i, sp.Value(), doc.CoveredText(sp.Range), sp.Slot, tt.value, tt.text, tt.slot)
		}
	}
}

func TestDecodeSlotTokens(t *testing.T) {
	tests := []struct {
		name  string
		col   []string
		wants []string
	}{
		{"single values", []string{"PER", "_", "LOC"}, []string{"a", "c"}},
		{"begin without continuation", []string{"B-PER", "B-PER", "O"}, []string{"a", "b"}},
		{"inside after a gap starts a new span", []string{"B-PER", "_", "I-PER"}, []string{"a", "c"}},
		{"inside without begin", []string{"I-PER", "I-PER", "_"}, []string{"a b"}},
		{"fillers", []string{"O-_", "B-_", "I-_"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decode(t,
				"#NamedEntity|value",
				"1\ta\t"+tt.col[0],
				"2\tb\t"+tt.col[1],
				"3\tc\t"+tt.col[2],
				"",
			)
			doc := res.Document
			spans := doc.Spans(lookup(t, doc, "NamedEntity"))
			var got []string
			for _, sp := range spans {
				got = append(got, doc.CoveredText(sp.Range))
			}
			if strings.Join(got, ",") != strings.Join(tt.wants, ",") {
				t.Errorf("spans = %q, want %q", got, tt.wants)
			}
		})
	}
}

func TestDecodeSecondFeatureColumn(t *testing.T) {
	res := decode(t,
		"#NamedEntity|value|identifier",
		"1-1\tBarack\tB-PER\tB-Q76",
		"1-2\tObama\tI-PER\tI-Q76",
		"1-3\tvisited\t_\t_",
		"1-4\tParis\tLOC\tQ90",
		"",
	)
	doc := res.Document
	spans := doc.Spans(lookup(t, doc, "NamedEntity"))
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if doc.CoveredText(spans[0].Range) != "Barack Obama" || spans[0].Feature("identifier") != "Q76" {
		t.Errorf("first span = %q %v", doc.CoveredText(spans[0].Range), spans[0].Features())
	}
	if spans[1].Value() != "LOC" || spans[1].Feature("identifier") != "Q90" {
		t.Errorf("second span = %v", spans[1].Features())
	}
}

const dependencyInput = "#POS|PosValue\n" +
	"#Dependency|DependencyType|AttachTo=POS\n" +
	"1-1\tThe\tDT\t_\t_\n" +
	"1-2\tquick\tJJ\t_\t_\n" +
	"1-3\tfox\tNN\t_\t_\n" +
	"1-4\treally\tRB\t_\t_\n" +
	"1-5\tsat\tVBD\tdep\t1-2\n" +
	"\n"

func TestDecodeRelationRange(t *testing.T) {
	res, err := NewDecoder(DecoderConfig{}).DecodeString(context.Background(), dependencyInput)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	doc := res.Document
	toks := doc.Tokens()

	rels := doc.Relations(lookup(t, doc, "Dependency"))
	if len(rels) != 1 {
		t.Fatalf("got %d relations, want 1", len(rels))
	}
	rel := rels[0]
	if rel.Governor != toks[1] || rel.Dependent != toks[4] {
		t.Errorf("relation endpoints = %v -> %v, want token 2 -> token 5", rel.Governor, rel.Dependent)
	}
	want := cas.Range{Begin: toks[1].Begin, End: toks[4].End}
	if rel.Range != want {
		t.Errorf("relation range = %v, want %v", rel.Range, want)
	}
	if rel.Value() != "dep" {
		t.Errorf("relation type = %q, want dep", rel.Value())
	}

	for i, want := range []string{"DT", "JJ", "NN", "RB", "VBD"} {
		if toks[i].POS == nil || toks[i].POS.Value() != want {
			t.Errorf("token %d POS = %v, want %s", i+1, toks[i].POS, want)
		}
	}
	if n := len(doc.Spans(lookup(t, doc, "Dependency"))); n != 0 {
		t.Errorf("relation placeholders must not be indexed as spans, found %d", n)
	}
}

func TestDecodeMultipleGovernors(t *testing.T) {
	res := decode(t,
		"#Dependency|DependencyType|AttachTo=Token",
		"1\ta\t_\t_",
		"2\tb\t_\t_",
		"3\tc\tx|y\t1|2",
		"",
	)
	doc := res.Document
	rels := doc.Relations(lookup(t, doc, "Dependency"))
	if len(rels) != 2 {
		t.Fatalf("got %d relations, want 2", len(rels))
	}
	toks := doc.Tokens()
	if rels[0].Governor != toks[0] || rels[0].Value() != "x" {
		t.Errorf("first relation = %v %q", rels[0].Governor, rels[0].Value())
	}
	if rels[1].Governor != toks[1] || rels[1].Value() != "y" {
		t.Errorf("second relation = %v %q", rels[1].Governor, rels[1].Value())
	}
	for _, r := range rels {
		if r.Dependent != toks[2] {
			t.Errorf("dependent = %v, want token 3", r.Dependent)
		}
	}
}

func TestDecodeSpanRelationLayer(t *testing.T) {
	ts := typesystem.Default()
	if err := ts.Add(&typesystem.Type{Name: "webanno.custom.Coref", Kind: typesystem.KindRelation, Features: []string{"kind"}, AttachTo: typesystem.NamedEntityType}); err != nil {
		t.Fatal(err)
	}
	input := "#NamedEntity|value\n" +
		"#webanno.custom.Coref|kind|AttachTo=NamedEntity\n" +
		"1\tAnna\tPER\t_\t_\n" +
		"2\tsaid\t_\t_\t_\n" +
		"3\tshe\tPER\tanaphor\t1\n" +
		"\n"
	res, err := NewDecoder(DecoderConfig{TypeSystem: ts}).DecodeString(context.Background(), input)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	doc := res.Document
	ne := lookup(t, doc, "NamedEntity")
	rels := doc.Relations(lookup(t, doc, "Coref"))
	if len(rels) != 1 {
		t.Fatalf("got %d relations, want 1", len(rels))
	}
	spans := doc.Spans(ne)
	if rels[0].Governor != spans[0] || rels[0].Dependent != spans[1] {
		t.Error("span relation endpoints should be the entity spans")
	}
	if rels[0].Feature("kind") != "anaphor" {
		t.Errorf("relation kind = %q", rels[0].Feature("kind"))
	}
}

func TestDecodeMalformedRowLeavesDocument(t *testing.T) {
	s := NewDecoder(DecoderConfig{}).NewStream()
	lines := strings.Split(strings.TrimSuffix(dependencyInput, "\n\n"), "\n")
	for _, line := range lines[:4] {
		if err := s.Line(line); err != nil {
			t.Fatalf("Line(%q) error = %v", line, err)
		}
	}

	doc := s.Document()
	textBefore := doc.Text()
	tokensBefore := len(doc.Tokens())
	sentencesBefore := len(doc.Sentences())

	err := s.Line("1\tfoo\tbar")
	var mr *cerrors.MalformedRowError
	if !errors.As(err, &mr) {
		t.Fatalf("Line() error = %v, want MalformedRowError", err)
	}
	if mr.Line != 5 || mr.Expected != 4 || mr.Got != 2 || mr.Content != "1\tfoo\tbar" {
		t.Errorf("MalformedRowError = %+v", mr)
	}
	if !cerrors.IsFatal(err) {
		t.Error("a malformed row is fatal")
	}

	if doc.Text() != textBefore || len(doc.Tokens()) != tokensBefore || len(doc.Sentences()) != sentencesBefore {
		t.Error("a malformed row must not change the document")
	}
}

func TestDecodeRowValidationIsAtomic(t *testing.T) {
	s := NewDecoder(DecoderConfig{}).NewStream()
	for _, line := range []string{"#POS|PosValue#Dependency|DependencyType|AttachTo=POS", "1\ta\tDT\t_\t_"} {
		if err := s.Line(line); err != nil {
			t.Fatal(err)
		}
	}
	// two relation values but a single target
	err := s.Line("2\tb\tNN\tx|y\t1")
	if !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Fatalf("Line() error = %v, want parse error", err)
	}
	if len(s.Document().Tokens()) != 1 {
		t.Error("a rejected row must not add a token")
	}
	if n := len(s.Document().Spans(lookup(t, s.Document(), "POS"))); n != 1 {
		t.Errorf("a rejected row must not add spans, found %d POS spans", n)
	}
}

func TestDecodeNoiseAndMetadata(t *testing.T) {
	res := decode(t,
		"#FORMAT=WebAnno TSV 2",
		"#POS|PosValue",
		"#id=s1",
		"#text=Hello world",
		"continuation of a broken #text line",
		"1-x\tnot\tdata",
		"1-1\tHello\tUH",
		"1-2\tworld\tNN",
		"",
		"",
		"",
		"2-1\tBye\tUH",
		"",
	)
	doc := res.Document
	sents := doc.Sentences()
	if len(sents) != 2 {
		t.Fatalf("got %d sentences, want 2", len(sents))
	}
	if sents[0].ID != "s1" || sents[0].SourceText != "Hello world" {
		t.Errorf("metadata = %q %q", sents[0].ID, sents[0].SourceText)
	}
	if got, want := doc.Text(), "Hello world\nBye\n"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestDecodeLateHeader(t *testing.T) {
	_, err := NewDecoder(DecoderConfig{}).DecodeString(context.Background(),
		"#POS|PosValue\n1\ta\tDT\n#Lemma|value\n")
	if !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("Decode() error = %v, want parse error", err)
	}
}

func TestDecodeUnknownLayer(t *testing.T) {
	_, err := NewDecoder(DecoderConfig{}).DecodeString(context.Background(), "#webanno.custom.Nope|x\n")
	if !errors.Is(err, cerrors.ErrUnknownLayer) {
		t.Errorf("Decode() error = %v, want ErrUnknownLayer", err)
	}
}

func TestDecodeWarnings(t *testing.T) {
	res := decode(t,
		"#Dependency|DependencyType|AttachTo=Token",
		"1\ta\tdep\t9",
		"2\tb\t_\t_",
	)
	if len(res.Warnings) != 2 {
		t.Fatalf("got %d warnings, want 2: %v", len(res.Warnings), res.Warnings)
	}
	if !errors.Is(res.Warnings[0], cerrors.ErrTruncatedDocument) {
		t.Errorf("first warning = %v, want truncated document", res.Warnings[0])
	}
	var ue *cerrors.UnresolvedEndpointError
	if !errors.As(res.Warnings[1], &ue) || ue.Role != "governor" || ue.Address != "1-9" || ue.Line != 2 {
		t.Errorf("second warning = %v, want unresolved governor 1-9", res.Warnings[1])
	}

	doc := res.Document
	if len(doc.Sentences()) != 1 {
		t.Errorf("truncated sentence should still be closed")
	}
	rels := doc.Relations(lookup(t, doc, "Dependency"))
	if len(rels) != 1 || rels[0].Governor != nil || rels[0].Dependent != doc.Tokens()[0] {
		t.Errorf("unresolved relation should be kept with its governor unset: %+v", rels)
	}
}

func TestDecodeNonAddressTarget(t *testing.T) {
	res := decode(t,
		"#Dependency|DependencyType|AttachTo=Token",
		"1\ta\t_\t_",
		"2\tb\tdep\t_",
		"",
	)
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(res.Warnings), res.Warnings)
	}
	var ue *cerrors.UnresolvedEndpointError
	if !errors.As(res.Warnings[0], &ue) || ue.Role != "governor" || ue.Address != "_" || ue.Line != 3 {
		t.Errorf("warning = %v, want unresolved governor _ on line 3", res.Warnings[0])
	}

	doc := res.Document
	if len(doc.Tokens()) != 2 {
		t.Errorf("got %d tokens, want the whole document decoded", len(doc.Tokens()))
	}
	rels := doc.Relations(lookup(t, doc, "Dependency"))
	if len(rels) != 1 || rels[0].Governor != nil || rels[0].Dependent != doc.Tokens()[1] || rels[0].Value() != "dep" {
		t.Errorf("relation should be kept with its governor unset: %+v", rels)
	}
}

func TestDecodeFixedLayout(t *testing.T) {
	res := decode(t,
		"1\tNew\tnew\tNNP\tB_LOC\tO\t_\t_\t_\t_",
		"2\tYork\tyork\tNNP\tI_LOC\tB_CITY\t_\t_\t_\t_",
		"3\tCity\tcity\tNNP\tI_LOC\tO\t4\tnn\t_\t_",
		"4\tcouncil\tcouncil\tNN\tO\tO\t5\tnsubj\t_\t_",
		"5\tmet\tmeet\tVBD\tO\tO\t0\tROOT\t_\t_",
		"",
	)
	if res.Layout != LayoutFixed || res.Schema != nil {
		t.Fatalf("Layout = %s, want fixed", res.Layout)
	}
	doc := res.Document
	toks := doc.Tokens()

	if toks[1].Lemma == nil || toks[1].Lemma.Value() != "york" || toks[4].POS.Value() != "VBD" {
		t.Error("lemma and POS should be token attributes")
	}

	ne := doc.Spans(lookup(t, doc, "NamedEntity"))
	if len(ne) != 2 || doc.CoveredText(ne[0].Range) != "New York City" || doc.CoveredText(ne[1].Range) != "York" {
		t.Errorf("entities = %v", ne)
	}

	rels := doc.Relations(lookup(t, doc, "Dependency"))
	if len(rels) != 3 {
		t.Fatalf("got %d relations, want 3", len(rels))
	}
	root := rels[2]
	if root.Governor != toks[4] || root.Dependent != toks[4] || root.Value() != "ROOT" {
		t.Errorf("head 0 should decode to a self-governed relation, got %+v", root)
	}
	if rels[0].Governor != toks[3] || rels[0].Dependent != toks[2] {
		t.Error("forward head reference should resolve")
	}
}

func TestDecodeFixedLayoutMalformed(t *testing.T) {
	_, err := NewDecoder(DecoderConfig{Layout: LayoutFixed}).DecodeString(context.Background(), "1\tfoo\tbar\n")
	var mr *cerrors.MalformedRowError
	if !errors.As(err, &mr) || mr.Expected != 9 || mr.Got != 2 {
		t.Errorf("Decode() error = %v, want malformed row expecting 9 tabs", err)
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewDecoder(DecoderConfig{}).DecodeString(ctx, dependencyInput)
	if !errors.Is(err, context.Canceled) || res != nil {
		t.Errorf("Decode() = %v, %v, want context.Canceled and no result", res, err)
	}
}

func TestStreamClose(t *testing.T) {
	s := NewDecoder(DecoderConfig{}).NewStream()
	if _, err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.Close(); err == nil {
		t.Error("second Close() should fail")
	}
	if err := s.Line("1\ta"); err == nil {
		t.Error("Line() after Close() should fail")
	}
}

func TestParseLayout(t *testing.T) {
	tests := []struct {
		in      string
		want    Layout
		wantErr bool
	}{
		{"", LayoutAuto, false},
		{"auto", LayoutAuto, false},
		{"HEADER", LayoutHeader, false},
		{"fixed", LayoutFixed, false},
		{"conll", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLayout(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLayout(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestIsNoise(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"1\ta", false},
		{"1-2\ta", false},
		{"12-3\ta-b", false},
		{"a\tb", true},
		{"1-\ta", true},
		{"1-x\ta", true},
		{"word with 1-2 inside", true},
	}
	for _, tt := range tests {
		if got := isNoise(tt.line); got != tt.want {
			t.Errorf("isNoise(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
