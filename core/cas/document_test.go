package cas

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	cerrors "github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

func buildDocument(t *testing.T, sentences ...[]string) *Document {
	t.Helper()
	doc := NewDocument("test", nil)
	for _, words := range sentences {
		for _, w := range words {
			if _, err := doc.AppendToken(w); err != nil {
				t.Fatalf("AppendToken(%q) error = %v", w, err)
			}
		}
		doc.CloseSentence()
	}
	return doc
}

func layer(t *testing.T, doc *Document, name string) *typesystem.Type {
	t.Helper()
	typ, ok := doc.TypeSystem().Lookup(name)
	if !ok {
		t.Fatalf("type %s not found", name)
	}
	return typ
}

func TestTextReconstruction(t *testing.T) {
	doc := buildDocument(t, []string{"The", "cat", "sat"}, []string{"It", "purred"})

	if got, want := doc.Text(), "The cat sat\nIt purred\n"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	sents := doc.Sentences()
	if len(sents) != 2 {
		t.Fatalf("got %d sentences, want 2", len(sents))
	}
	if sents[0].Range != (Range{0, 11}) || sents[1].Range != (Range{12, 21}) {
		t.Errorf("sentence ranges = %v, %v", sents[0].Range, sents[1].Range)
	}
	if sents[1].Index != 2 {
		t.Errorf("second sentence index = %d", sents[1].Index)
	}

	toks := doc.SentenceTokens(sents[0])
	for i, want := range []string{"The", "cat", "sat"} {
		if got := doc.CoveredText(toks[i].Range); got != want {
			t.Errorf("token %d text = %q, want %q", i+1, got, want)
		}
		if toks[i].Ordinal != i+1 {
			t.Errorf("token %d ordinal = %d", i+1, toks[i].Ordinal)
		}
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestAppendTokenRejectsEmpty(t *testing.T) {
	doc := NewDocument("", nil)
	if doc.ID == "" {
		t.Error("empty ID should be replaced by a UUID")
	}
	_, err := doc.AppendToken("")
	if !errors.Is(err, cerrors.ErrInvalidInput) {
		t.Errorf("AppendToken(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestCloseSentenceWithoutTokens(t *testing.T) {
	doc := NewDocument("x", nil)
	if doc.CloseSentence() != nil {
		t.Error("CloseSentence() with no tokens should return nil")
	}
	doc.AppendToken("a")
	if !doc.HasOpenSentence() {
		t.Error("HasOpenSentence() = false after AppendToken")
	}
	doc.CloseSentence()
	if doc.CloseSentence() != nil {
		t.Error("second CloseSentence() should return nil")
	}
	if len(doc.Sentences()) != 1 {
		t.Errorf("got %d sentences, want 1", len(doc.Sentences()))
	}
}

func TestSentenceMetadata(t *testing.T) {
	doc := NewDocument("x", nil)
	doc.SetSentenceMetadata("s1", "Hello world")
	doc.AppendToken("Hello")
	doc.AppendToken("world")
	s := doc.CloseSentence()
	if s.ID != "s1" || s.SourceText != "Hello world" {
		t.Errorf("sentence metadata = %q, %q", s.ID, s.SourceText)
	}

	doc.AppendToken("next")
	if s := doc.CloseSentence(); s.ID != "" || s.SourceText != "" {
		t.Error("metadata should apply to one sentence only")
	}
}

func TestSpanOrdering(t *testing.T) {
	doc := buildDocument(t, []string{"New", "York", "City", "council"})
	ne := layer(t, doc, typesystem.NamedEntityType)
	toks := doc.Tokens()

	council := doc.AddSpan(ne, toks[3].Range, 1)
	york := doc.AddSpan(ne, toks[0].Range.Union(toks[1].Range), 2)
	city := doc.AddSpan(ne, toks[0].Range.Union(toks[2].Range), 1)

	got := doc.Spans(ne)
	want := []*Span{city, york, council}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Spans()[%d] = %v, want %v", i, got[i].Range, want[i].Range)
		}
	}

	covered := doc.SpansCovered(ne, Range{0, toks[1].End})
	if len(covered) != 1 || covered[0] != york {
		t.Errorf("SpansCovered() = %v", covered)
	}
	if at := doc.SpansAt(ne, 0); len(at) != 2 {
		t.Errorf("SpansAt(0) returned %d spans, want 2", len(at))
	}
}

func TestExtendSpanReorders(t *testing.T) {
	doc := buildDocument(t, []string{"New", "York", "Times"})
	ne := layer(t, doc, "NamedEntity")
	toks := doc.Tokens()

	short := doc.AddSpan(ne, toks[0].Range.Union(toks[1].Range), 1)
	grown := doc.AddSpan(ne, toks[0].Range, 2)
	if got := doc.Spans(ne); got[0] != short {
		t.Fatalf("Spans()[0] = %v, want the longer span first", got[0].Range)
	}

	doc.ExtendSpan(grown, toks[2].End)
	got := doc.Spans(ne)
	if got[0] != grown || got[1] != short {
		t.Errorf("Spans() after ExtendSpan = [%v %v], want extended span first", got[0].Range, got[1].Range)
	}
	if at := doc.SpansAt(ne, 0); len(at) != 2 || at[0] != grown {
		t.Errorf("SpansAt(0) = %v", at)
	}
}

func TestIndexLookupsPerSentence(t *testing.T) {
	var sentences [][]string
	for i := 0; i < 200; i++ {
		sentences = append(sentences, []string{"a", "b", "c", "d"})
	}
	doc := buildDocument(t, sentences...)
	ne := layer(t, doc, "NamedEntity")
	dep := layer(t, doc, typesystem.DependencyType)
	toks := doc.Tokens()

	// Spans and relations are added back to front so the indexes must reorder them.
	for i := len(toks) - 1; i >= 0; i-- {
		doc.AddSpan(ne, toks[i].Range, 1)
		if i%4 != 0 {
			doc.AddRelation(dep, toks[i-1], toks[i], Range{})
		}
	}

	for _, s := range doc.Sentences() {
		spans := doc.SpansCovered(ne, s.Range)
		if len(spans) != 4 {
			t.Fatalf("sentence %d: SpansCovered() returned %d spans, want 4", s.Index, len(spans))
		}
		for i := 1; i < len(spans); i++ {
			if spans[i-1].Begin >= spans[i].Begin {
				t.Fatalf("sentence %d: spans out of order", s.Index)
			}
		}
		rels := doc.RelationsCovered(dep, s.Range)
		if len(rels) != 3 {
			t.Fatalf("sentence %d: RelationsCovered() returned %d relations, want 3", s.Index, len(rels))
		}
		for i := 1; i < len(rels); i++ {
			if rels[i-1].ID >= rels[i].ID {
				t.Fatalf("sentence %d: relations not in creation order", s.Index)
			}
		}
	}
}

func TestSpanFeatures(t *testing.T) {
	doc := buildDocument(t, []string{"Paris"})
	ne := layer(t, doc, "NamedEntity")
	s := doc.AddSpan(ne, doc.Tokens()[0].Range, 1)
	s.SetFeature("value", "LOC")
	s.SetFeature("identifier", "Q90")

	if s.Value() != "LOC" {
		t.Errorf("Value() = %q", s.Value())
	}
	f := s.Features()
	f["value"] = "PER"
	if s.Feature("value") != "LOC" {
		t.Error("Features() should return a copy")
	}
	if s.Feature("missing") != "" {
		t.Error("unset feature should be empty")
	}
}

func TestRelationRange(t *testing.T) {
	doc := buildDocument(t, []string{"a", "bb", "ccc"})
	dep := layer(t, doc, typesystem.DependencyType)
	toks := doc.Tokens()

	tests := []struct {
		name      string
		gov, dep  Endpoint
		want      Range
		complete  bool
	}{
		{"forward", toks[0], toks[2], Range{0, 8}, true},
		{"backward", toks[2], toks[1], Range{2, 8}, true},
		{"self", toks[1], toks[1], toks[1].Range, true},
		{"missing governor", nil, toks[1], toks[1].Range, false},
		{"missing both", nil, nil, Range{1, 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := doc.AddRelation(dep, tt.gov, tt.dep, Range{1, 2})
			if r.Range != tt.want {
				t.Errorf("Range = %v, want %v", r.Range, tt.want)
			}
			if r.Complete() != tt.complete {
				t.Errorf("Complete() = %v, want %v", r.Complete(), tt.complete)
			}
		})
	}

	if got := doc.RelationsCovered(dep, doc.Sentences()[0].Range); len(got) != 5 {
		t.Errorf("RelationsCovered() returned %d relations, want 5", len(got))
	}
	if len(doc.Layers()) != 1 {
		t.Errorf("Layers() = %v", doc.Layers())
	}
}

func TestTokensCovered(t *testing.T) {
	doc := buildDocument(t, []string{"one", "two"}, []string{"three"})
	tests := []struct {
		r    Range
		want int
	}{
		{Range{0, 7}, 2},
		{Range{0, 5}, 1},
		{Range{4, 14}, 2},
		{Range{100, 200}, 0},
	}
	for _, tt := range tests {
		if got := doc.TokensCovered(tt.r); len(got) != tt.want {
			t.Errorf("TokensCovered(%v) = %d tokens, want %d", tt.r, len(got), tt.want)
		}
	}
	if tok := doc.TokenAt(8); tok == nil || doc.CoveredText(tok.Range) != "three" {
		t.Errorf("TokenAt(8) = %v", tok)
	}
	if doc.TokenAt(9) != nil {
		t.Error("TokenAt inside a token should return nil")
	}
}

func TestFingerprint(t *testing.T) {
	a := buildDocument(t, []string{"same", "text"})
	b := buildDocument(t, []string{"same", "text"})
	b.ID = "other"

	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	fb, _ := b.Fingerprint()
	if !fa.Equal(fb) {
		t.Error("identical content should fingerprint identically")
	}
	if len(fa.SHA256) != 64 || len(fa.BLAKE3) != 64 {
		t.Errorf("digest lengths = %d, %d", len(fa.SHA256), len(fa.BLAKE3))
	}

	pos := layer(t, b, "POS")
	b.AddSpan(pos, b.Tokens()[0].Range, 0).SetFeature("PosValue", "ADJ")
	fb, _ = b.Fingerprint()
	if fa.Equal(fb) {
		t.Error("adding an annotation should change the fingerprint")
	}
}

func TestMarshalJSON(t *testing.T) {
	doc := buildDocument(t, []string{"Hi", "there"})
	pos := layer(t, doc, "POS")
	tok := doc.Tokens()[0]
	tok.POS = doc.AddSpan(pos, tok.Range, 0)
	tok.POS.SetFeature("PosValue", "UH")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)
	for _, want := range []string{`"id":"test"`, `"text":"Hi there\n"`, `"pos":"UH"`, `"PosValue":"UH"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON missing %s: %s", want, s)
		}
	}
}
