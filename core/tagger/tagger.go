// Package tagger produces annotated documents from plain text.
//
// Sentences, tokens, part-of-speech tags and named entities come from the
// prose NLP pipeline. The result is an ordinary cas.Document that the TSV
// encoder can write.
package tagger

import (
	"context"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
)

// Config selects the annotations the tagger adds.
type Config struct {
	// TypeSystem supplies the layer types. Nil means typesystem.Default().
	TypeSystem *typesystem.TypeSystem

	// Tagging adds a POS span per token.
	Tagging bool

	// Entities adds NamedEntity spans from the IOB labels.
	Entities bool
}

// DefaultConfig returns a configuration with every annotation enabled.
func DefaultConfig() Config {
	return Config{Tagging: true, Entities: true}
}

// Tagger turns text into documents. It is safe for sequential reuse.
type Tagger struct {
	config Config
}

// New creates a tagger.
func New(config Config) *Tagger {
	if config.TypeSystem == nil {
		config.TypeSystem = typesystem.Default()
	}
	return &Tagger{config: config}
}

// Tag segments, tokenizes and annotates text into a new document.
func (t *Tagger) Tag(ctx context.Context, id, text string) (*cas.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewValidation("text", "no content to tag")
	}
	seg, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, errors.Wrap(err, "segmenting text")
	}

	doc := cas.NewDocument(id, t.config.TypeSystem)
	for _, sent := range seg.Sentences() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.sentence(doc, sent.Text); err != nil {
			return nil, err
		}
	}
	if len(doc.Tokens()) == 0 {
		return nil, errors.NewValidation("text", "no tokens found")
	}
	return doc, doc.Validate()
}

func (t *Tagger) sentence(doc *cas.Document, text string) error {
	pd, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(t.config.Tagging),
		prose.WithExtraction(t.config.Entities))
	if err != nil {
		return errors.Wrap(err, "tagging sentence")
	}

	var toks []*cas.Token
	var tags, labels []string
	for _, pt := range pd.Tokens() {
		word := strings.Join(strings.Fields(pt.Text), "")
		if word == "" {
			continue
		}
		tok, err := doc.AppendToken(word)
		if err != nil {
			return err
		}
		toks = append(toks, tok)
		tags = append(tags, pt.Tag)
		labels = append(labels, pt.Label)
	}
	if len(toks) == 0 {
		return nil
	}
	doc.SetSentenceMetadata("", strings.Join(strings.Fields(text), " "))
	doc.CloseSentence()

	if t.config.Tagging {
		addTags(doc, toks, tags)
	}
	if t.config.Entities {
		addEntities(doc, toks, labels)
	}
	return nil
}

func addTags(doc *cas.Document, toks []*cas.Token, tags []string) {
	pos := doc.TypeSystem().ByKind(typesystem.KindPOS)
	if pos == nil {
		return
	}
	for i, tok := range toks {
		if tags[i] == "" {
			continue
		}
		tok.POS = doc.AddSpan(pos, tok.Range, 0)
		tok.POS.SetFeature(pos.ValueFeature(), tags[i])
	}
}

// addEntities converts IOB labels ("B-GPE", "I-GPE", "O") into spans.
// An I- label that does not continue the open entity starts a new one.
func addEntities(doc *cas.Document, toks []*cas.Token, labels []string) {
	ne := doc.TypeSystem().ByKind(typesystem.KindNamedEntity)
	if ne == nil {
		return
	}
	var (
		open      cas.Range
		openLabel string
	)
	flush := func() {
		if openLabel != "" {
			doc.AddSpan(ne, open, 0).SetFeature(ne.ValueFeature(), openLabel)
			openLabel = ""
		}
	}
	for i, tok := range toks {
		prefix, value, ok := strings.Cut(labels[i], "-")
		if !ok || value == "" || (prefix != "B" && prefix != "I") {
			flush()
			continue
		}
		if prefix == "I" && value == openLabel {
			open = open.Union(tok.Range)
			continue
		}
		flush()
		open, openLabel = tok.Range, value
	}
	flush()
}
