package cas

import (
	"encoding/json"
	"sort"
)

type jsonDocument struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Text      string         `json:"text"`
	Sentences []jsonSentence `json:"sentences"`
	Layers    []jsonLayer    `json:"layers,omitempty"`
}

type jsonSentence struct {
	Range
	ID         string      `json:"id,omitempty"`
	SourceText string      `json:"source_text,omitempty"`
	Tokens     []jsonToken `json:"tokens"`
}

type jsonToken struct {
	Range
	Text  string `json:"text"`
	Lemma string `json:"lemma,omitempty"`
	POS   string `json:"pos,omitempty"`
}

type jsonLayer struct {
	Type      string         `json:"type"`
	Spans     []jsonSpan     `json:"spans,omitempty"`
	Relations []jsonRelation `json:"relations,omitempty"`
}

type jsonSpan struct {
	Range
	Slot     int               `json:"slot,omitempty"`
	Features map[string]string `json:"features,omitempty"`
}

type jsonRelation struct {
	Range
	Governor  *Range            `json:"governor"`
	Dependent *Range            `json:"dependent"`
	Features  map[string]string `json:"features,omitempty"`
}

// MarshalJSON renders the document as a self-contained view keyed by offsets rather
// than internal annotation IDs.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.view(true))
}

func (d *Document) view(withID bool) jsonDocument {
	v := jsonDocument{Title: d.Title, Text: d.Text(), Sentences: []jsonSentence{}}
	if withID {
		v.ID = d.ID
	}
	for _, s := range d.sentences {
		js := jsonSentence{Range: s.Range, ID: s.ID, SourceText: s.SourceText, Tokens: []jsonToken{}}
		for _, t := range d.SentenceTokens(s) {
			jt := jsonToken{Range: t.Range, Text: d.CoveredText(t.Range)}
			if t.Lemma != nil {
				jt.Lemma = t.Lemma.Value()
			}
			if t.POS != nil {
				jt.POS = t.POS.Value()
			}
			js.Tokens = append(js.Tokens, jt)
		}
		v.Sentences = append(v.Sentences, js)
	}
	for _, layer := range d.Layers() {
		jl := jsonLayer{Type: layer.Name}
		for _, s := range d.Spans(layer) {
			jl.Spans = append(jl.Spans, jsonSpan{Range: s.Range, Slot: s.Slot, Features: nonEmpty(s.features)})
		}
		rels := d.Relations(layer)
		sort.SliceStable(rels, func(i, j int) bool {
			if rels[i].Begin != rels[j].Begin {
				return rels[i].Begin < rels[j].Begin
			}
			return rels[i].End < rels[j].End
		})
		for _, r := range rels {
			jl.Relations = append(jl.Relations, jsonRelation{
				Range:     r.Range,
				Governor:  endpointRange(r.Governor),
				Dependent: endpointRange(r.Dependent),
				Features:  nonEmpty(r.features),
			})
		}
		v.Layers = append(v.Layers, jl)
	}
	return v
}

func endpointRange(e Endpoint) *Range {
	if e == nil {
		return nil
	}
	r := e.Bounds()
	return &r
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return copyFeatures(m)
}
