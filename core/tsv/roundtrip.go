package tsv

import (
	"context"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/FocuswithJustin/annotsv/core/cas"
)

// RoundTripResult compares an encode with the encode of its own decode.
type RoundTripResult struct {
	// Equal is true when both encodes are byte-identical.
	Equal bool

	First  string
	Second string

	// Diff lists the differing lines, prefixed with "-" and "+".
	Diff string

	// Loss is the report of the first encode.
	Loss *LossReport

	// Fingerprint identifies the re-decoded document.
	Fingerprint *cas.HashResult
}

// RoundTrip encodes store, decodes the output with the fixed layout and encodes the
// result again. A conforming codec produces equal output.
func RoundTrip(ctx context.Context, store cas.Store, config EncoderConfig) (*RoundTripResult, error) {
	enc := NewEncoder(config)
	first, loss, err := enc.EncodeString(ctx, store)
	if err != nil {
		return nil, err
	}

	dec := NewDecoder(DecoderConfig{TypeSystem: store.TypeSystem(), Layout: LayoutFixed})
	res, err := dec.DecodeString(ctx, first)
	if err != nil {
		return nil, err
	}
	second, _, err := enc.EncodeString(ctx, res.Document)
	if err != nil {
		return nil, err
	}

	fp, err := res.Document.Fingerprint()
	if err != nil {
		return nil, err
	}

	out := &RoundTripResult{
		Equal:       first == second,
		First:       first,
		Second:      second,
		Loss:        loss,
		Fingerprint: fp,
	}
	if !out.Equal {
		out.Diff = LineDiff(first, second)
	}
	return out, nil
}

// LineDiff renders the lines that differ between a and b.
func LineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(ca, cb, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var result strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			result.WriteString(prefix + line)
		}
	}
	return result.String()
}
