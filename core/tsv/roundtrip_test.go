package tsv

import (
	"context"
	"strings"
	"testing"
)

func TestRoundTripIdempotent(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		input  string
		config EncoderConfig
	}{
		{"header layout", dependencyInput, EncoderConfig{}},
		{"fixed layout", sampleEncoded, EncoderConfig{}},
		{"with metadata", "#id=a\n#text=x y\n1\tx\t_\t_\tO\tO\t_\t_\t_\t_\n2\ty\t_\t_\tO\tO\t1\tdep\t_\t_\n\n", EncoderConfig{Metadata: true}},
		{"entities", "#NamedEntity|value\n1\tNew\tB-LOC\n2\tYork\tI-LOC|B-ORG\n3\tTimes\t_|I-ORG\n\n", EncoderConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewDecoder(DecoderConfig{}).DecodeString(ctx, tt.input)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			rt, err := RoundTrip(ctx, res.Document, tt.config)
			if err != nil {
				t.Fatalf("RoundTrip() error = %v", err)
			}
			if !rt.Equal {
				t.Errorf("encode(decode(encode(d))) differs from encode(d):\n%s", rt.Diff)
			}
			if rt.Fingerprint == nil || rt.Fingerprint.SHA256 == "" {
				t.Error("round trip should fingerprint the re-decoded document")
			}
		})
	}
}

func TestRoundTripFixedInput(t *testing.T) {
	ctx := context.Background()
	res, err := NewDecoder(DecoderConfig{}).DecodeString(ctx, sampleEncoded)
	if err != nil {
		t.Fatal(err)
	}
	out, _, err := NewEncoder(EncoderConfig{}).EncodeString(ctx, res.Document)
	if err != nil {
		t.Fatal(err)
	}
	if out != sampleEncoded {
		t.Errorf("fixed layout should re-encode unchanged:\n%s", LineDiff(sampleEncoded, out))
	}
}

func TestLineDiff(t *testing.T) {
	a := "1\ta\n2\tb\n3\tc\n"
	b := "1\ta\n2\tB\n3\tc\n"
	diff := LineDiff(a, b)
	if !strings.Contains(diff, "-2\tb\n") || !strings.Contains(diff, "+2\tB\n") {
		t.Errorf("LineDiff() = %q", diff)
	}
	if strings.Contains(diff, "1\ta") {
		t.Error("equal lines should not be listed")
	}
	if LineDiff(a, a) != "" {
		t.Error("identical inputs should have an empty diff")
	}
}
