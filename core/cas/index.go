package cas

import "sort"

// spanIndex holds one layer's spans. The slice is re-sorted on the first lookup
// after a span is added or extended.
type spanIndex struct {
	spans  []*Span
	sorted bool
}

func (x *spanIndex) add(s *Span) {
	if n := len(x.spans); n == 0 {
		x.sorted = true
	} else if !spanLess(x.spans[n-1], s) {
		x.sorted = false
	}
	x.spans = append(x.spans, s)
}

func (x *spanIndex) ordered() []*Span {
	if !x.sorted {
		sort.SliceStable(x.spans, func(i, j int) bool { return spanLess(x.spans[i], x.spans[j]) })
		x.sorted = true
	}
	return x.spans
}

func spanLess(a, b *Span) bool {
	if a.Begin != b.Begin {
		return a.Begin < b.Begin
	}
	if a.End != b.End {
		return a.End > b.End
	}
	return a.ID < b.ID
}

// searchSpans returns the index of the first span beginning at or after offset.
func searchSpans(spans []*Span, offset int) int {
	return sort.Search(len(spans), func(i int) bool { return spans[i].Begin >= offset })
}

// relationIndex keeps creation order for iteration and a begin-ordered view for
// range lookups. Relation ranges are fixed at creation.
type relationIndex struct {
	created []*Relation
	byBegin []*Relation
	sorted  bool
}

func (x *relationIndex) add(r *Relation) {
	x.created = append(x.created, r)
	switch n := len(x.byBegin); {
	case len(x.created) == 1:
		x.byBegin, x.sorted = []*Relation{r}, true
	case x.sorted && x.byBegin[n-1].Begin <= r.Begin:
		x.byBegin = append(x.byBegin, r)
	default:
		x.sorted = false
	}
}

func (x *relationIndex) ordered() []*Relation {
	if !x.sorted {
		x.byBegin = append(x.byBegin[:0], x.created...)
		sort.SliceStable(x.byBegin, func(i, j int) bool { return x.byBegin[i].Begin < x.byBegin[j].Begin })
		x.sorted = true
	}
	return x.byBegin
}
