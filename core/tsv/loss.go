package tsv

// LossClass is the fidelity level of an encode.
type LossClass string

// Loss class constants, from most to least fidelity.
const (
	// LossL0 means every annotation in the store was written.
	LossL0 LossClass = "L0"

	// LossL1 means annotations were written but their grouping may differ on re-read
	// (an entity continued in the other entity column).
	LossL1 LossClass = "L1"

	// LossL2 means secondary feature values were dropped.
	LossL2 LossClass = "L2"

	// LossL3 means whole annotations or layers were dropped.
	LossL3 LossClass = "L3"

	// LossL4 means only tokens and sentences were written.
	LossL4 LossClass = "L4"
)

var lossLevels = map[LossClass]int{
	LossL0: 0,
	LossL1: 1,
	LossL2: 2,
	LossL3: 3,
	LossL4: 4,
}

// IsValid reports whether the loss class is known.
func (l LossClass) IsValid() bool {
	_, ok := lossLevels[l]
	return ok
}

// Level returns the numeric level (0-4), or -1 for an unknown class.
func (l LossClass) Level() int {
	if n, ok := lossLevels[l]; ok {
		return n
	}
	return -1
}

// IsLossless returns true if nothing was lost.
func (l LossClass) IsLossless() bool {
	return l == LossL0
}

// LostElement describes one piece of data the fixed layout could not carry.
type LostElement struct {
	// Path locates the element, e.g. "sentence 2/token 3".
	Path string `json:"path"`

	// ElementType is what was lost: "entity", "relation", "feature" or "layer".
	ElementType string `json:"element_type"`

	// Reason explains why.
	Reason string `json:"reason"`

	// OriginalValue is the label that was lost, if any.
	OriginalValue string `json:"original_value,omitempty"`
}

// LossReport documents what an encode dropped.
type LossReport struct {
	TargetFormat string        `json:"target_format"`
	LossClass    LossClass     `json:"loss_class"`
	LostElements []LostElement `json:"lost_elements,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

func newLossReport() *LossReport {
	return &LossReport{TargetFormat: "webanno-tsv-fixed", LossClass: LossL0}
}

// HasLoss returns true if any element was lost.
func (r *LossReport) HasLoss() bool {
	return len(r.LostElements) > 0 || r.LossClass.Level() > 0
}

// AddLostElement records a lost element and raises the loss class to at least class.
func (r *LossReport) AddLostElement(class LossClass, path, elementType, reason, value string) {
	r.LostElements = append(r.LostElements, LostElement{
		Path:          path,
		ElementType:   elementType,
		Reason:        reason,
		OriginalValue: value,
	})
	r.raise(class)
}

// AddWarning adds a warning to the report.
func (r *LossReport) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// Count returns the number of lost elements of a type.
func (r *LossReport) Count(elementType string) int {
	n := 0
	for _, e := range r.LostElements {
		if e.ElementType == elementType {
			n++
		}
	}
	return n
}

func (r *LossReport) raise(class LossClass) {
	if class.Level() > r.LossClass.Level() {
		r.LossClass = class
	}
}
