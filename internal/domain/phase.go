package domain

// Phase is one of the seven fixed stages a task moves through.
type Phase string

const (
	PhaseFetch Phase = "FETCH"
	PhaseInv   Phase = "INV"
	PhaseAna   Phase = "ANA"
	PhasePlan  Phase = "PLAN"
	PhaseBuild Phase = "BUILD"
	PhaseVerif Phase = "VERIF"
	PhaseRel   Phase = "REL"
)

// phaseOrder is the linear chain. Index i may only move to index i+1.
var phaseOrder = []Phase{
	PhaseFetch,
	PhaseInv,
	PhaseAna,
	PhasePlan,
	PhaseBuild,
	PhaseVerif,
	PhaseRel,
}

// Phases returns the phases in workflow order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// ParsePhase converts s to a Phase. Matching is exact and case-sensitive.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	if p.Index() < 0 {
		return "", false
	}
	return p, true
}

// Index returns the position of p in the workflow order, or -1.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the seven defined phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Terminal reports whether p admits no successor.
func (p Phase) Terminal() bool {
	return p == PhaseRel
}

// Next returns the unique successor of p. It returns false for REL and
// for unknown phases.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// IsLegalTransition reports whether to is the unique successor of from.
func IsLegalTransition(from, to Phase) bool {
	next, ok := from.Next()
	return ok && next == to
}
