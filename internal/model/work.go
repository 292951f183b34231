// Package model defines the data shapes shared by the queue scheduler,
// the engine actor, and the API client: batches, positions, chunks,
// and the work descriptors the remote attaches to them.
package model

import "time"

// BatchID is an opaque identifier assigned by the remote.
type BatchID string

// EngineFlavor selects which precompiled engine binary a chunk targets.
type EngineFlavor int

const (
	Official EngineFlavor = iota
	MultiVariant
)

func (f EngineFlavor) String() string {
	if f == MultiVariant {
		return "multivariant"
	}
	return "official"
}

// EvalFlavor is derived from EngineFlavor and governs node budgets and
// the "Use NNUE" engine option.
type EvalFlavor int

const (
	Nnue EvalFlavor = iota
	Hce
)

// Eval derives the evaluator flavor used for a given engine flavor.
func (f EngineFlavor) Eval() EvalFlavor {
	if f == Official {
		return Nnue
	}
	return Hce
}

// Clock carries the per-side time control for a Move work item.
type Clock struct {
	WTime time.Duration
	BTime time.Duration
	WInc  time.Duration
	BInc  time.Duration
}

// WorkKind discriminates the Work tagged union.
type WorkKind int

const (
	KindAnalysis WorkKind = iota
	KindMove
)

// AnalysisWork is the Analysis arm of the Work union.
type AnalysisWork struct {
	// NodeBudget maps the eval flavor to the node limit used for `go nodes N`.
	NodeBudget map[EvalFlavor]uint64
	Depth      *int
	MultiPV    int
	// Matrix requests that responses retain the full (multipv, depth)
	// score/pv matrix rather than collapsing to the best view.
	Matrix bool
}

// MoveWork is the Move arm of the Work union.
type MoveWork struct {
	SkillLevel int
	Clock      *Clock
	MultiPV    int
}

// Work is a tagged union: either an Analysis job (many positions,
// deep search) or a Move job (one position, a move to play). Exactly
// one of Analysis/Move is non-nil, matching Kind.
type Work struct {
	ID      BatchID
	Kind    WorkKind
	Analysis *AnalysisWork
	Move     *MoveWork

	// PerPlyTimeout bounds how long the engine may spend per position;
	// it is the unit chunk deadlines are computed from (I4).
	PerPlyTimeout time.Duration
}

// IsAnalysis reports whether this is an Analysis work item.
func (w *Work) IsAnalysis() bool { return w.Kind == KindAnalysis }

// IsMove reports whether this is a Move work item.
func (w *Work) IsMove() bool { return w.Kind == KindMove }
