package model

import "time"

// MatrixKey indexes an engine's running exploration state by the
// multi-pv line and the search depth at which a value was reported.
type MatrixKey struct {
	MultiPV int
	Depth   int
}

// PositionResponse is what a chunk run produces for one position.
type PositionResponse struct {
	WorkRef       BatchID
	PositionIndex *PositionIndex

	BestMove *string

	// ScoresMatrix/PVMatrix are indexed by (multipv, depth) so a
	// caller requesting "matrix mode" sees the whole exploration;
	// ToBestView collapses them to the deepest completed depth per line.
	ScoresMatrix map[MatrixKey]Score
	PVMatrix     map[MatrixKey][]string

	Depth int
	Nodes uint64
	Time  time.Duration
	NPS   *uint64
}

// BestLine is the single-line reduction of a matrix entry.
type BestLine struct {
	Score Score
	PV    []string
	Depth int
}

// ToBestView reduces the matrix to the deepest completed depth per
// multipv line, per the "to_best()" rule in the design notes.
func (r *PositionResponse) ToBestView() map[int]BestLine {
	best := make(map[int]BestLine)
	for key, score := range r.ScoresMatrix {
		cur, ok := best[key.MultiPV]
		if !ok || key.Depth > cur.Depth {
			best[key.MultiPV] = BestLine{
				Score: score,
				PV:    r.PVMatrix[key],
				Depth: key.Depth,
			}
		}
	}
	return best
}

// PrimaryLine returns the multipv=1 best-view line, the "scalar
// summary" used for non-matrix submissions.
func (r *PositionResponse) PrimaryLine() (BestLine, bool) {
	line, ok := r.ToBestView()[1]
	return line, ok
}
