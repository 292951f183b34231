package model

// PositionIndex is a position's zero-based offset within its batch.
type PositionIndex = int

// Position is a board state to evaluate: a root FEN plus the moves
// applied to reach it, in canonical notation.
type Position struct {
	RootFEN string
	Moves   []string

	// Skip marks a position the server already told us to skip.
	Skip bool

	// Index is nil for context positions prepended to preserve hash
	// warmth across a skip gap (see queue.Slice); their
	// responses, if any, are discarded.
	Index *PositionIndex

	Work *Work

	// URL is an optional reference to the originating game/study, used
	// only for logging.
	URL *string
}

// WithIndex returns a copy of p carrying the given index.
func (p Position) WithIndex(i PositionIndex) Position {
	idx := i
	p.Index = &idx
	return p
}

// AsContext returns a copy of p with no index, marking it a
// hash-warming context position whose response must be discarded.
func (p Position) AsContext() Position {
	p.Index = nil
	return p
}
