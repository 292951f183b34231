package api

// engineIdentity is sent on every request so the remote can attribute
// load and enforce version gating.
type engineIdentity struct {
	Version string `json:"version"`
	APIKey  string `json:"apikey"`
}

type engineOptions struct {
	Name    string `json:"name"`
	Options struct {
		Hash    int `json:"hash"`
		Threads int `json:"threads"`
	} `json:"options"`
}

// acquireRequest is the POST /acquire body.
type acquireRequest struct {
	Fishnet   engineIdentity `json:"fishnet"`
	Stockfish engineOptions  `json:"stockfish"`
}

type clockBody struct {
	WTimeMs int `json:"wtime"`
	BTimeMs int `json:"btime"`
	WIncMs  int `json:"winc"`
	BIncMs  int `json:"binc"`
}

type workBody struct {
	Type    string         `json:"type"` // "analysis" | "move"
	ID      string         `json:"id"`
	Nodes   map[string]uint64 `json:"nodes,omitempty"`
	Depth   *int           `json:"depth,omitempty"`
	MultiPV int            `json:"multipv"`
	Matrix  bool           `json:"matrix,omitempty"`
	Level   int            `json:"level,omitempty"`
	Clock   *clockBody     `json:"clock,omitempty"`
}

// acquireResponseBody is the 200 body for POST /acquire and the
// "next work" body piggybacked on POST /move/{id}.
type acquireResponseBody struct {
	Work          workBody `json:"work"`
	GameID        string   `json:"game_id"`
	Position      string   `json:"position"`
	Variant       string   `json:"variant"`
	Moves         string   `json:"moves"`
	SkipPositions []int    `json:"skipPositions,omitempty"`
	GameURL       *string  `json:"game_url,omitempty"`
}

type scoreBody struct {
	Cp   *int `json:"cp,omitempty"`
	Mate *int `json:"mate,omitempty"`
}

// analysisPart is one slot of the POST /analysis/{id} submission:
// either a skip marker, a progress blank, or a scored result.
type analysisPart struct {
	Skipped bool       `json:"skipped,omitempty"`
	PV      []string   `json:"pv,omitempty"`
	Depth   int        `json:"depth,omitempty"`
	Score   *scoreBody `json:"score,omitempty"`
	TimeMs  *int       `json:"time,omitempty"`
	Nodes   *uint64    `json:"nodes,omitempty"`
	NPS     *uint64    `json:"nps,omitempty"`

	// Matrix carries the full (multipv, depth) exploration
	// when the originating work requested matrix mode.
	Matrix []matrixEntry `json:"matrix,omitempty"`
}

type matrixEntry struct {
	MultiPV int        `json:"multipv"`
	Depth   int        `json:"depth"`
	Score   *scoreBody `json:"score,omitempty"`
	PV      []string   `json:"pv,omitempty"`
}

type submitAnalysisRequest struct {
	Fishnet   engineIdentity  `json:"fishnet"`
	Stockfish engineOptions   `json:"stockfish"`
	Analysis  []*analysisPart `json:"analysis"`
}

type moveResultBody struct {
	BestMove *string `json:"bestmove"`
}

type submitMoveRequest struct {
	Fishnet   engineIdentity `json:"fishnet"`
	Stockfish engineOptions  `json:"stockfish"`
	Move      moveResultBody `json:"move"`
}

// QueueLane is one lane's (user or system) queue age summary.
type QueueLane struct {
	Acquired int     `json:"acquired"`
	Queued   int     `json:"queued"`
	OldestS  float64 `json:"oldest"`
}

type statusBody struct {
	Analysis struct {
		User   QueueLane `json:"user"`
		System QueueLane `json:"system"`
	} `json:"analysis"`
}
