package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/lichess-org/fishnet-go/internal/model"
)

// SubmissionPart is one analysis slot ready to submit, expressed in
// domain types rather than the wire's ad-hoc JSON shape.
type SubmissionPart struct {
	Skipped bool
	PV      []string
	Depth   int
	Score   *model.Score
	Time    time.Duration
	Nodes   *uint64
	NPS     *uint64
	Matrix  []MatrixEntry
}

// MatrixEntry is one (multipv, depth) cell of a matrix-mode submission.
type MatrixEntry struct {
	MultiPV int
	Depth   int
	Score   model.Score
	PV      []string
}

func encodeScore(s *model.Score) *scoreBody {
	if s == nil {
		return nil
	}
	b := &scoreBody{}
	switch s.Kind {
	case model.Mate:
		v := s.Value
		b.Mate = &v
	default:
		v := s.Value
		b.Cp = &v
	}
	return b
}

// encodeParts mirrors progress_report/into_analysis: a nil entry
// marshals to JSON null, which the remote distinguishes from a filled
// slot (used to mark an intentionally blank progress-report position).
func encodeParts(parts []*SubmissionPart) []*analysisPart {
	out := make([]*analysisPart, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			out = append(out, nil)
			continue
		}
		if p.Skipped {
			out = append(out, &analysisPart{Skipped: true})
			continue
		}
		ap := &analysisPart{
			PV:    p.PV,
			Depth: p.Depth,
			Score: encodeScore(p.Score),
			Nodes: p.Nodes,
			NPS:   p.NPS,
		}
		if p.Time > 0 {
			ms := int(p.Time / time.Millisecond)
			ap.TimeMs = &ms
		}
		for _, m := range p.Matrix {
			ap.Matrix = append(ap.Matrix, matrixEntry{
				MultiPV: m.MultiPV,
				Depth:   m.Depth,
				Score:   encodeScore(&m.Score),
				PV:      m.PV,
			})
		}
		out = append(out, ap)
	}
	return out
}

func decodeAcquired(body acquireResponseBody) (*AcquiredBatch, error) {
	work, err := decodeWork(body.Work)
	if err != nil {
		return nil, err
	}

	skip := make(map[int]bool, len(body.SkipPositions))
	for _, i := range body.SkipPositions {
		skip[i] = true
	}

	var moves []string
	if strings.TrimSpace(body.Moves) != "" {
		moves = strings.Fields(body.Moves)
	}

	return &AcquiredBatch{
		Work:          work,
		URL:           body.GameURL,
		Variant:       body.Variant,
		RootFEN:       body.Position,
		Moves:         moves,
		SkipPositions: skip,
	}, nil
}

func decodeWork(w workBody) (model.Work, error) {
	switch w.Type {
	case "analysis":
		budget := make(map[model.EvalFlavor]uint64, len(w.Nodes))
		for k, v := range w.Nodes {
			switch k {
			case "nnue":
				budget[model.Nnue] = v
			case "hce", "classical":
				budget[model.Hce] = v
			default:
				return model.Work{}, fmt.Errorf("unknown eval flavor in nodes map: %q", k)
			}
		}
		return model.Work{
			ID:   model.BatchID(w.ID),
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: budget,
				Depth:      w.Depth,
				MultiPV:    maxInt(w.MultiPV, 1),
				Matrix:     w.Matrix,
			},
			PerPlyTimeout: model.AnalysisPerPlyTimeout,
		}, nil
	case "move":
		var clock *model.Clock
		if w.Clock != nil {
			clock = &model.Clock{
				WTime: time.Duration(w.Clock.WTimeMs) * time.Millisecond,
				BTime: time.Duration(w.Clock.BTimeMs) * time.Millisecond,
				WInc:  time.Duration(w.Clock.WIncMs) * time.Millisecond,
				BInc:  time.Duration(w.Clock.BIncMs) * time.Millisecond,
			}
		}
		return model.Work{
			ID:   model.BatchID(w.ID),
			Kind: model.KindMove,
			Move: &model.MoveWork{
				SkillLevel: w.Level,
				Clock:      clock,
				MultiPV:    maxInt(w.MultiPV, 1),
			},
			PerPlyTimeout: model.LevelTime(w.Level) + model.MoveTimeoutBuffer,
		}, nil
	default:
		return model.Work{}, fmt.Errorf("unknown work type %q", w.Type)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
