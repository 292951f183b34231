package queue

import (
	"sort"

	"github.com/lichess-org/fishnet-go/internal/api"
	"github.com/lichess-org/fishnet-go/internal/model"
)

// BuildCompletionParts turns a fully-filled batch into the submission
// parts for POST /analysis/{id}: one part per slot, matrix or
// scalar-best depending on what the work asked for.
func BuildCompletionParts(cb model.CompletedBatch) []*api.SubmissionPart {
	matrixWanted := cb.Work.IsAnalysis() && cb.Work.Analysis.Matrix

	parts := make([]*api.SubmissionPart, len(cb.Slots))
	for i, s := range cb.Slots {
		if s == nil || s.State != model.SlotPresent {
			parts[i] = &api.SubmissionPart{Skipped: true}
			continue
		}
		if matrixWanted {
			parts[i] = matrixPart(s.Response)
		} else {
			parts[i] = bestViewPart(s.Response)
		}
	}
	return parts
}

// BuildProgressParts reports partial progress on a non-matrix batch:
// index 0 and any not-yet-present slot stay nil (JSON null), which is
// how the remote tells a progress report apart from a completion.
func BuildProgressParts(pending *model.PendingBatch) []*api.SubmissionPart {
	parts := make([]*api.SubmissionPart, pending.NumSlots)
	for i := 0; i < pending.NumSlots; i++ {
		if i == 0 {
			continue
		}
		s, ok := pending.Slots[i]
		if !ok || s.State != model.SlotPresent {
			continue
		}
		parts[i] = bestViewPart(s.Response)
	}
	return parts
}

func bestViewPart(resp *model.PositionResponse) *api.SubmissionPart {
	part := &api.SubmissionPart{
		Depth: resp.Depth,
		Nodes: &resp.Nodes,
		NPS:   resp.NPS,
		Time:  resp.Time,
	}
	if line, ok := resp.PrimaryLine(); ok {
		part.Depth = line.Depth
		part.PV = line.PV
		score := line.Score
		part.Score = &score
	}
	return part
}

func matrixPart(resp *model.PositionResponse) *api.SubmissionPart {
	part := &api.SubmissionPart{
		Depth: resp.Depth,
		Nodes: &resp.Nodes,
		NPS:   resp.NPS,
		Time:  resp.Time,
	}
	for key, line := range resp.ToBestView() {
		part.Matrix = append(part.Matrix, api.MatrixEntry{
			MultiPV: key,
			Depth:   line.Depth,
			Score:   line.Score,
			PV:      line.PV,
		})
	}
	sort.Slice(part.Matrix, func(i, j int) bool {
		if part.Matrix[i].MultiPV != part.Matrix[j].MultiPV {
			return part.Matrix[i].MultiPV < part.Matrix[j].MultiPV
		}
		return part.Matrix[i].Depth < part.Matrix[j].Depth
	})
	return part
}

func flavorForVariant(variant string) model.EngineFlavor {
	switch variant {
	case "", "standard", "chess960", "fromPosition", "from position":
		return model.Official
	default:
		return model.MultiVariant
	}
}
