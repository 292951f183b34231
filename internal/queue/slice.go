package queue

import (
	"fmt"
	"time"

	"github.com/lichess-org/fishnet-go/internal/model"
)

// MaxPositionsPerChunk bounds how many positions one engine
// invocation evaluates before handing hash state back to the queue.
const MaxPositionsPerChunk = 6

// SliceResult is the outcome of slicing one acquired batch: either a
// ready-to-run IncomingBatch, or — when every position was marked
// skip by the server — an already-complete batch with nothing to run.
type SliceResult struct {
	Incoming   *model.IncomingBatch
	AllSkipped *model.CompletedBatch
}

// Slice turns an acquired batch body into chunks. Move work always
// becomes exactly one single-position chunk. Analysis work is
// expanded into |moves|+1 positions, analyzed deepest-first so each
// chunk's hash warms in a direction useful to the next, with context
// positions prepended across skip gaps to preserve that warmth.
func Slice(work model.Work, url *string, flavor model.EngineFlavor, variant, rootFEN string, moves []string, skipPositions map[int]bool) SliceResult {
	if work.IsMove() {
		return sliceMove(work, url, flavor, variant, rootFEN, moves)
	}
	return sliceAnalysis(work, url, flavor, variant, rootFEN, moves, skipPositions)
}

func sliceMove(work model.Work, url *string, flavor model.EngineFlavor, variant, rootFEN string, moves []string) SliceResult {
	idx := 0
	chunk := model.Chunk{
		Work:     &work,
		Flavor:   flavor,
		Variant:  variant,
		Deadline: time.Now().Add(work.PerPlyTimeout),
		Positions: []model.Position{
			{RootFEN: rootFEN, Moves: moves, Index: &idx, URL: url},
		},
	}
	return SliceResult{Incoming: &model.IncomingBatch{
		Work: work, URL: url, Flavor: flavor, Variant: variant,
		Chunks: []model.Chunk{chunk}, NumSlots: 1,
	}}
}

func sliceAnalysis(work model.Work, url *string, flavor model.EngineFlavor, variant, rootFEN string, moves []string, skipPositions map[int]bool) SliceResult {
	numPositions := len(moves) + 1
	deadline := time.Now().Add(work.PerPlyTimeout * time.Duration(numPositions))

	positions := make([]model.Position, numPositions)
	cursor := make([]string, 0, len(moves))
	idx0 := 0
	positions[0] = model.Position{
		RootFEN: rootFEN,
		Skip:    skipPositions[0],
		Index:   &idx0,
		URL:     withFragment(url, 0),
	}
	for i, m := range moves {
		cursor = append(cursor, m)
		idx := i + 1
		positions[idx] = model.Position{
			RootFEN: rootFEN,
			Moves:   append([]string(nil), cursor...),
			Skip:    skipPositions[idx],
			Index:   intPtr(idx),
			URL:     withFragment(url, idx),
		}
	}

	// Backwards analysis: the deepest position warms the hash for the
	// shallower positions that follow it in this order.
	reverse(positions)

	type pair struct {
		prev    *model.Position
		current model.Position
	}
	pairs := make([]pair, len(positions))
	var prevCtx *model.Position
	for i, p := range positions {
		pairs[i] = pair{prev: prevCtx, current: p}
		ctx := p.AsContext()
		prevCtx = &ctx
	}

	perGroup := MaxPositionsPerChunk - 1
	if perGroup < 1 {
		perGroup = 1
	}

	var chunks []model.Chunk
	for start := 0; start < len(pairs); start += perGroup {
		end := start + perGroup
		if end > len(pairs) {
			end = len(pairs)
		}
		var chunkPositions []model.Position
		for _, pr := range pairs[start:end] {
			if pr.current.Skip {
				continue
			}
			if pr.prev != nil && (pr.prev.Skip || len(chunkPositions) == 0) {
				chunkPositions = append(chunkPositions, *pr.prev)
			}
			chunkPositions = append(chunkPositions, pr.current)
		}
		if len(chunkPositions) > 0 {
			chunks = append(chunks, model.Chunk{
				Work: &work, Flavor: flavor, Variant: variant,
				Deadline: deadline, Positions: chunkPositions,
			})
		}
	}

	if len(chunks) == 0 {
		slots := make([]*model.Slot, numPositions)
		for i := range slots {
			slots[i] = &model.Slot{State: model.SlotSkip}
		}
		return SliceResult{AllSkipped: &model.CompletedBatch{
			Work: work, URL: url, Flavor: flavor, Variant: variant,
			Slots: slots,
		}}
	}

	return SliceResult{Incoming: &model.IncomingBatch{
		Work: work, URL: url, Flavor: flavor, Variant: variant,
		Chunks: chunks, NumSlots: numPositions,
	}}
}

func reverse(p []model.Position) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}

func intPtr(i int) *int { return &i }

func withFragment(url *string, idx int) *string {
	if url == nil {
		return nil
	}
	s := fmt.Sprintf("%s#%d", *url, idx)
	return &s
}
