package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/lichess-org/fishnet-go/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePuller hands out a fixed sequence of chunks, recording the
// outcome it was given for each pull after the first.
type fakePuller struct {
	mu       sync.Mutex
	chunks   []model.Chunk
	outcomes []*queue.ChunkOutcome
}

func (f *fakePuller) Pull(ctx context.Context, outcome *queue.ChunkOutcome) (model.Chunk, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	if len(f.chunks) == 0 {
		return model.Chunk{}, false
	}
	next := f.chunks[0]
	f.chunks = f.chunks[1:]
	return next, true
}

func chunkFor(id string, flavor model.EngineFlavor) model.Chunk {
	work := model.Work{ID: model.BatchID(id), Kind: model.KindMove, Move: &model.MoveWork{MultiPV: 1}}
	idx := 0
	return model.Chunk{
		Work:      &work,
		Flavor:    flavor,
		Positions: []model.Position{{RootFEN: "startpos", Index: &idx}},
	}
}

type fakeEngineActor struct {
	submit func(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error)
	closed bool
}

func (f *fakeEngineActor) Submit(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error) {
	return f.submit(ctx, chunk)
}

func (f *fakeEngineActor) Close() { f.closed = true }

func TestRun_FeedsChunkOutcomeIntoNextPull(t *testing.T) {
	puller := &fakePuller{chunks: []model.Chunk{chunkFor("A", model.Official)}}
	spawned := &fakeEngineActor{submit: func(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error) {
		return []model.PositionResponse{{WorkRef: chunk.BatchID()}}, nil
	}}

	w := newForTest(0, puller, func(model.EngineFlavor) (EngineActor, error) {
		return spawned, nil
	}, observability.NewNoopLogger(), observability.NewNoopMetrics(), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx)

	require.Len(t, puller.outcomes, 2)
	assert.Nil(t, puller.outcomes[0])
	require.NotNil(t, puller.outcomes[1])
	assert.Equal(t, model.BatchID("A"), puller.outcomes[1].BatchID)
	assert.False(t, puller.outcomes[1].Failed)
	assert.True(t, spawned.closed, "engine actor must be closed once the worker stops")
}

func TestRun_EngineFailureReportsFailedOutcomeAndRespawns(t *testing.T) {
	puller := &fakePuller{chunks: []model.Chunk{chunkFor("A", model.Official), chunkFor("B", model.Official)}}

	spawnCount := 0
	var spawnedActors []*fakeEngineActor
	spawner := func(model.EngineFlavor) (EngineActor, error) {
		spawnCount++
		a := &fakeEngineActor{submit: func(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error) {
			if chunk.BatchID() == "A" {
				return nil, assert.AnError
			}
			return []model.PositionResponse{{WorkRef: chunk.BatchID()}}, nil
		}}
		spawnedActors = append(spawnedActors, a)
		return a, nil
	}

	w := newForTest(0, puller, spawner, observability.NewNoopLogger(), observability.NewNoopMetrics(), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx)

	assert.Equal(t, 2, spawnCount, "a fresh engine actor must be spawned after the failed chunk")
	require.Len(t, puller.outcomes, 3)
	require.NotNil(t, puller.outcomes[1])
	assert.True(t, puller.outcomes[1].Failed)
	assert.Equal(t, model.BatchID("A"), puller.outcomes[1].BatchID)
	require.NotNil(t, puller.outcomes[2])
	assert.False(t, puller.outcomes[2].Failed)
	for _, a := range spawnedActors {
		assert.True(t, a.closed)
	}
}

func TestRun_FlavorSwitchClosesAndRespawnsEngine(t *testing.T) {
	puller := &fakePuller{chunks: []model.Chunk{
		chunkFor("A", model.Official),
		chunkFor("B", model.MultiVariant),
	}}

	var spawnedFlavors []model.EngineFlavor
	var actors []*fakeEngineActor
	spawner := func(flavor model.EngineFlavor) (EngineActor, error) {
		spawnedFlavors = append(spawnedFlavors, flavor)
		a := &fakeEngineActor{submit: func(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error) {
			return []model.PositionResponse{{WorkRef: chunk.BatchID()}}, nil
		}}
		actors = append(actors, a)
		return a, nil
	}

	w := newForTest(0, puller, spawner, observability.NewNoopLogger(), observability.NewNoopMetrics(), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx)

	require.Equal(t, []model.EngineFlavor{model.Official, model.MultiVariant}, spawnedFlavors)
	require.Len(t, actors, 2)
	assert.True(t, actors[0].closed, "switching flavor must close the previous engine actor")
}

func TestRun_SpawnFailureGivesUpWithoutPullingFurther(t *testing.T) {
	puller := &fakePuller{chunks: []model.Chunk{chunkFor("A", model.Official), chunkFor("B", model.Official)}}
	spawner := func(model.EngineFlavor) (EngineActor, error) {
		return nil, assert.AnError
	}

	w := newForTest(0, puller, spawner, observability.NewNoopLogger(), observability.NewNoopMetrics(), 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Run(ctx)

	assert.Len(t, puller.outcomes, 1, "worker must give up after the first chunk's engine never spawns")
}
