package queue

import (
	"context"
	"testing"
	"time"

	"github.com/lichess-org/fishnet-go/internal/api"
	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/lichess-org/fishnet-go/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Acquire(ctx context.Context, slow bool) api.AcquireResult {
	args := m.Called(ctx, slow)
	return args.Get(0).(api.AcquireResult)
}

func (m *mockAPI) SubmitAnalysis(ctx context.Context, id model.BatchID, flavor model.EvalFlavor, parts []*api.SubmissionPart) {
	m.Called(ctx, id, flavor, parts)
}

func (m *mockAPI) SubmitMoveAndAcquire(ctx context.Context, id model.BatchID, bestMove *string) *api.AcquireResult {
	args := m.Called(ctx, id, bestMove)
	if r, ok := args.Get(0).(*api.AcquireResult); ok {
		return r
	}
	return nil
}

func (m *mockAPI) Abort(ctx context.Context, id model.BatchID) {
	m.Called(ctx, id)
}

func (m *mockAPI) Status(ctx context.Context) *api.QueueStatus {
	args := m.Called(ctx)
	if r, ok := args.Get(0).(*api.QueueStatus); ok {
		return r
	}
	return nil
}

func newTestQueue(t *testing.T, remote RemoteAPI) *Queue {
	recorder := stats.New("", 1, observability.NewNoopLogger(), observability.NewNoopMetrics())
	q := New(1, remote, recorder, 30*time.Second, BacklogConfig{}, observability.NewNoopLogger(), observability.NewNoopMetrics())
	t.Cleanup(q.ShutdownSoon)
	return q
}

func analysisAcquired(id string, moves []string, skip map[int]bool) api.AcquiredBatch {
	return api.AcquiredBatch{
		Work: model.Work{
			ID:   model.BatchID(id),
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: map[model.EvalFlavor]uint64{model.Nnue: 4_000_000},
				MultiPV:    1,
			},
		},
		Variant:       "standard",
		RootFEN:       "startpos",
		Moves:         moves,
		SkipPositions: skip,
	}
}

// Scenario 1: an all-skip analysis batch submits a single
// {skipped:true} part immediately, without ever producing a chunk.
func TestHandleAcquired_AllSkipSubmitsImmediatelyWithNoChunks(t *testing.T) {
	remote := &mockAPI{}
	done := make(chan struct{})
	remote.On("SubmitAnalysis", mock.Anything, model.BatchID("A"), mock.Anything, mock.MatchedBy(func(parts []*api.SubmissionPart) bool {
		return len(parts) == 1 && parts[0] != nil && parts[0].Skipped
	})).Run(func(mock.Arguments) { close(done) }).Return()

	q := newTestQueue(t, remote)
	q.handleAcquired(analysisAcquired("A", nil, map[int]bool{0: true}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubmitAnalysis was never called")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.incoming)
	assert.NotContains(t, q.pending, model.BatchID("A"))
	remote.AssertExpectations(t)
}

// Scenario 2: a single-position move batch, once its one slot fills
// with a bestmove, is queued as a move submission for the actor to
// send via SubmitMoveAndAcquire.
func TestMergeOutcome_MoveBatchQueuesMoveSubmission(t *testing.T) {
	remote := &mockAPI{}
	q := newTestQueue(t, remote)
	// Keep the actor from draining the queued submission before it is inspected.
	q.ShutdownSoon()

	work := model.Work{ID: "M", Kind: model.KindMove, Move: &model.MoveWork{SkillLevel: 5, MultiPV: 1}}
	q.addIncoming(model.IncomingBatch{
		Work:     work,
		Flavor:   model.Official,
		NumSlots: 1,
		Chunks: []model.Chunk{{
			Work:      &work,
			Flavor:    model.Official,
			Positions: []model.Position{(model.Position{RootFEN: "startpos"}).WithIndex(0)},
		}},
	})

	best := "e2e4"
	idx := 0
	q.mergeOutcome(&ChunkOutcome{
		BatchID: "M",
		Responses: []model.PositionResponse{{
			WorkRef:       "M",
			PositionIndex: &idx,
			BestMove:      &best,
		}},
	})

	q.mu.Lock()
	require.Len(t, q.moveSubs, 1)
	assert.Equal(t, model.BatchID("M"), q.moveSubs[0].BatchID)
	require.NotNil(t, q.moveSubs[0].BestMove)
	assert.Equal(t, "e2e4", *q.moveSubs[0].BestMove)
	q.mu.Unlock()
}

// Scenario 3: an 8-position analysis with a skip at index 3 slices
// into two chunks via the queue's own acquire path, and both chunks
// come out through Pull before the batch is complete.
func TestHandleAcquired_ChunkOverlapSurfacesBothChunksThroughPull(t *testing.T) {
	remote := &mockAPI{}
	q := newTestQueue(t, remote)

	moves := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	q.handleAcquired(analysisAcquired("B", moves, map[int]bool{3: true}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, ok := q.Pull(ctx, nil)
	require.True(t, ok)
	second, ok := q.Pull(ctx, &ChunkOutcome{BatchID: first.BatchID()})
	require.True(t, ok)

	assert.Equal(t, model.BatchID("B"), first.BatchID())
	assert.Equal(t, model.BatchID("B"), second.BatchID())
	assert.NotEmpty(t, second.Positions)
	assert.Nil(t, second.Positions[0].Index)
}

// Scenario 4: a failed chunk purges the batch's pending state and any
// remaining queued chunks for it, and never submits anything.
func TestMergeOutcome_FailedChunkPurgesBatchWithoutSubmitting(t *testing.T) {
	remote := &mockAPI{}
	q := newTestQueue(t, remote)

	q.handleAcquired(analysisAcquired("C", []string{"m1", "m2", "m3"}, nil))

	q.mergeOutcome(&ChunkOutcome{BatchID: "C", Failed: true})

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.NotContains(t, q.pending, model.BatchID("C"))
	for _, c := range q.incoming {
		assert.NotEqual(t, model.BatchID("C"), c.BatchID())
	}
	remote.AssertNotCalled(t, "SubmitAnalysis", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Scenario: three consecutive NoContent acquires each wait an
// interruptible, capped backoff delay before retrying.
func TestServicePull_BacksOffOnRepeatedNoContent(t *testing.T) {
	remote := &mockAPI{}
	calls := make(chan struct{}, 10)
	remote.On("Status", mock.Anything).Return((*api.QueueStatus)(nil))
	remote.On("Acquire", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		calls <- struct{}{}
	}).Return(api.AcquireResult{Outcome: api.NoContent})

	recorder := stats.New("", 1, observability.NewNoopLogger(), observability.NewNoopMetrics())
	q := New(1, remote, recorder, 500*time.Millisecond, BacklogConfig{}, observability.NewNoopLogger(), observability.NewNoopMetrics())
	t.Cleanup(q.ShutdownSoon)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pullDone := make(chan bool, 1)
	go func() {
		_, ok := q.Pull(ctx, nil)
		pullDone <- ok
	}()

	seen := 0
	for seen < 3 {
		select {
		case <-calls:
			seen++
		case <-ctx.Done():
			t.Fatal("did not observe three acquire attempts in time")
		}
	}

	cancel()
	select {
	case ok := <-pullDone:
		assert.False(t, ok, "pull should report no chunk once its context is canceled")
	case <-time.After(time.Second):
		t.Fatal("Pull did not return after context cancellation")
	}
}
