// Package queue implements the scheduler: an actor that owns the
// network-facing acquire loop, and a stub face shared by worker
// tasks for pulling chunks and reporting results.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/lichess-org/fishnet-go/internal/api"
	"github.com/lichess-org/fishnet-go/internal/backoff"
	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/lichess-org/fishnet-go/internal/stats"
)

// RemoteAPI is the subset of api.Client the queue actor depends on,
// narrowed to an interface so tests can substitute a mock.
type RemoteAPI interface {
	Acquire(ctx context.Context, slow bool) api.AcquireResult
	SubmitAnalysis(ctx context.Context, id model.BatchID, flavor model.EvalFlavor, parts []*api.SubmissionPart)
	SubmitMoveAndAcquire(ctx context.Context, id model.BatchID, bestMove *string) *api.AcquireResult
	Abort(ctx context.Context, id model.BatchID)
	Status(ctx context.Context) *api.QueueStatus
}

// BacklogConfig carries the operator-configured minimum backlog
// durations (spec §6.4's user_backlog/system_backlog).
type BacklogConfig struct {
	User   *time.Duration
	System *time.Duration
}

type moveSubmission struct {
	BatchID  model.BatchID
	BestMove *string
}

// ChunkOutcome is what a worker reports back to the queue after
// handing a chunk to an engine: either the per-position responses, or
// a failure that should purge the whole batch.
type ChunkOutcome struct {
	BatchID   model.BatchID
	Responses []model.PositionResponse
	Failed    bool
}

type pullRequest struct {
	ctx   context.Context
	reply chan model.Chunk
}

// Queue is both the stub (cheap, safe for concurrent use by every
// worker) and the actor (a single background goroutine that owns the
// network-facing work loop). Shared state sits behind mu; no I/O
// happens while mu is held.
type Queue struct {
	mu           sync.Mutex
	shutdownSoon bool
	cores        int
	incoming     []model.Chunk
	pending      map[model.BatchID]*model.PendingBatch
	moveSubs     []moveSubmission

	reqCh      chan pullRequest
	moveNotify chan struct{}
	closeCh    chan struct{}
	closeOnce  sync.Once

	api     RemoteAPI
	stats   *stats.Recorder
	backoff *backoff.Backoff
	backlog BacklogConfig

	logger  observability.Logger
	metrics observability.MetricsClient
}

// New builds a queue and starts its actor goroutine.
func New(cores int, api RemoteAPI, statsRecorder *stats.Recorder, maxBackoff time.Duration, backlog BacklogConfig, logger observability.Logger, metrics observability.MetricsClient) *Queue {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	q := &Queue{
		cores:      cores,
		pending:    make(map[model.BatchID]*model.PendingBatch),
		reqCh:      make(chan pullRequest, 4096),
		moveNotify: make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
		api:        api,
		stats:      statsRecorder,
		backoff:    backoff.New(maxBackoff),
		backlog:    backlog,
		logger:     logger,
		metrics:    metrics,
	}
	go q.runActor()
	return q
}

// Pull reports the outcome of the previous chunk (nil on the very
// first call) and blocks until a new chunk is available, the queue
// shuts down, or ctx is canceled.
func (q *Queue) Pull(ctx context.Context, outcome *ChunkOutcome) (model.Chunk, bool) {
	if outcome != nil {
		q.mergeOutcome(outcome)
	}

	q.mu.Lock()
	if chunk, ok := q.popIncomingLocked(); ok {
		q.mu.Unlock()
		return chunk, true
	}
	shutdownSoon := q.shutdownSoon
	q.mu.Unlock()
	if shutdownSoon {
		return model.Chunk{}, false
	}

	req := pullRequest{ctx: ctx, reply: make(chan model.Chunk, 1)}
	select {
	case q.reqCh <- req:
	case <-ctx.Done():
		return model.Chunk{}, false
	case <-q.closeCh:
		return model.Chunk{}, false
	}

	select {
	case chunk := <-req.reply:
		return chunk, true
	case <-ctx.Done():
		return model.Chunk{}, false
	case <-q.closeCh:
		return model.Chunk{}, false
	}
}

// notifyMoveSubmitted wakes the actor so it drains pending move
// submissions before going back to sleep on backoff/backlog.
func (q *Queue) notifyMoveSubmitted() {
	select {
	case q.moveNotify <- struct{}{}:
	default:
	}
}

// ShutdownSoon stops accepting new acquires; in-flight chunks still
// get a chance to finish and report back.
func (q *Queue) ShutdownSoon() {
	q.mu.Lock()
	q.shutdownSoon = true
	q.mu.Unlock()
	q.closeOnce.Do(func() { close(q.closeCh) })
}

// Shutdown calls ShutdownSoon and aborts every still-pending batch on
// the remote.
func (q *Queue) Shutdown(ctx context.Context) {
	q.ShutdownSoon()

	q.mu.Lock()
	ids := make([]model.BatchID, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.pending = make(map[model.BatchID]*model.PendingBatch)
	q.mu.Unlock()

	for _, id := range ids {
		q.api.Abort(ctx, id)
	}
}

// Stats snapshots the throughput estimator and cumulative counters.
func (q *Queue) Stats() stats.Snapshot {
	return q.stats.Snapshot()
}

func (q *Queue) popIncomingLocked() (model.Chunk, bool) {
	if len(q.incoming) == 0 {
		return model.Chunk{}, false
	}
	chunk := q.incoming[0]
	q.incoming = q.incoming[1:]
	return chunk, true
}

// mergeOutcome applies a worker's previous-chunk result to pending
// state. The lock is held only for the bookkeeping; any resulting
// network calls are dispatched afterward.
func (q *Queue) mergeOutcome(outcome *ChunkOutcome) {
	if outcome.Failed {
		q.mu.Lock()
		delete(q.pending, outcome.BatchID)
		filtered := q.incoming[:0]
		for _, c := range q.incoming {
			if c.BatchID() != outcome.BatchID {
				filtered = append(filtered, c)
			}
		}
		q.incoming = filtered
		q.mu.Unlock()
		return
	}

	touched := make(map[model.BatchID]struct{})
	q.mu.Lock()
	for i := range outcome.Responses {
		resp := outcome.Responses[i]
		pb, ok := q.pending[resp.WorkRef]
		if !ok {
			continue
		}
		pb.Merge(&resp)
		touched[resp.WorkRef] = struct{}{}
	}

	var dispatch []func()
	for id := range touched {
		if action := q.maybeFinishedLocked(id); action != nil {
			dispatch = append(dispatch, action)
		}
	}
	depth := len(q.incoming)
	pendingCount := len(q.pending)
	q.mu.Unlock()

	q.metrics.SetGauge("queue_depth", float64(depth), nil)
	q.metrics.SetGauge("pending_batches", float64(pendingCount), nil)

	for _, fn := range dispatch {
		go fn()
	}
}

// maybeFinishedLocked must be called with mu held. It removes a batch
// from pending if every slot is resolved, and returns a (deferred,
// lock-free) action to submit it — or, for move work, updates local
// state directly and returns nil since enqueuing a move submission
// needs no network round trip of its own.
func (q *Queue) maybeFinishedLocked(id model.BatchID) func() {
	pb, ok := q.pending[id]
	if !ok {
		return nil
	}
	if !pb.IsComplete() {
		if !pb.Work.IsAnalysis() || !pb.Work.Analysis.Matrix {
			parts := BuildProgressParts(pb)
			flavor := pb.Flavor.Eval()
			return func() {
				q.api.SubmitAnalysis(context.Background(), id, flavor, parts)
			}
		}
		return nil
	}

	delete(q.pending, id)
	completed := pb.Complete()

	if nps := throughputNPS(completed); nps != nil {
		var nnueNPS *float64
		if completed.Flavor.Eval() == model.Nnue {
			nnueNPS = nps
		}
		q.stats.RecordBatch(countPresent(completed), completed.TotalNodes, nnueNPS)
	}

	if completed.Work.IsMove() {
		best := firstBestMove(completed)
		q.moveSubs = append(q.moveSubs, moveSubmission{BatchID: id, BestMove: best})
		q.notifyMoveSubmitted()
		return nil
	}

	parts := BuildCompletionParts(completed)
	flavor := completed.Flavor.Eval()
	return func() {
		q.api.SubmitAnalysis(context.Background(), id, flavor, parts)
	}
}

func throughputNPS(cb model.CompletedBatch) *float64 {
	if cb.TotalCPUTime <= 0 {
		return nil
	}
	nps := float64(cb.TotalNodes) / cb.TotalCPUTime.Seconds()
	return &nps
}

func countPresent(cb model.CompletedBatch) int {
	n := 0
	for _, s := range cb.Slots {
		if s != nil && s.State == model.SlotPresent {
			n++
		}
	}
	return n
}

func firstBestMove(cb model.CompletedBatch) *string {
	if len(cb.Slots) == 0 || cb.Slots[0] == nil || cb.Slots[0].State != model.SlotPresent {
		return nil
	}
	return cb.Slots[0].Response.BestMove
}

func (q *Queue) addIncoming(batch model.IncomingBatch) {
	q.mu.Lock()
	if _, exists := q.pending[batch.Work.ID]; exists {
		q.mu.Unlock()
		q.logger.Warn("dropping duplicate incoming batch", map[string]interface{}{"batch_id": batch.Work.ID})
		return
	}

	pb := model.NewPendingBatch(batch.Work, batch.URL, batch.Flavor, batch.Variant, batch.NumSlots)
	// Slice leaves server-skipped positions out of every chunk (at most as
	// an index-less context copy), so a slot no chunk indexes is a skip slot.
	covered := make(map[model.PositionIndex]bool, batch.NumSlots)
	for _, chunk := range batch.Chunks {
		for _, pos := range chunk.Positions {
			if pos.Index != nil {
				covered[*pos.Index] = true
			}
		}
		q.incoming = append(q.incoming, chunk)
	}
	for i := 0; i < batch.NumSlots; i++ {
		if !covered[i] {
			pb.MarkSkip(i)
		}
	}
	q.pending[batch.Work.ID] = pb
	depth := len(q.incoming)
	q.mu.Unlock()

	q.metrics.SetGauge("queue_depth", float64(depth), nil)
}

func (q *Queue) handleAcquired(batch api.AcquiredBatch) {
	flavor := flavorForVariant(batch.Variant)
	result := Slice(batch.Work, batch.URL, flavor, batch.Variant, batch.RootFEN, batch.Moves, batch.SkipPositions)

	if result.AllSkipped != nil {
		parts := BuildCompletionParts(*result.AllSkipped)
		evalFlavor := flavor.Eval()
		id := result.AllSkipped.Work.ID
		go q.api.SubmitAnalysis(context.Background(), id, evalFlavor, parts)
		return
	}
	q.addIncoming(*result.Incoming)
}

func (q *Queue) runActor() {
	for {
		select {
		case req := <-q.reqCh:
			q.servicePull(req)
		case <-q.moveNotify:
			q.drainMoveSubmissions(context.Background())
		case <-q.closeCh:
			return
		}
	}
}

func (q *Queue) drainMoveSubmissions(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.shutdownSoon || len(q.moveSubs) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.moveSubs[0]
		q.moveSubs = q.moveSubs[1:]
		q.mu.Unlock()

		result := q.api.SubmitMoveAndAcquire(ctx, next.BatchID, next.BestMove)
		if result != nil && result.Outcome == api.Accepted {
			q.handleAcquired(*result.Batch)
		}
	}
}

func (q *Queue) servicePull(req pullRequest) {
	for {
		q.drainMoveSubmissions(req.ctx)

		q.mu.Lock()
		if chunk, ok := q.popIncomingLocked(); ok {
			q.mu.Unlock()
			select {
			case req.reply <- chunk:
			default:
			}
			return
		}
		shutdownSoon := q.shutdownSoon
		q.mu.Unlock()
		if shutdownSoon {
			return
		}

		if req.ctx.Err() != nil {
			return
		}

		wait, slow := q.backlogWaitTime(req.ctx)
		if wait >= time.Second {
			if wait >= 40*time.Second {
				q.logger.Info("going idle", map[string]interface{}{"wait": wait.String()})
			} else {
				q.logger.Debug("going idle", map[string]interface{}{"wait": wait.String()})
			}
			select {
			case <-req.ctx.Done():
				return
			case <-q.moveNotify:
				q.drainMoveSubmissions(req.ctx)
				continue
			case <-time.After(wait):
				continue
			}
		}

		result := q.api.Acquire(req.ctx, slow)
		switch result.Outcome {
		case api.Accepted:
			q.backoff.Reset()
			q.handleAcquired(*result.Batch)
		case api.NoContent:
			delay := q.backoff.Next()
			q.logger.Debug("no job received, backing off", map[string]interface{}{"delay": delay.String()})
			select {
			case <-req.ctx.Done():
				return
			case <-time.After(delay):
			}
		case api.Rejected:
			q.logger.Error("client rejected by remote, stopping queue", nil)
			q.ShutdownSoon()
			return
		}
	}
}

func (q *Queue) backlogWaitTime(ctx context.Context) (time.Duration, bool) {
	userBacklog := q.stats.MinUserBacklog()
	if q.backlog.User != nil && *q.backlog.User > userBacklog {
		userBacklog = *q.backlog.User
	}
	var systemBacklog time.Duration
	if q.backlog.System != nil {
		systemBacklog = *q.backlog.System
	}

	if userBacklog < time.Second && systemBacklog < time.Second {
		return 0, false
	}

	status := q.api.Status(ctx)
	if status == nil {
		slow := userBacklog >= systemBacklog+time.Second
		return 0, slow
	}

	userWait := clampNonNegative(userBacklog - status.UserOldest)
	systemWait := clampNonNegative(systemBacklog - status.SystemOldest)
	slow := userWait >= systemWait+time.Second

	wait := userWait
	if systemWait < wait {
		wait = systemWait
	}
	return wait, slow
}

func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
