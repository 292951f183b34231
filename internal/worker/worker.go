// Package worker runs the per-core loop that pulls chunks from the
// queue and hands them to a lazily-spawned, crash-respawned engine
// actor.
package worker

import (
	"context"
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v4"

	"github.com/lichess-org/fishnet-go/internal/engine"
	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/lichess-org/fishnet-go/internal/queue"
)

// Puller is the subset of *queue.Queue a worker depends on, narrowed
// to an interface so tests can substitute a fake.
type Puller interface {
	Pull(ctx context.Context, outcome *queue.ChunkOutcome) (model.Chunk, bool)
}

// EngineSpawner builds a fresh engine actor for the given flavor;
// tests substitute a fake.
type EngineSpawner func(flavor model.EngineFlavor) (EngineActor, error)

// EngineActor is the subset of *engine.Actor a worker drives;
// *engine.Actor satisfies it.
type EngineActor interface {
	Submit(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error)
	Close()
}

// Worker owns one engine slot: it repeatedly pulls a chunk, feeds it
// to an engine actor spawned lazily and respawned after a crash, and
// reports the outcome back into the next pull.
type Worker struct {
	id      int
	queue   Puller
	spawn   EngineSpawner
	logger  observability.Logger
	metrics observability.MetricsClient

	maxRespawnWait time.Duration
}

// New builds a Worker. opts.Path/VariantPath select the
// binaries the spawned engine.Actor runs.
func New(id int, q Puller, opts engine.Options, maxRespawnWait time.Duration) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Worker{
		id:      id,
		queue:   q,
		logger:  logger,
		metrics: metrics,
		spawn: func(flavor model.EngineFlavor) (EngineActor, error) {
			return engine.Spawn(opts, flavor)
		},
		maxRespawnWait: maxRespawnWait,
	}
}

// newForTest lets tests inject a fake spawner while keeping the
// respawn/flavor-switch logic under test.
func newForTest(id int, q Puller, spawn EngineSpawner, logger observability.Logger, metrics observability.MetricsClient, maxRespawnWait time.Duration) *Worker {
	return &Worker{id: id, queue: q, spawn: spawn, logger: logger, metrics: metrics, maxRespawnWait: maxRespawnWait}
}

// Run pulls and executes chunks until ctx is canceled or the queue
// stops handing out work. The current engine actor, if any, is closed
// on return.
func (w *Worker) Run(ctx context.Context) {
	var current EngineActor
	var currentFlavor model.EngineFlavor
	haveCurrent := false
	defer func() {
		if haveCurrent {
			current.Close()
		}
	}()

	var outcome *queue.ChunkOutcome
	for {
		chunk, ok := w.queue.Pull(ctx, outcome)
		if !ok {
			return
		}

		if !haveCurrent || currentFlavor != chunk.Flavor {
			if haveCurrent {
				current.Close()
			}
			actor, err := w.spawnWithRespawn(ctx, chunk.Flavor)
			if err != nil {
				w.logger.Error("giving up on engine slot", map[string]interface{}{"worker": w.id, "error": err.Error()})
				return
			}
			current = actor
			currentFlavor = chunk.Flavor
			haveCurrent = true
		}

		responses, err := current.Submit(ctx, chunk)
		if err != nil {
			w.logger.Warn("chunk failed", map[string]interface{}{"worker": w.id, "batch_id": string(chunk.BatchID()), "error": err.Error()})
			w.metrics.IncCounter("chunks_total", map[string]string{"result": "failed"})
			current.Close()
			haveCurrent = false
			outcome = &queue.ChunkOutcome{BatchID: chunk.BatchID(), Failed: true}
			continue
		}

		w.metrics.IncCounter("chunks_total", map[string]string{"result": "ok"})
		outcome = &queue.ChunkOutcome{BatchID: chunk.BatchID(), Responses: responses}
	}
}

// spawnWithRespawn retries engine.Spawn with cenkalti/backoff's
// exponential strategy, since a failed spawn here is usually a
// transient exec/pipe error rather than a permanent misconfiguration.
func (w *Worker) spawnWithRespawn(ctx context.Context, flavor model.EngineFlavor) (EngineActor, error) {
	exp := cenkaltibackoff.NewExponentialBackOff()
	if w.maxRespawnWait > 0 {
		exp.MaxElapsedTime = w.maxRespawnWait
	}
	bo := cenkaltibackoff.WithContext(exp, ctx)

	var actor EngineActor
	operation := func() error {
		a, err := w.spawn(flavor)
		if err != nil {
			w.logger.Warn("engine spawn failed, retrying", map[string]interface{}{"worker": w.id, "error": err.Error()})
			return err
		}
		actor = a
		return nil
	}

	if err := cenkaltibackoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return actor, nil
}
