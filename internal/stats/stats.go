// Package stats maintains the rolling throughput estimate used to
// decide when this client should accept low-priority work, and
// persists cumulative lifetime counters to a user-writable file.
package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lichess-org/fishnet-go/internal/observability"
)

const (
	initialNPS         = 300_000.0
	initialUncertainty = 1.0
	smoothingAlpha     = 0.9

	estimatedNodesPerBatch = 60.0 * 1_450_000.0
	maxEstimatedSeconds    = 420.0
	backlogSlack           = 35 * time.Second
)

// Counters are the cumulative lifetime totals persisted to disk.
type Counters struct {
	TotalBatches   uint64 `json:"total_batches"`
	TotalPositions uint64 `json:"total_positions"`
	TotalNodes     uint64 `json:"total_nodes"`
}

// Snapshot is a point-in-time read of the recorder's state.
type Snapshot struct {
	Counters    Counters
	NPS         float64
	Uncertainty float64
}

// Recorder tracks cumulative counters and a smoothed NNUE nodes/sec
// estimate, persisting the counters to a JSON file on every update.
//
// It never fails the caller: a file it cannot open or write degrades
// to in-memory-only operation with a single logged warning.
type Recorder struct {
	mu     sync.Mutex
	path   string
	cores  int
	logger observability.Logger
	metrics observability.MetricsClient

	counters    Counters
	nps         float64
	uncertainty float64
	warnedOnce  bool
}

// New creates a Recorder that persists to path (empty disables
// persistence) and sizes its backlog estimate for the given core count.
func New(path string, cores int, logger observability.Logger, metrics observability.MetricsClient) *Recorder {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if cores < 1 {
		cores = 1
	}
	r := &Recorder{
		path:        path,
		cores:       cores,
		logger:      logger,
		metrics:     metrics,
		nps:         initialNPS,
		uncertainty: initialUncertainty,
	}
	r.load()
	return r
}

// load reads a pre-existing stats file, if any. A missing or empty
// file means "start fresh"; a malformed file means "reset and warn".
func (r *Recorder) load() {
	if r.path == "" {
		return
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("could not read stats file, starting fresh", map[string]interface{}{"path": r.path, "error": err.Error()})
		}
		return
	}
	if len(data) == 0 {
		return
	}
	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		r.logger.Warn("stats file malformed, resetting counters", map[string]interface{}{"path": r.path, "error": err.Error()})
		return
	}
	r.counters = c
}

// RecordBatch folds a completed batch's totals into the cumulative
// counters and, if nnueNPS is non-nil, updates the smoothed throughput
// estimate with exponential smoothing (alpha=0.9).
func (r *Recorder) RecordBatch(positions int, nodes uint64, nnueNPS *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters.TotalBatches++
	r.counters.TotalPositions += uint64(positions)
	r.counters.TotalNodes += nodes

	if nnueNPS != nil {
		r.nps = smoothingAlpha*r.nps + (1-smoothingAlpha)*(*nnueNPS)
		r.uncertainty *= smoothingAlpha
	}

	r.metrics.SetGauge("nps_estimate", r.nps, nil)
	r.persistLocked()
}

// Snapshot returns a copy of the recorder's current state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Counters: r.counters, NPS: r.nps, Uncertainty: r.uncertainty}
}

// MinUserBacklog returns the minimum server-queue age at which this
// client should still accept high-priority work: slow clients refuse
// fresh work unless the remote queue is already aging.
func (r *Recorder) MinUserBacklog() time.Duration {
	r.mu.Lock()
	nps := r.nps
	cores := r.cores
	r.mu.Unlock()

	if nps < 1 {
		nps = 1
	}
	estimatedBatchSeconds := estimatedNodesPerBatch / float64(cores) / nps
	if estimatedBatchSeconds > maxEstimatedSeconds {
		estimatedBatchSeconds = maxEstimatedSeconds
	}

	backlog := time.Duration(estimatedBatchSeconds*float64(time.Second)) - backlogSlack
	if backlog < 0 {
		backlog = 0
	}
	return backlog
}

// persistLocked writes the counters to disk. Caller must hold r.mu.
func (r *Recorder) persistLocked() {
	if r.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.warnPersistFailure(err)
		return
	}
	data, err := json.Marshal(r.counters)
	if err != nil {
		r.warnPersistFailure(err)
		return
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		r.warnPersistFailure(err)
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		r.warnPersistFailure(err)
	}
}

func (r *Recorder) warnPersistFailure(err error) {
	if r.warnedOnce {
		return
	}
	r.warnedOnce = true
	r.logger.Warn("stats persistence failed, continuing in-memory", map[string]interface{}{"path": r.path, "error": err.Error()})
}

// DefaultPath returns the conventional stats file location under the
// user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fishnet", "fishnet.json")
}
