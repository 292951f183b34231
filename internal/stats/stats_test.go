package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBatch_CountersIncreaseMonotonically(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "stats.json"), 4, observability.NewNoopLogger(), observability.NewNoopMetrics())

	before := r.Snapshot().Counters
	nps := 400_000.0
	r.RecordBatch(8, 12_000, &nps)
	after := r.Snapshot().Counters

	assert.Equal(t, before.TotalBatches+1, after.TotalBatches)
	assert.Equal(t, before.TotalPositions+8, after.TotalPositions)
	assert.Equal(t, before.TotalNodes+12_000, after.TotalNodes)
}

func TestRecordBatch_NPSStaysBetweenSeedAndSamples(t *testing.T) {
	r := New("", 4, observability.NewNoopLogger(), observability.NewNoopMetrics())

	low := 100_000.0
	high := 900_000.0
	for i := 0; i < 20; i++ {
		r.RecordBatch(1, 1000, &low)
		r.RecordBatch(1, 1000, &high)
	}

	nps := r.Snapshot().NPS
	assert.True(t, nps >= low && nps <= 900_000.0+1)
	assert.True(t, nps >= math.Min(initialNPS, low) && nps <= math.Max(initialNPS, high)+1)
}

func TestMinUserBacklog_SlowClientClampsAndSubtractsSlack(t *testing.T) {
	r := New("", 1, observability.NewNoopLogger(), observability.NewNoopMetrics())
	nps := 150_000.0
	r.RecordBatch(1, 1, &nps)
	// Smoothing means we won't hit exactly 150_000 after one sample;
	// force it directly via repeated sampling so it converges.
	for i := 0; i < 200; i++ {
		r.RecordBatch(1, 1, &nps)
	}

	backlog := r.MinUserBacklog()
	assert.InDelta(t, 385*float64(time.Second), float64(backlog), float64(5*time.Second))
}

func TestLoad_MissingFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "does-not-exist.json"), 4, observability.NewNoopLogger(), observability.NewNoopMetrics())
	assert.Equal(t, uint64(0), r.Snapshot().Counters.TotalBatches)
}

func TestLoad_MalformedFileResetsAndWarns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	r := New(path, 4, observability.NewNoopLogger(), observability.NewNoopMetrics())
	assert.Equal(t, uint64(0), r.Snapshot().Counters.TotalBatches)
}
