package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine stands in for a real subprocess: it scans lines written
// to stdinR and, on seeing a "go ..." command, writes the given
// canned response lines to stdoutW. It always answers "isready" with
// "readyok".
func fakeEngine(t *testing.T, stdinR io.Reader, stdoutW io.WriteCloser, goResponse []string) {
	t.Helper()
	go func() {
		sc := bufio.NewScanner(stdinR)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "isready":
				io.WriteString(stdoutW, "readyok\n")
			case strings.HasPrefix(line, "go"):
				for _, r := range goResponse {
					io.WriteString(stdoutW, r+"\n")
				}
			}
		}
	}()
}

func newPipedActor(t *testing.T, goResponse []string) *Actor {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() {
		stdinW.Close()
		stdoutW.Close()
	})

	fakeEngine(t, stdinR, stdoutW, goResponse)

	a := newActor(newConn(stdinW, stdoutR), nil, nil)
	require.NoError(t, a.initialize())
	go a.run()
	t.Cleanup(a.Close)
	return a
}

func intPtr(i int) *int { return &i }

func TestSubmit_AnalysisChunkProducesScoredResponse(t *testing.T) {
	a := newPipedActor(t, []string{
		"info depth 10 multipv 1 score cp 25 nodes 50000 nps 500000 time 100 pv e2e4 e7e5",
		"info depth 12 multipv 1 score cp 30 nodes 90000 nps 520000 time 180 pv e2e4 e7e5 g1f3",
		"bestmove e2e4 ponder e7e5",
	})

	chunk := model.Chunk{
		Flavor: model.Official,
		Work: &model.Work{
			ID:   "batch-1",
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: map[model.EvalFlavor]uint64{model.Nnue: 4_000_000},
				MultiPV:    1,
			},
		},
		Positions: []model.Position{
			{RootFEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", Index: intPtr(0)},
		},
	}

	responses, err := a.Submit(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "e2e4", *responses[0].BestMove)
	assert.Equal(t, 12, responses[0].Depth)
	assert.EqualValues(t, 90000, responses[0].Nodes)
}

func TestSubmit_ContextPositionResponseDiscarded(t *testing.T) {
	a := newPipedActor(t, []string{
		"info depth 8 multipv 1 score cp 10 pv d2d4",
		"bestmove d2d4",
	})

	chunk := model.Chunk{
		Flavor: model.Official,
		Work: &model.Work{
			ID:   "batch-2",
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: map[model.EvalFlavor]uint64{model.Nnue: 1_000_000},
				MultiPV:    1,
			},
		},
		Positions: []model.Position{
			{RootFEN: "startpos", Index: nil}, // context position, discarded
		},
	}

	responses, err := a.Submit(context.Background(), chunk)
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestSubmit_BestmoveWithoutScoreIsProtocolViolation(t *testing.T) {
	a := newPipedActor(t, []string{
		"bestmove e2e4",
	})

	chunk := model.Chunk{
		Flavor: model.Official,
		Work: &model.Work{
			ID:   "batch-3",
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: map[model.EvalFlavor]uint64{model.Nnue: 1_000_000},
				MultiPV:    1,
			},
		},
		Positions: []model.Position{
			{RootFEN: "startpos", Index: intPtr(0)},
		},
	}

	_, err := a.Submit(context.Background(), chunk)
	assert.Error(t, err)
}

func TestSubmit_EngineExitMarksActorDead(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	fakeEngine(t, stdinR, stdoutW, nil)

	a := newActor(newConn(stdinW, stdoutR), nil, nil)
	require.NoError(t, a.initialize())
	go a.run()

	stdoutW.Close() // simulate the subprocess dying mid-chunk
	stdinW.Close()

	chunk := model.Chunk{
		Flavor: model.Official,
		Work: &model.Work{
			ID:   "batch-4",
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: map[model.EvalFlavor]uint64{model.Nnue: 1_000_000},
				MultiPV:    1,
			},
		},
		Positions: []model.Position{{RootFEN: "startpos", Index: intPtr(0)}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := a.Submit(ctx, chunk)
	assert.Error(t, err)

	// Once dead, further submits fail fast.
	_, err = a.Submit(context.Background(), chunk)
	assert.Error(t, err)
}

// recordingEngine answers isready/go like fakeEngine but also hands
// back every line it saw, so a test can assert on the exact UCI
// command sequence sendGo produced.
func recordingEngine(t *testing.T, stdinR io.Reader, stdoutW io.WriteCloser, goResponse []string) <-chan string {
	t.Helper()
	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(stdinR)
		for sc.Scan() {
			line := sc.Text()
			lines <- line
			switch {
			case line == "isready":
				io.WriteString(stdoutW, "readyok\n")
			case strings.HasPrefix(line, "go"):
				for _, r := range goResponse {
					io.WriteString(stdoutW, r+"\n")
				}
			}
		}
	}()
	return lines
}

func drainUntilGo(t *testing.T, lines <-chan string) []string {
	t.Helper()
	var got []string
	for {
		select {
		case l := <-lines:
			got = append(got, l)
			if strings.HasPrefix(l, "go") {
				return got
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a go command")
		}
	}
}

func TestSendGo_MoveSetsAnalyseModeFalseAndDerivesMovetimeFromLevel(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() { stdinW.Close(); stdoutW.Close() })
	lines := recordingEngine(t, stdinR, stdoutW, []string{"bestmove e2e4"})

	a := newActor(newConn(stdinW, stdoutR), nil, nil)
	require.NoError(t, a.initialize())
	go a.run()
	t.Cleanup(a.Close)

	chunk := model.Chunk{
		Flavor: model.Official,
		Work: &model.Work{
			ID:   "move-1",
			Kind: model.KindMove,
			Move: &model.MoveWork{SkillLevel: 8, MultiPV: 1},
		},
		Positions: []model.Position{{RootFEN: "startpos", Index: intPtr(0)}},
	}

	_, err := a.Submit(context.Background(), chunk)
	assert.Error(t, err) // no score line, so this particular fixture reports a protocol violation

	got := drainUntilGo(t, lines)
	require.Contains(t, got, "setoption name UCI_AnalyseMode value false")
	require.Contains(t, got, fmt.Sprintf("setoption name Skill Level value %d", model.LevelSkill(8)))
	assert.Equal(t, fmt.Sprintf("go movetime %d depth %d", model.LevelTime(8).Milliseconds(), model.LevelDepth(8)), got[len(got)-1])
}

func TestSendGo_AnalysisSetsAnalyseModeTrueAndSkillTwenty(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() { stdinW.Close(); stdoutW.Close() })
	lines := recordingEngine(t, stdinR, stdoutW, []string{
		"info depth 10 multipv 1 score cp 25 pv e2e4",
		"bestmove e2e4",
	})

	a := newActor(newConn(stdinW, stdoutR), nil, nil)
	require.NoError(t, a.initialize())
	go a.run()
	t.Cleanup(a.Close)

	chunk := model.Chunk{
		Flavor: model.Official,
		Work: &model.Work{
			ID:   "batch-5",
			Kind: model.KindAnalysis,
			Analysis: &model.AnalysisWork{
				NodeBudget: map[model.EvalFlavor]uint64{model.Nnue: 2_000_000},
				MultiPV:    1,
			},
		},
		Positions: []model.Position{{RootFEN: "startpos", Index: intPtr(0)}},
	}

	_, err := a.Submit(context.Background(), chunk)
	require.NoError(t, err)

	got := drainUntilGo(t, lines)
	require.Contains(t, got, "setoption name UCI_AnalyseMode value true")
	require.Contains(t, got, "setoption name Skill Level value 20")
	assert.Equal(t, "go nodes 2000000", got[len(got)-1])
}
