package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/pkg/errors"
)

// ErrEngineDead is returned by Submit once the actor's subprocess has
// exited; the worker should respawn a new Actor.
var ErrEngineDead = errors.New("engine actor is no longer running")

// errProtocolViolation marks failures that should fail only the
// current chunk, not necessarily the whole subprocess.
var errProtocolViolation = errors.New("engine protocol violation")

// Options configures a spawned engine actor.
type Options struct {
	Path        string
	VariantPath string
	Logger      observability.Logger
	Metrics     observability.MetricsClient
}

type conn struct {
	w  io.Writer
	sc *bufio.Scanner
}

func newConn(w io.Writer, r io.Reader) *conn {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &conn{w: w, sc: sc}
}

func (c *conn) send(line string) error {
	_, err := io.WriteString(c.w, line+"\n")
	return err
}

func (c *conn) readLine() (string, error) {
	if c.sc.Scan() {
		return c.sc.Text(), nil
	}
	if err := c.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type request struct {
	ctx   context.Context
	chunk model.Chunk
	reply chan chunkResult
}

type chunkResult struct {
	responses []model.PositionResponse
	err       error
}

// Actor owns exactly one subprocess and serializes chunk requests
// through a mailbox of capacity 1 — a natural backpressure point.
type Actor struct {
	conn    *conn
	cmd     *exec.Cmd
	mailbox chan request
	quit    chan struct{}
	dead    chan struct{}
	closeOnce sync.Once

	logger  observability.Logger
	metrics observability.MetricsClient
}

// Spawn starts the engine subprocess for the given flavor and runs the
// UCI-style initialization handshake before returning.
func Spawn(opts Options, flavor model.EngineFlavor) (*Actor, error) {
	path := opts.Path
	if flavor == model.MultiVariant && opts.VariantPath != "" {
		path = opts.VariantPath
	}

	cmd := exec.Command(path)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening engine stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening engine stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting engine process")
	}

	a := newActor(newConn(stdin, stdout), opts.Logger, opts.Metrics)
	a.cmd = cmd

	if err := a.initialize(); err != nil {
		a.killAndClose()
		return nil, err
	}
	go a.run()
	return a, nil
}

func newActor(c *conn, logger observability.Logger, metrics observability.MetricsClient) *Actor {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Actor{
		conn:    c,
		mailbox: make(chan request, 1),
		quit:    make(chan struct{}),
		dead:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

func (a *Actor) initialize() error {
	if err := a.conn.send("setoption name UCI_Chess960 value true"); err != nil {
		return errors.Wrap(err, "writing init options")
	}
	if err := a.conn.send("isready"); err != nil {
		return errors.Wrap(err, "writing isready")
	}
	for {
		line, err := a.conn.readLine()
		if err != nil {
			return errors.Wrap(err, "reading init handshake")
		}
		if isReadyOk(line) {
			return nil
		}
		a.logger.Debug("unrecognized engine preamble line", map[string]interface{}{"line": line})
	}
}

// Submit hands a whole chunk to the actor's mailbox and waits for the
// per-position responses. Canceling ctx drops the request between
// positions; it never interrupts a write mid-flight.
func (a *Actor) Submit(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error) {
	reply := make(chan chunkResult, 1)
	select {
	case a.mailbox <- request{ctx: ctx, chunk: chunk, reply: reply}:
	case <-a.dead:
		return nil, ErrEngineDead
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.responses, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.dead:
		return nil, ErrEngineDead
	}
}

// Close stops accepting new chunks and kills the subprocess.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
	})
}

func (a *Actor) run() {
	defer a.killAndClose()
	for {
		select {
		case req, ok := <-a.mailbox:
			if !ok {
				return
			}
			responses, err := a.runChunk(req.ctx, req.chunk)
			select {
			case req.reply <- chunkResult{responses: responses, err: err}:
			default:
			}
			if err != nil && !errors.Is(err, errProtocolViolation) && !errors.Is(err, context.Canceled) {
				a.logger.Warn("engine actor exiting after fatal error", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) killAndClose() {
	if a.cmd != nil && a.cmd.Process != nil {
		killProcessGroup(a.cmd)
	}
	if a.cmd != nil {
		_ = a.cmd.Wait()
	}
	a.closeOnce.Do(func() {
		close(a.quit)
	})
	select {
	case <-a.dead:
	default:
		close(a.dead)
	}
}

func (a *Actor) runChunk(ctx context.Context, chunk model.Chunk) ([]model.PositionResponse, error) {
	if err := a.conn.send("ucinewgame"); err != nil {
		return nil, errors.Wrap(err, "writing ucinewgame")
	}

	nnue := chunk.Flavor.Eval() == model.Nnue
	if err := a.conn.send(fmt.Sprintf("setoption name Use NNUE value %t", nnue)); err != nil {
		return nil, errors.Wrap(err, "writing Use NNUE option")
	}
	if chunk.Flavor == model.MultiVariant && chunk.Variant != "" {
		if err := a.conn.send("setoption name UCI_Variant value " + chunk.Variant); err != nil {
			return nil, errors.Wrap(err, "writing UCI_Variant option")
		}
	}

	multiPV := 1
	if chunk.Work != nil {
		if chunk.Work.IsAnalysis() {
			multiPV = chunk.Work.Analysis.MultiPV
		} else if chunk.Work.IsMove() {
			multiPV = chunk.Work.Move.MultiPV
		}
	}
	if err := a.conn.send(fmt.Sprintf("setoption name MultiPV value %d", multiPV)); err != nil {
		return nil, errors.Wrap(err, "writing MultiPV option")
	}

	var responses []model.PositionResponse
	for _, pos := range chunk.Positions {
		if ctx.Err() != nil {
			return responses, ctx.Err()
		}

		resp, err := a.runPosition(chunk.Work, chunk.Flavor, pos)
		if err != nil {
			return responses, err
		}
		if resp != nil {
			responses = append(responses, *resp)
		}
	}
	return responses, nil
}

func (a *Actor) runPosition(work *model.Work, flavor model.EngineFlavor, pos model.Position) (*model.PositionResponse, error) {
	posCmd := "position fen " + pos.RootFEN
	if len(pos.Moves) > 0 {
		posCmd += " moves " + strings.Join(pos.Moves, " ")
	}
	if err := a.conn.send(posCmd); err != nil {
		return nil, errors.Wrap(err, "writing position command")
	}

	if err := a.sendGo(work, flavor); err != nil {
		return nil, err
	}

	scores := make(map[model.MatrixKey]model.Score)
	pvs := make(map[model.MatrixKey][]string)
	var lastDepth int
	var lastNodes uint64
	var lastNPS *uint64
	var lastTimeMs int
	sawScore := false

	for {
		line, err := a.conn.readLine()
		if err != nil {
			return nil, errors.Wrap(err, "reading engine stdout")
		}

		if isBestmove(line) {
			move, ok := parseBestmove(line)
			if !sawScore {
				return nil, errors.Wrap(errProtocolViolation, "bestmove with no prior score")
			}
			if pos.Index == nil {
				return nil, nil
			}
			var bestMove *string
			if ok {
				bestMove = &move
			}
			return &model.PositionResponse{
				WorkRef:       work.ID,
				PositionIndex: pos.Index,
				BestMove:      bestMove,
				ScoresMatrix:  scores,
				PVMatrix:      pvs,
				Depth:         lastDepth,
				Nodes:         lastNodes,
				Time:          msToDuration(lastTimeMs),
				NPS:           lastNPS,
			}, nil
		}

		u, ok := parseInfo(line)
		if !ok {
			continue
		}
		if u.score != nil {
			sawScore = true
		}
		if u.hasDepth {
			lastDepth = u.depth
		}
		if u.nodes != nil {
			lastNodes = *u.nodes
		}
		if u.nps != nil {
			lastNPS = u.nps
		}
		if u.timeMs != nil {
			lastTimeMs = *u.timeMs
		}
		if u.score != nil && u.pv != nil {
			mpv := 1
			if u.hasMultiPV {
				mpv = u.multiPV
			}
			key := model.MatrixKey{MultiPV: mpv, Depth: u.depth}
			scores[key] = *u.score
			pvs[key] = u.pv
		}
	}
}

func (a *Actor) sendGo(work *model.Work, flavor model.EngineFlavor) error {
	switch {
	case work.IsMove():
		mv := work.Move
		if err := a.conn.send("setoption name UCI_AnalyseMode value false"); err != nil {
			return errors.Wrap(err, "writing analyse mode option")
		}
		if err := a.conn.send(fmt.Sprintf("setoption name Skill Level value %d", model.LevelSkill(mv.SkillLevel))); err != nil {
			return errors.Wrap(err, "writing skill level option")
		}
		cmd := fmt.Sprintf("go movetime %d depth %d",
			model.LevelTime(mv.SkillLevel).Milliseconds(), model.LevelDepth(mv.SkillLevel))
		if mv.Clock != nil {
			cmd += fmt.Sprintf(" wtime %d btime %d winc %d binc %d",
				mv.Clock.WTime.Milliseconds(), mv.Clock.BTime.Milliseconds(),
				mv.Clock.WInc.Milliseconds(), mv.Clock.BInc.Milliseconds())
		}
		return errors.Wrap(a.conn.send(cmd), "writing go command")

	case work.IsAnalysis():
		av := work.Analysis
		if err := a.conn.send("setoption name UCI_AnalyseMode value true"); err != nil {
			return errors.Wrap(err, "writing analyse mode option")
		}
		if err := a.conn.send("setoption name Skill Level value 20"); err != nil {
			return errors.Wrap(err, "writing skill level option")
		}
		budget := av.NodeBudget[flavor.Eval()]
		cmd := fmt.Sprintf("go nodes %d", budget)
		if av.Depth != nil {
			cmd += fmt.Sprintf(" depth %d", *av.Depth)
		}
		return errors.Wrap(a.conn.send(cmd), "writing go command")

	default:
		return errors.New("work has neither analysis nor move payload")
	}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
