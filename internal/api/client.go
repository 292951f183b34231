// Package api is the thin wrapper around the four logical remote
// calls (acquire, submit-analysis, submit-move-and-acquire, abort)
// plus queue-status. Transport errors are logged and surfaced to the
// caller as "no result" — they never poison the queue actor.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lichess-org/fishnet-go/internal/model"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/lichess-org/fishnet-go/internal/resilience"
)

const (
	acquireTimeout = 35 * time.Second
	shortTimeout   = 15 * time.Second
)

// AcquireOutcome discriminates the three possible results of an acquire call.
type AcquireOutcome int

const (
	NoContent AcquireOutcome = iota
	Accepted
	Rejected
)

// AcquiredBatch is the decoded body of a successful acquire (or the
// next-work body piggybacked on a move submission).
type AcquiredBatch struct {
	Work          model.Work
	URL           *string
	Variant       string
	RootFEN       string
	Moves         []string
	SkipPositions map[int]bool
}

// AcquireResult is the outcome of an acquire call.
type AcquireResult struct {
	Outcome AcquireOutcome
	Batch   *AcquiredBatch
}

// EngineInfo identifies the locally run engine binary to the remote.
type EngineInfo struct {
	Name    string
	Hash    int
	Threads int
}

// Client is the HTTP-facing wrapper around the remote's opaque JSON API.
type Client struct {
	baseURL string
	apiKey  string
	version string
	engine  EngineInfo

	http *http.Client

	logger  observability.Logger
	metrics observability.MetricsClient
	tracer  observability.SpanStarter

	breakers map[string]*resilience.CircuitBreaker
	acquireGate *resilience.Bulkhead
	abortLimiter *resilience.RateLimiter
}

// NewClient builds an API client against baseURL.
func NewClient(baseURL, apiKey, version string, engine EngineInfo, logger observability.Logger, metrics observability.MetricsClient, tracer observability.SpanStarter) *Client {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = observability.NoopTracer{}
	}

	breakerFor := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{}, logger, metrics)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		version: version,
		engine:  engine,
		http:    &http.Client{},
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		breakers: map[string]*resilience.CircuitBreaker{
			"acquire": breakerFor("acquire"),
			"submit":  breakerFor("submit"),
			"abort":   breakerFor("abort"),
			"status":  breakerFor("status"),
		},
		// At most one outstanding acquire at a time (spec §5 backpressure note).
		acquireGate: resilience.NewBulkhead(1),
		// Throttle the shutdown abort-burst rather than firing them all at once.
		abortLimiter: resilience.NewRateLimiter(10, 20),
	}
}

func (c *Client) identity() engineIdentity {
	return engineIdentity{Version: c.version, APIKey: c.apiKey}
}

func (c *Client) stockfishOptions() engineOptions {
	var o engineOptions
	o.Name = c.engine.Name
	o.Options.Hash = c.engine.Hash
	o.Options.Threads = c.engine.Threads
	return o
}

func (c *Client) doJSON(ctx context.Context, method, path string, query string, body interface{}, out interface{}) (statusCode int, err error) {
	var reader io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return 0, merr
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// Acquire asks the remote for a batch. slow=true requests
// lower-priority work from the server's perspective.
func (c *Client) Acquire(ctx context.Context, slow bool) AcquireResult {
	ctx, span := c.tracer.StartSpan(ctx, "fishnet.api.acquire", map[string]string{"slow": fmt.Sprint(slow)})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	var result AcquireResult
	gateErr := c.acquireGate.Run(ctx, func() error {
		return c.breakers["acquire"].Execute(ctx, func() error {
			req := acquireRequest{Fishnet: c.identity(), Stockfish: c.stockfishOptions()}
			query := "slow=false"
			if slow {
				query = "slow=true"
			}
			start := time.Now()
			var body acquireResponseBody
			status, err := c.doJSON(ctx, http.MethodPost, "/acquire", query, req, &body)
			c.observe("acquire", status, err, start)
			if err != nil {
				return err
			}

			switch status {
			case http.StatusOK:
				batch, derr := decodeAcquired(body)
				if derr != nil {
					c.logger.Warn("invalid batch body, rejecting", map[string]interface{}{"error": derr.Error()})
					result = AcquireResult{Outcome: NoContent}
					return nil
				}
				result = AcquireResult{Outcome: Accepted, Batch: batch}
			case http.StatusNoContent:
				result = AcquireResult{Outcome: NoContent}
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				result = AcquireResult{Outcome: Rejected}
			default:
				result = AcquireResult{Outcome: NoContent}
			}
			return nil
		})
	})
	if gateErr != nil {
		span.SetError(gateErr)
		return AcquireResult{Outcome: NoContent}
	}
	return result
}

// SubmitAnalysis posts the parts of a completed (or progress) analysis
// batch. Fire-and-forget: idempotent on the server by batch id.
func (c *Client) SubmitAnalysis(ctx context.Context, id model.BatchID, flavor model.EvalFlavor, parts []*SubmissionPart) {
	ctx, span := c.tracer.StartSpan(ctx, "fishnet.api.submit_analysis", map[string]string{"batch_id": string(id)})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	req := submitAnalysisRequest{
		Fishnet:   c.identity(),
		Stockfish: c.stockfishOptions(),
		Analysis:  encodeParts(parts),
	}
	start := time.Now()
	err := c.breakers["submit"].Execute(ctx, func() error {
		status, err := c.doJSON(ctx, http.MethodPost, "/analysis/"+string(id), "", req, nil)
		c.observe("submit_analysis", status, err, start)
		return err
	})
	if err != nil {
		span.SetError(err)
		c.logger.Warn("submit_analysis failed, batch will time out server-side", map[string]interface{}{"batch_id": id, "error": err.Error()})
	}
}

// SubmitMoveAndAcquire is documented as atomic at the server: submit
// the move result and receive the next batch in one call. On
// transport error the move result is considered lost — no retry.
func (c *Client) SubmitMoveAndAcquire(ctx context.Context, id model.BatchID, bestMove *string) *AcquireResult {
	ctx, span := c.tracer.StartSpan(ctx, "fishnet.api.submit_move_and_acquire", map[string]string{"batch_id": string(id)})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	req := submitMoveRequest{
		Fishnet:   c.identity(),
		Stockfish: c.stockfishOptions(),
		Move:      moveResultBody{BestMove: bestMove},
	}

	var out *AcquireResult
	start := time.Now()
	err := c.breakers["submit"].Execute(ctx, func() error {
		var body acquireResponseBody
		status, err := c.doJSON(ctx, http.MethodPost, "/move/"+string(id), "", req, &body)
		c.observe("submit_move_and_acquire", status, err, start)
		if err != nil {
			return err
		}
		switch status {
		case http.StatusOK:
			batch, derr := decodeAcquired(body)
			if derr != nil {
				out = &AcquireResult{Outcome: NoContent}
				return nil
			}
			out = &AcquireResult{Outcome: Accepted, Batch: batch}
		case http.StatusNoContent:
			out = &AcquireResult{Outcome: NoContent}
		default:
			out = &AcquireResult{Outcome: NoContent}
		}
		return nil
	})
	if err != nil {
		span.SetError(err)
		c.logger.Warn("submit_move_and_acquire failed, move result lost", map[string]interface{}{"batch_id": id, "error": err.Error()})
		return nil
	}
	return out
}

// Abort releases an acquired batch back to the server. Fire-and-forget.
func (c *Client) Abort(ctx context.Context, id model.BatchID) {
	c.abortLimiter.Wait()

	ctx, span := c.tracer.StartSpan(ctx, "fishnet.api.abort", map[string]string{"batch_id": string(id)})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	start := time.Now()
	err := c.breakers["abort"].Execute(ctx, func() error {
		status, err := c.doJSON(ctx, http.MethodPost, "/abort/"+string(id), "", nil, nil)
		c.observe("abort", status, err, start)
		return err
	})
	if err != nil {
		span.SetError(err)
		c.logger.Warn("abort failed", map[string]interface{}{"batch_id": id, "error": err.Error()})
	}
}

// Status fetches the remote's queue age summary. Returns nil on
// transport error.
func (c *Client) Status(ctx context.Context) *QueueStatus {
	ctx, span := c.tracer.StartSpan(ctx, "fishnet.api.status", nil)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	var body statusBody
	start := time.Now()
	var out *QueueStatus
	err := c.breakers["status"].Execute(ctx, func() error {
		status, err := c.doJSON(ctx, http.MethodGet, "/status", "", nil, &body)
		c.observe("status", status, err, start)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("unexpected status code %d", status)
		}
		out = &QueueStatus{
			UserOldest:   time.Duration(body.Analysis.User.OldestS * float64(time.Second)),
			SystemOldest: time.Duration(body.Analysis.System.OldestS * float64(time.Second)),
		}
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil
	}
	return out
}

// QueueStatus summarizes remote queue ages for both lanes.
type QueueStatus struct {
	UserOldest   time.Duration
	SystemOldest time.Duration
}

func (c *Client) observe(op string, status int, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "transport_error"
	} else if status >= 400 {
		outcome = fmt.Sprintf("http_%d", status)
	}
	c.metrics.IncCounter("api_requests_total", map[string]string{"op": op, "status": outcome})
	c.metrics.ObserveDuration("api_request_duration_seconds", map[string]string{"op": op}, time.Since(start))
}
