package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hypewatch/internal/domain"
)

// Phase is the lifecycle position of a client. Transitions only move
// idle → loading → {succeeded | failed}; a new Start resets to loading.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseSucceeded
	PhaseFailed
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ClientState is the externally observable state of one client instance.
type ClientState struct {
	Phase  Phase
	Symbol string
	Steps  []StepRecord
	Result *domain.AnalysisResult
	Err    error
}

// Loading reports whether a job is in flight.
func (s ClientState) Loading() bool { return s.Phase == PhaseLoading }

// Options tunes client behaviour. The zero value is usable.
type Options struct {
	// DedupMessages folds the message into the dedup key, so a changed
	// message for the same step/status notifies again. Off by default: the
	// stable (step, status) key avoids duplicate notifications when the
	// backend rewords a message mid-step.
	DedupMessages bool

	// Notify receives one StepUpdate per new dedup key, in arrival order.
	Notify func(StepUpdate)

	// Suppress filters notifications (the record is still kept in state).
	// Nil means SuppressNoisyErrors.
	Suppress func(StepRecord) bool

	// Logger for skipped records and stream errors. Nil means slog.Default.
	Logger *slog.Logger

	// Now is the clock used by the freshness policy. Nil means time.Now.
	Now func() time.Time
}

// noisyErrorSubstrings are known-noisy backend failure messages that should
// not produce user-facing notifications (they still land in state).
var noisyErrorSubstrings = []string{
	"HTTP error",
	"financial data retrieval",
}

// SuppressNoisyErrors is the default notification filter.
func SuppressNoisyErrors(rec StepRecord) bool {
	if rec.Status != StatusError {
		return false
	}
	for _, sub := range noisyErrorSubstrings {
		if strings.Contains(rec.Message, sub) {
			return true
		}
	}
	return false
}

// Client drives one logical "analyze symbol" operation end to end. Each
// instance owns its transport streams and dedup set exclusively; a dashboard
// tracking many symbols uses one client per symbol.
type Client struct {
	transport Transport
	opts      Options

	mu      sync.Mutex
	gen     int // generation guard: bumped on every Start/Cancel
	cancel  context.CancelFunc
	state   ClientState
	seen    map[string]struct{}
	stepIdx map[string]int // step name → index in state.Steps
}

// NewClient creates a client over the given transport.
func NewClient(transport Transport, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Suppress == nil {
		opts.Suppress = SuppressNoisyErrors
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		transport: transport,
		opts:      opts,
		state:     ClientState{Phase: PhaseIdle},
	}
}

// Snapshot returns a copy of the current state. Steps are copied so the
// caller can hold the slice across further updates.
func (c *Client) Snapshot() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.Steps = append([]StepRecord(nil), c.state.Steps...)
	return st
}

// Start begins (or restarts) the analysis for symbol. Any stream already in
// flight is superseded and cancelled; its late events can no longer mutate
// state. The returned channel closes when this attempt's stream has finished,
// whether it completed, failed, or was superseded.
func (c *Client) Start(ctx context.Context, symbol string, forceRefresh bool) <-chan struct{} {
	key := domain.NormalizeSymbol(symbol)
	req := AnalysisRequest{Symbol: key, ForceRefresh: forceRefresh}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = ClientState{Phase: PhaseLoading, Symbol: key}
	c.seen = make(map[string]struct{})
	c.stepIdx = make(map[string]int)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		c.run(runCtx, gen, req)
	}()
	return done
}

// Refresh re-runs the analysis for the current symbol with force_refresh set,
// regardless of cached freshness.
func (c *Client) Refresh(ctx context.Context) <-chan struct{} {
	c.mu.Lock()
	symbol := c.state.Symbol
	c.mu.Unlock()
	return c.Start(ctx, symbol, true)
}

// Cancel closes any open stream immediately. A client left loading returns
// to idle; terminal states are kept.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	if c.state.Phase == PhaseLoading {
		c.state.Phase = PhaseIdle
	}
}

// CheckFreshness applies the staleness policy to result: when it is missing,
// has no parsable last_run, or is older than MaxResultAge, a non-forced run
// is started and (done, true) is returned. A fresh result stands and no
// request is made.
func (c *Client) CheckFreshness(ctx context.Context, symbol string, result *domain.AnalysisResult) (<-chan struct{}, bool) {
	if !IsStale(result, c.opts.Now()) {
		return nil, false
	}
	return c.Start(ctx, symbol, false), true
}

// run consumes one stream attempt. Every state mutation is guarded by the
// generation captured at Start time, so a superseded attempt becomes inert.
func (c *Client) run(ctx context.Context, gen int, req AnalysisRequest) {
	stream, err := c.transport.Open(ctx, req)
	if err != nil {
		var be *BackendError
		if !errors.As(err, &be) {
			var ce *ConnectivityError
			if !errors.As(err, &ce) {
				err = &ConnectivityError{Err: err}
			}
		}
		c.fail(gen, err)
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		switch {
		case err == nil:
			if c.apply(gen, req.Symbol, ev) {
				return
			}
		case err == io.EOF:
			// Stream ended without a terminal record. The request itself was
			// accepted (2xx), so the job may still be running server-side;
			// the client stays loading and the caller may refresh.
			return
		case errors.Is(err, ErrBadRecord):
			c.opts.Logger.Warn("skipping malformed stream record", "symbol", req.Symbol, "error", err)
		case ctx.Err() != nil:
			// Cancelled or superseded; nothing to report.
			return
		default:
			c.fail(gen, &ConnectivityError{Err: err})
			return
		}
	}
}

// apply folds one event into state. Returns true when the event was terminal
// (or the attempt is stale and consumption should stop).
func (c *Client) apply(gen int, symbol string, ev ProgressEvent) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return true
	}

	if ev.Terminal() {
		if ev.Status == StatusSuccess {
			var res domain.AnalysisResult
			if err := json.Unmarshal(ev.Data, &res); err != nil {
				c.state.Phase = PhaseFailed
				c.state.Err = errors.Join(ErrBadRecord, err)
			} else {
				c.state.Phase = PhaseSucceeded
				c.state.Result = &res
				c.state.Err = nil
			}
		} else {
			c.state.Phase = PhaseFailed
			c.state.Err = &BackendError{Message: ev.Message}
		}
		c.mu.Unlock()
		return true
	}

	rec := StepRecord{Step: ev.Step, Status: ev.Status, Message: ev.Message}

	// Last-write-wins per step name, insertion ordered.
	if i, ok := c.stepIdx[rec.Step]; ok {
		c.state.Steps[i] = rec
	} else {
		c.stepIdx[rec.Step] = len(c.state.Steps)
		c.state.Steps = append(c.state.Steps, rec)
	}

	key := rec.Step + "\x00" + rec.Status
	if c.opts.DedupMessages {
		key += "\x00" + rec.Message
	}
	_, dup := c.seen[key]
	c.seen[key] = struct{}{}
	notify := c.opts.Notify
	suppress := c.opts.Suppress
	c.mu.Unlock()

	if !dup && notify != nil && !suppress(rec) {
		notify(StepUpdate{Symbol: symbol, Record: rec, Severity: severityFor(rec.Status)})
	}
	return false
}

// fail records a terminal failure for the given generation.
func (c *Client) fail(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.state.Phase = PhaseFailed
	c.state.Err = err
}
