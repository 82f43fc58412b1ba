// Package dashboard tracks the saved-symbol watchlist: one analysis client
// per symbol, a sequential refresh pass that keeps every symbol inside the
// staleness horizon, and pub/sub of updates for push transports (SSE relay,
// WebSocket hub).
package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hypewatch/internal/analyze"
	"hypewatch/internal/bookmarks"
	"hypewatch/internal/domain"
	"hypewatch/internal/history"
)

// Update is broadcast to subscribers whenever a tracked symbol changes.
type Update struct {
	Type     string              `json:"type"` // "step" or "state"
	Symbol   string              `json:"symbol"`
	Phase    string              `json:"phase"`
	Step     *analyze.StepRecord `json:"step,omitempty"`
	Severity string              `json:"severity,omitempty"`
}

// Entry is the tracked state of one saved symbol.
type Entry struct {
	Symbol    string
	State     analyze.ClientState
	UpdatedAt time.Time
}

// Tracker owns the per-symbol clients and the refresh loop.
type Tracker struct {
	transport analyze.Transport
	store     bookmarks.Store
	archive   *history.Archive // nil disables score archiving
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*analyze.Client
	updated map[string]time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Update
}

// NewTracker creates a tracker over the given transport and bookmark store.
func NewTracker(transport analyze.Transport, store bookmarks.Store, archive *history.Archive, log *slog.Logger) *Tracker {
	return &Tracker{
		transport: transport,
		store:     store,
		archive:   archive,
		log:       log,
		now:       time.Now,
		clients:   make(map[string]*analyze.Client),
		updated:   make(map[string]time.Time),
		subs:      make(map[int]chan Update),
	}
}

// Client returns (creating on first use) the analysis client for symbol.
func (t *Tracker) Client(symbol string) *analyze.Client {
	sym := domain.NormalizeSymbol(symbol)

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[sym]; ok {
		return c
	}

	c := analyze.NewClient(t.transport, analyze.Options{
		Logger: t.log,
		Notify: func(u analyze.StepUpdate) {
			rec := u.Record
			t.broadcast(Update{
				Type:     "step",
				Symbol:   u.Symbol,
				Phase:    analyze.PhaseLoading.String(),
				Step:     &rec,
				Severity: u.Severity.String(),
			})
		},
	})
	t.clients[sym] = c
	return c
}

// Analyze starts (or restarts) an analysis for symbol, returning the client
// and a channel that closes when the attempt finishes.
func (t *Tracker) Analyze(ctx context.Context, symbol string, forceRefresh bool) (*analyze.Client, <-chan struct{}) {
	c := t.Client(symbol)
	done := c.Start(ctx, symbol, forceRefresh)

	go func() {
		<-done
		t.finish(domain.NormalizeSymbol(symbol), c)
	}()
	return c, done
}

// RefreshAll walks the saved-symbol list sequentially, re-running any symbol
// whose result is missing or stale. One symbol at a time bounds the load on
// the backend.
func (t *Tracker) RefreshAll(ctx context.Context) error {
	symbols, err := bookmarks.Symbols(t.store)
	if err != nil {
		return err
	}

	for _, sym := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c := t.Client(sym)
		st := c.Snapshot()
		// An analysis already in flight must not be superseded by the
		// periodic pass; its result will be fresh when it lands.
		if st.Loading() {
			continue
		}
		done, started := c.CheckFreshness(ctx, sym, st.Result)
		if !started {
			continue
		}
		t.log.Info("refreshing stale symbol", "symbol", sym)
		select {
		case <-done:
			t.finish(sym, c)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run refreshes all saved symbols now and then on every interval tick, until
// ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := t.RefreshAll(ctx); err != nil && ctx.Err() == nil {
			t.log.Error("dashboard refresh pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Snapshot returns the tracked entries for all saved symbols, sorted by
// symbol. Symbols that were never fetched appear with an idle state.
func (t *Tracker) Snapshot() ([]Entry, error) {
	symbols, err := bookmarks.Symbols(t.store)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(symbols))
	for _, sym := range symbols {
		e := Entry{Symbol: sym, UpdatedAt: t.updated[sym]}
		if c, ok := t.clients[sym]; ok {
			e.State = c.Snapshot()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })
	return entries, nil
}

// Forget drops the client for a removed symbol, cancelling any stream.
func (t *Tracker) Forget(symbol string) {
	sym := domain.NormalizeSymbol(symbol)
	t.mu.Lock()
	c, ok := t.clients[sym]
	delete(t.clients, sym)
	delete(t.updated, sym)
	t.mu.Unlock()
	if ok {
		c.Cancel()
	}
}

// finish records the outcome of one completed attempt: archive scores on
// success and broadcast the state change.
func (t *Tracker) finish(symbol string, c *analyze.Client) {
	st := c.Snapshot()

	t.mu.Lock()
	t.updated[symbol] = t.now()
	t.mu.Unlock()

	if st.Phase == analyze.PhaseSucceeded && st.Result != nil && t.archive != nil {
		if err := t.archive.Record(symbol, st.Result, t.now()); err != nil {
			t.log.Warn("archiving scores failed", "symbol", symbol, "error", err)
		}
	}

	t.broadcast(Update{Type: "state", Symbol: symbol, Phase: st.Phase.String()})
}

// ---------------------------------------------------------------------------
// Pub/sub
// ---------------------------------------------------------------------------

// Subscribe returns a channel receiving updates. bufSize controls the
// channel buffer; slow consumers have updates dropped.
func (t *Tracker) Subscribe(bufSize int) (int, <-chan Update) {
	ch := make(chan Update, bufSize)
	t.subsMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = ch
	t.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Tracker) Unsubscribe(id int) {
	t.subsMu.Lock()
	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
	t.subsMu.Unlock()
}

// broadcast sends an update to all subscribers non-blocking (drop on full).
func (t *Tracker) broadcast(u Update) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- u:
		default:
			// Slow consumer — drop update.
		}
	}
}
