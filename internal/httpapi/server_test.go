package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"hypewatch/internal/analyze"
	"hypewatch/internal/bookmarks"
	"hypewatch/internal/dashboard"
	"hypewatch/internal/domain"
	"hypewatch/internal/history"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// replayTransport answers every analysis request with the same scripted
// event sequence.
type replayTransport struct {
	mu     sync.Mutex
	opens  int
	events []analyze.ProgressEvent
}

func (t *replayTransport) Open(_ context.Context, _ analyze.AnalysisRequest) (analyze.EventStream, error) {
	t.mu.Lock()
	t.opens++
	t.mu.Unlock()
	return &replayStream{events: t.events}, nil
}

type replayStream struct {
	events []analyze.ProgressEvent
	pos    int
}

func (s *replayStream) Next() (analyze.ProgressEvent, error) {
	if s.pos >= len(s.events) {
		return analyze.ProgressEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *replayStream) Close() error { return nil }

func scriptedEvents(t *testing.T, hype float64) []analyze.ProgressEvent {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"scores":   map[string]float64{"hype_index": hype},
		"last_run": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	return []analyze.ProgressEvent{
		{Step: "financial_data", Status: analyze.StatusStarted, Message: "Fetching financial data"},
		{Step: analyze.StepComplete, Status: analyze.StatusSuccess, Data: data},
	}
}

func newTestServer(t *testing.T, events []analyze.ProgressEvent) (*Server, bookmarks.Store, *history.Archive) {
	t.Helper()
	store := bookmarks.NewMemStore()
	archive, err := history.NewArchive(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tracker := dashboard.NewTracker(&replayTransport{events: events}, store, archive, discardLogger())
	return NewServer(tracker, store, archive, nil, "http://localhost:0", discardLogger()), store, archive
}

func TestWatchlistCRUD(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	do := func(method, path string, wantStatus int) {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != wantStatus {
			t.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, wantStatus)
		}
	}

	list := func() []string {
		t.Helper()
		resp, err := srv.Client().Get(srv.URL + "/api/watchlist")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var wl WatchlistResponse
		if err := json.NewDecoder(resp.Body).Decode(&wl); err != nil {
			t.Fatal(err)
		}
		return wl.Symbols
	}

	if got := list(); len(got) != 0 {
		t.Fatalf("initial watchlist = %v, want empty", got)
	}

	do(http.MethodPut, "/api/watchlist/tsla", http.StatusNoContent)
	do(http.MethodPut, "/api/watchlist/AAPL", http.StatusNoContent)
	do(http.MethodPut, "/api/watchlist/AAPL", http.StatusNoContent) // idempotent

	got := list()
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "TSLA" {
		t.Fatalf("watchlist = %v, want [AAPL TSLA]", got)
	}

	do(http.MethodDelete, "/api/watchlist/aapl", http.StatusNoContent)
	got = list()
	if len(got) != 1 || got[0] != "TSLA" {
		t.Fatalf("watchlist = %v, want [TSLA]", got)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t, scriptedEvents(t, 42))
	if err := bookmarks.AddSymbol(store, "AAPL"); err != nil {
		t.Fatal(err)
	}

	// Run one analysis so the entry has a result.
	_, done := s.tracker.Analyze(context.Background(), "AAPL", false)
	<-done

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var dr DashboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		t.Fatal(err)
	}
	if len(dr.Entries) != 1 {
		t.Fatalf("entries = %+v, want 1", dr.Entries)
	}
	e := dr.Entries[0]
	if e.Symbol != "AAPL" || e.Phase != "succeeded" {
		t.Errorf("entry = %+v", e)
	}
	if e.Scores == nil || e.Scores.HypeIndex != 42 {
		t.Errorf("entry scores = %+v, want hype 42", e.Scores)
	}
}

// The analyze endpoint relays step records over SSE and closes with a
// terminal result record.
func TestAnalyzeSSERelay(t *testing.T) {
	s, _, _ := newTestServer(t, scriptedEvents(t, 42))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/analyze/aapl")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	var sawStep, sawResult bool
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &probe); err != nil {
			t.Fatalf("bad SSE payload %q: %v", payload, err)
		}
		switch probe.Type {
		case "step":
			sawStep = true
			var u dashboard.Update
			if err := json.Unmarshal([]byte(payload), &u); err != nil {
				t.Fatal(err)
			}
			if u.Symbol != "AAPL" || u.Step == nil || u.Step.Step != "financial_data" {
				t.Errorf("step update = %+v", u)
			}
		case "result":
			sawResult = true
			var res analyzeResultJSON
			if err := json.Unmarshal([]byte(payload), &res); err != nil {
				t.Fatal(err)
			}
			if res.Phase != "succeeded" || res.Result == nil || res.Result.Scores.HypeIndex != 42 {
				t.Errorf("result record = %+v", res)
			}
		}
	}
	if !sawStep || !sawResult {
		t.Fatalf("sawStep=%v sawResult=%v, want both", sawStep, sawResult)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s, _, archive := newTestServer(t, nil)

	result := &domain.AnalysisResult{
		Scores:  domain.Scores{HypeIndex: 61},
		LastRun: time.Now().UTC().Format(time.RFC3339),
	}
	if err := archive.Record("NVDA", result, time.Now()); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/history/nvda")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var hr HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatal(err)
	}
	if hr.Symbol != "NVDA" || len(hr.Points) != 1 || hr.Points[0].HypeIndex != 61 {
		t.Fatalf("history = %+v", hr)
	}
}

func TestTrendingEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/market/trending" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": []map[string]string{
				{"ticker": "GME", "price": "31.20", "change": "+2.10", "changePercent": "+7.2%"},
			},
		})
	}))
	defer backend.Close()

	store := bookmarks.NewMemStore()
	tracker := dashboard.NewTracker(&replayTransport{}, store, nil, discardLogger())
	s := NewServer(tracker, store, nil, nil, backend.URL, discardLogger())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/trending")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tr TrendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.Stocks) != 1 || tr.Stocks[0].Ticker != "GME" {
		t.Fatalf("trending = %+v", tr)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/dashboard", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}
