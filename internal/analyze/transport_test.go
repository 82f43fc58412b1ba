package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// End to end over a real HTTP stream: a lower-case symbol is normalized on
// the wire, progress records land as step state, and the terminal record
// resolves the run.
func TestStreamTransportEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Symbol != "AAPL" {
			t.Errorf("request symbol = %q, want AAPL", req.Symbol)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		records := []string{
			`{"step": "financial_data", "status": "started", "message": "Fetching financial data"}`,
			`{"step": "financial_data", "status": "success", "message": "Fetching financial data"}`,
			`{"step": "metrics", "status": "started", "message": "Computing scores"}`,
			`{"step": "complete", "status": "success", "data": {"scores": {"hype_index": 42}, "last_run": "2025-08-30T12:00:00+00:00"}}`,
		}
		for _, rec := range records {
			if _, err := w.Write([]byte("data: " + rec + "\n\n")); err != nil {
				return
			}
			fl.Flush()
		}
	}))
	defer srv.Close()

	rec := &notifyRecorder{}
	c := NewClient(NewStreamTransport(srv.URL), Options{Notify: rec.record, Logger: discardLogger()})

	done := c.Start(context.Background(), "aapl", false)
	waitDone(t, done)

	st := c.Snapshot()
	if st.Phase != PhaseSucceeded {
		t.Fatalf("phase = %v (err %v), want succeeded", st.Phase, st.Err)
	}
	if st.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", st.Symbol)
	}
	if st.Result == nil || st.Result.Scores.HypeIndex != 42 {
		t.Fatalf("result = %+v, want hype_index 42", st.Result)
	}

	// Two distinct steps tracked, the first resolved to success in place.
	if len(st.Steps) != 2 {
		t.Fatalf("steps = %+v, want 2 records", st.Steps)
	}
	if st.Steps[0].Step != "financial_data" || st.Steps[0].Status != StatusSuccess {
		t.Errorf("first step = %+v", st.Steps[0])
	}
	if st.Steps[1].Step != "metrics" || st.Steps[1].Status != StatusStarted {
		t.Errorf("second step = %+v", st.Steps[1])
	}

	// One notification per distinct (step, status); the terminal record
	// never notifies.
	got := rec.all()
	if len(got) != 3 {
		t.Fatalf("got %d notifications, want 3: %+v", len(got), got)
	}
}

func TestStreamTransportBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "analysis pipeline unavailable"})
	}))
	defer srv.Close()

	tr := NewStreamTransport(srv.URL)
	_, err := tr.Open(context.Background(), AnalysisRequest{Symbol: "AAPL"})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if be.StatusCode != http.StatusInternalServerError || be.Message != "analysis pipeline unavailable" {
		t.Errorf("BackendError = %+v", be)
	}
}

func TestStreamTransportConnectivityError(t *testing.T) {
	tr := NewStreamTransport("http://127.0.0.1:1") // nothing listens here
	_, err := tr.Open(context.Background(), AnalysisRequest{Symbol: "AAPL"})
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConnectivityError", err)
	}
}

// The connection failure surfaces through the client as a failed phase, not
// a panic or a hang.
func TestClientConnectivityFailure(t *testing.T) {
	c := NewClient(NewStreamTransport("http://127.0.0.1:1"), Options{Logger: discardLogger()})
	done := c.Start(context.Background(), "AAPL", false)
	waitDone(t, done)

	st := c.Snapshot()
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %v, want failed", st.Phase)
	}
	var ce *ConnectivityError
	if !errors.As(st.Err, &ce) {
		t.Errorf("err = %v, want ConnectivityError", st.Err)
	}
}

func TestJSONTransportSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req["symbols"] != "AAPL" {
			t.Errorf("symbols = %v, want AAPL", req["symbols"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": "Analysis complete",
			"results": map[string]any{
				"AAPL": map[string]any{
					"status": "success",
					"result": map[string]any{
						"scores":   map[string]float64{"hype_index": 42},
						"last_run": "2025-08-30T12:00:00+00:00",
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(NewJSONTransport(srv.URL), Options{Logger: discardLogger()})
	done := c.Start(context.Background(), "aapl", false)
	waitDone(t, done)

	st := c.Snapshot()
	if st.Phase != PhaseSucceeded || st.Result == nil || st.Result.Scores.HypeIndex != 42 {
		t.Fatalf("state = %+v (err %v)", st, st.Err)
	}
}

func TestJSONTransportPerSymbolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"AAPL": map[string]any{"status": "error", "error": "no data available"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(NewJSONTransport(srv.URL), Options{Logger: discardLogger()})
	done := c.Start(context.Background(), "AAPL", false)
	waitDone(t, done)

	st := c.Snapshot()
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %v, want failed", st.Phase)
	}
	var be *BackendError
	if !errors.As(st.Err, &be) || be.Message != "no data available" {
		t.Errorf("err = %v, want BackendError(no data available)", st.Err)
	}
}

func TestErrorMessage(t *testing.T) {
	cases := map[string]string{
		`{"error": "boom"}`:    "boom",
		`{"message": "nope"}`:  "nope",
		"  plain text body\n":  "plain text body",
		`{"other": "ignored"}`: `{"other": "ignored"}`,
	}
	for in, want := range cases {
		if got := errorMessage([]byte(in)); got != want {
			t.Errorf("errorMessage(%q) = %q, want %q", in, got, want)
		}
	}
}
