package analyze

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"hypewatch/internal/domain"
)

// AnalysisRequest identifies one analysis job.
type AnalysisRequest struct {
	Symbol       string `json:"symbol"`
	ForceRefresh bool   `json:"force_refresh"`
}

// EventStream delivers progress events in arrival order. Next returns io.EOF
// when the stream ends, or ErrBadRecord (wrapped) for a record that should be
// logged and skipped.
type EventStream interface {
	Next() (ProgressEvent, error)
	Close() error
}

// Transport opens an analysis job against a backend and exposes its progress
// as an event stream. Implementations must not share mutable state between
// opened streams.
type Transport interface {
	Open(ctx context.Context, req AnalysisRequest) (EventStream, error)
}

// connectTimeout bounds establishing the connection and receiving response
// headers. Once data is flowing there is no overall operation timeout; the
// job runs until the backend emits a terminal event or the connection drops.
const connectTimeout = 5 * time.Second

// newStreamingHTTPClient builds an http.Client suitable for long-lived
// streams: connection setup is bounded, the response body is not.
func newStreamingHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: connectTimeout,
		},
	}
}

// errorMessage extracts the "error" field from a JSON error body, falling
// back to the raw body text.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(bytes.TrimSpace(body))
}

// ---------------------------------------------------------------------------
// Streaming transport (primary)
// ---------------------------------------------------------------------------

// StreamTransport consumes the backend's streaming /analyze response. This is
// the primary contract: a POST whose body streams progress records until the
// terminal event.
type StreamTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewStreamTransport creates a StreamTransport with a client tuned for
// long-lived streams.
func NewStreamTransport(baseURL string) *StreamTransport {
	return &StreamTransport{BaseURL: baseURL, Client: newStreamingHTTPClient()}
}

// Open issues the analysis request and returns the live progress stream.
func (t *StreamTransport) Open(ctx context.Context, req AnalysisRequest) (EventStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if b, rerr := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); rerr == nil {
			msg = errorMessage(b)
		}
		resp.Body.Close()
		return nil, &BackendError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &httpStream{body: resp.Body, sc: newRecordScanner(resp.Body)}, nil
}

// httpStream reads records off a streaming response body.
type httpStream struct {
	body io.ReadCloser
	sc   *bufio.Scanner
}

func (s *httpStream) Next() (ProgressEvent, error) {
	for s.sc.Scan() {
		ev, err := parseRecord(s.sc.Bytes())
		if err == errEmptyRecord {
			continue
		}
		return ev, err
	}
	if err := s.sc.Err(); err != nil {
		return ProgressEvent{}, err
	}
	return ProgressEvent{}, io.EOF
}

func (s *httpStream) Close() error { return s.body.Close() }

// ---------------------------------------------------------------------------
// Non-streaming JSON transport (fallback)
// ---------------------------------------------------------------------------

// JSONTransport uses the backend's batch-style non-streaming response shape:
// a single JSON object with per-symbol results keyed by the upper-cased
// symbol. The whole job is synthesised into one terminal event so callers see
// the same state machine either way.
type JSONTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewJSONTransport creates a JSONTransport.
func NewJSONTransport(baseURL string) *JSONTransport {
	return &JSONTransport{BaseURL: baseURL, Client: newStreamingHTTPClient()}
}

// batchResponse is the non-streaming /analyze response.
type batchResponse struct {
	Message string `json:"message"`
	Results map[string]struct {
		Result json.RawMessage `json:"result"`
		Status string          `json:"status"`
		Error  string          `json:"error,omitempty"`
	} `json:"results"`
}

// Open issues the request with a JSON accept header and wraps the single
// response into a one-event stream.
func (t *JSONTransport) Open(ctx context.Context, req AnalysisRequest) (EventStream, error) {
	// The batch variant of the backend takes a comma-joined "symbols" field.
	body, err := json.Marshal(map[string]any{
		"symbols":       req.Symbol,
		"force_refresh": req.ForceRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var br batchResponse
	if err := json.Unmarshal(raw, &br); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	key := domain.NormalizeSymbol(req.Symbol)
	entry, ok := br.Results[key]
	if !ok {
		return &sliceStream{events: []ProgressEvent{{
			Step:    StepComplete,
			Status:  StatusError,
			Message: fmt.Sprintf("no result for %s", key),
		}}}, nil
	}

	terminal := ProgressEvent{Step: StepComplete, Status: StatusSuccess, Data: entry.Result}
	if entry.Error != "" || entry.Status == StatusError {
		terminal = ProgressEvent{Step: StepComplete, Status: StatusError, Message: entry.Error}
	}
	return &sliceStream{events: []ProgressEvent{terminal}}, nil
}

// sliceStream replays a fixed event sequence.
type sliceStream struct {
	events []ProgressEvent
	pos    int
}

func (s *sliceStream) Next() (ProgressEvent, error) {
	if s.pos >= len(s.events) {
		return ProgressEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }
