package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// PollTransport is the polling variant: the job is kicked off with a
// non-streaming request while /analyze/status is polled for the current step
// list. Every poll replays the full step list; the client's dedup layer
// turns that into incremental notifications, so the state machine behaves
// identically to the live stream.
type PollTransport struct {
	BaseURL  string
	Client   *http.Client
	Interval time.Duration
}

// NewPollTransport creates a PollTransport with the given poll interval.
func NewPollTransport(baseURL string, interval time.Duration) *PollTransport {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollTransport{BaseURL: baseURL, Client: newStreamingHTTPClient(), Interval: interval}
}

// statusResponse is the /analyze/status reply.
type statusResponse struct {
	Steps []StepRecord `json:"steps"`
	Done  bool         `json:"done,omitempty"`
}

// Open starts the job and returns a stream fed by status polls. The terminal
// event comes from the job request itself once it returns.
func (t *PollTransport) Open(ctx context.Context, req AnalysisRequest) (EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	ps := &pollStream{
		events: make(chan ProgressEvent, 16),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	// Kick off the job. Its response carries the terminal event.
	jt := &JSONTransport{BaseURL: t.BaseURL, Client: t.Client}
	jobDone := make(chan struct{})
	var jobStream EventStream
	var jobErr error
	go func() {
		defer close(jobDone)
		jobStream, jobErr = jt.Open(ctx, req)
	}()

	go func() {
		defer close(ps.events)
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-jobDone:
				if jobErr != nil {
					ps.errs <- jobErr
					return
				}
				defer jobStream.Close()
				for {
					ev, err := jobStream.Next()
					if err == io.EOF {
						return
					}
					if err != nil {
						ps.errs <- err
						return
					}
					select {
					case ps.events <- ev:
					case <-ctx.Done():
						return
					}
				}
			case <-ticker.C:
				for _, ev := range t.pollOnce(ctx, req.Symbol) {
					select {
					case ps.events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ps, nil
}

// pollOnce fetches the current step list. Poll failures are transient and
// yield no events; the job request is the authority on terminal state.
func (t *PollTransport) pollOnce(ctx context.Context, symbol string) []ProgressEvent {
	body, _ := json.Marshal(map[string]string{"symbol": symbol})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/analyze/status", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil
	}

	events := make([]ProgressEvent, 0, len(sr.Steps))
	for _, s := range sr.Steps {
		if s.Step == "" || s.Step == StepComplete {
			continue
		}
		events = append(events, ProgressEvent{Step: s.Step, Status: s.Status, Message: s.Message})
	}
	return events
}

// pollStream adapts the poll loop's channels to the EventStream interface.
type pollStream struct {
	events chan ProgressEvent
	errs   chan error
	cancel context.CancelFunc
}

func (s *pollStream) Next() (ProgressEvent, error) {
	select {
	case err := <-s.errs:
		return ProgressEvent{}, err
	case ev, ok := <-s.events:
		if !ok {
			select {
			case err := <-s.errs:
				return ProgressEvent{}, err
			default:
			}
			return ProgressEvent{}, io.EOF
		}
		return ev, nil
	}
}

func (s *pollStream) Close() error {
	s.cancel()
	return nil
}
