// Package analyze implements the streaming client for the backend analysis
// service: it issues an analysis request for one symbol, consumes the
// incremental progress stream, reconciles partial and duplicate step events
// into a single coherent client state, applies the staleness policy, and
// supports cancellation that is safe against late-arriving events.
package analyze

import "encoding/json"

// Step status values emitted by the backend pipeline.
const (
	StatusStarted = "started"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInfo    = "info"
)

// StepComplete is the sentinel step name of the terminal record.
const StepComplete = "complete"

// ProgressEvent is one incremental update from a backend job. For the
// terminal record (Step == StepComplete, Status == StatusSuccess) Data holds
// the full analysis result.
type ProgressEvent struct {
	Step    string          `json:"step"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool { return e.Step == StepComplete }

// StepRecord is the deduplicated, display-ready state of one pipeline step.
// At most one record exists per step name; a later event for the same step
// overwrites the earlier one.
type StepRecord struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Severity classifies a step update for user-facing notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityPositive
	SeverityNegative
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	switch s {
	case SeverityPositive:
		return "positive"
	case SeverityNegative:
		return "negative"
	default:
		return "info"
	}
}

// severityFor maps a step status to its notification severity.
func severityFor(status string) Severity {
	switch status {
	case StatusSuccess:
		return SeverityPositive
	case StatusError:
		return SeverityNegative
	default:
		return SeverityInfo
	}
}

// StepUpdate is emitted once per new dedup key; duplicates are suppressed.
type StepUpdate struct {
	Symbol   string
	Record   StepRecord
	Severity Severity
}
