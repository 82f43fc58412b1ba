package analyze

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// The backend emits records in server-sent-event framing: one or more
// "field: value" lines followed by a blank line. A record may be split
// across network reads, so the scanner buffers partial records and only
// yields complete ones; the trailing remainder is flushed at EOF.

// ErrBadRecord marks a record that arrived complete but could not be
// decoded. Callers log and skip it; it never fails the stream.
var ErrBadRecord = errors.New("malformed stream record")

// errEmptyRecord marks a record with no data line (comments, bare event
// types, keep-alives). Skipped silently.
var errEmptyRecord = errors.New("record carries no data")

// splitRecords is a bufio.SplitFunc that yields one record per blank-line
// separator. CR characters are tolerated for proxies that rewrite newlines.
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return i + 4, data[:i], nil
	}
	// Stream ended mid-record: flush the remainder for a best-effort parse.
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// newRecordScanner wraps r in a scanner yielding one raw record per Scan.
func newRecordScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(splitRecords)
	return sc
}

// parseRecord decodes one raw record into a ProgressEvent. Multiple data
// lines are joined per the SSE framing rules; event/id/retry lines and
// comments are ignored.
func parseRecord(raw []byte) (ProgressEvent, error) {
	var payload []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			payload = append(payload, strings.TrimPrefix(v, " "))
		}
	}
	if len(payload) == 0 {
		return ProgressEvent{}, errEmptyRecord
	}

	var ev ProgressEvent
	if err := json.Unmarshal([]byte(strings.Join(payload, "\n")), &ev); err != nil {
		return ProgressEvent{}, errors.Join(ErrBadRecord, err)
	}
	if ev.Step == "" {
		return ProgressEvent{}, ErrBadRecord
	}
	return ev, nil
}
