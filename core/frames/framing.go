package frames

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-widget/core/events"
)

const (
	eventPrefix   = "event:"
	dataPrefix    = "data:"
	commentPrefix = ":"
	doneSentinel  = "[DONE]"
)

// Framing is a wire framing strategy. Split finds the next complete frame in
// the pending buffer, Decode turns one complete frame into an event.
//
// Decode returns a nil event and a nil error for frames that carry nothing
// (blank lines, comments, keep-alives).
type Framing interface {
	Name() string
	Split(pending []byte) (frame []byte, advance int, ok bool)
	Decode(frame []byte) (events.Event, error)
}

// FramingByName resolves a framing strategy from its configuration name.
func FramingByName(name string) (Framing, error) {
	switch name {
	case "", LineFraming{}.Name():
		return LineFraming{}, nil
	case EventStreamFraming{}.Name():
		return EventStreamFraming{}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}

// LineFraming treats every newline-terminated line as one JSON record, e.g.
//
//	{"type":"token","content":"Hi"}
//
// An SSE style "data:" prefix is tolerated and stripped.
type LineFraming struct{}

func (LineFraming) Name() string { return "lines" }

func (LineFraming) Split(pending []byte) ([]byte, int, bool) {
	i := bytes.IndexByte(pending, '\n')
	if i < 0 {
		return nil, 0, false
	}
	return pending[:i], i + 1, true
}

func (LineFraming) Decode(frame []byte) (events.Event, error) {
	line := strings.TrimSpace(string(frame))
	if line == "" || strings.HasPrefix(line, commentPrefix) || strings.HasPrefix(line, eventPrefix) {
		return nil, nil
	}
	if after, ok := strings.CutPrefix(line, dataPrefix); ok {
		line = strings.TrimSpace(after)
	}
	if line == doneSentinel {
		return events.NewDone(), nil
	}

	var record LineRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return nil, fmt.Errorf("error unmarshalling line record: %w", err)
	}
	return eventFor(record.Type, string(record.Content))
}

// EventStreamFraming treats blank-line separated blocks of "event:" and
// "data:" lines as one frame, e.g.
//
//	event: delta
//	data: {"v":"Hi"}
//
// Blocks without an event name carry either a line record, the "[DONE]"
// sentinel, or plain reply text.
type EventStreamFraming struct{}

func (EventStreamFraming) Name() string { return "event_stream" }

func (EventStreamFraming) Split(pending []byte) ([]byte, int, bool) {
	start := 0
	for start <= len(pending) {
		i := bytes.IndexByte(pending[start:], '\n')
		if i < 0 {
			return nil, 0, false
		}
		end := start + i
		if len(bytes.TrimRight(pending[start:end], "\r")) == 0 {
			return pending[:start], end + 1, true
		}
		start = end + 1
	}
	return nil, 0, false
}

func (EventStreamFraming) Decode(frame []byte) (events.Event, error) {
	var name string
	var data []string
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "", strings.HasPrefix(line, commentPrefix):
			continue
		case strings.HasPrefix(line, eventPrefix):
			name = strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
		case strings.HasPrefix(line, dataPrefix):
			value := strings.TrimPrefix(line, dataPrefix)
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if name == "" && len(data) == 0 {
		return nil, nil
	}
	payload := strings.Join(data, "\n")

	switch name {
	case "", "message":
		return decodeMessage(payload)
	case "done":
		return events.NewDone(), nil
	}

	if strings.TrimSpace(payload) == "" {
		return nil, ErrMissingPayload
	}
	var eventData EventData
	if err := json.Unmarshal([]byte(payload), &eventData); err != nil {
		return nil, fmt.Errorf("error unmarshalling %s data: %w", name, err)
	}
	return eventFor(name, string(eventData.V))
}

func decodeMessage(payload string) (events.Event, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == doneSentinel {
		return events.NewDone(), nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var record LineRecord
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil && record.Type != "" {
			return eventFor(record.Type, string(record.Content))
		}
	}
	if payload == "" {
		return nil, nil
	}
	return events.NewToken(payload), nil
}

func eventFor(kind string, content string) (events.Event, error) {
	switch kind {
	case "status":
		return events.NewStatus(content), nil
	case "token", "delta":
		return events.NewToken(content), nil
	case "media":
		return events.NewMedia(content), nil
	case "done":
		return events.NewDone(), nil
	case "error":
		return events.NewError(content), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}
