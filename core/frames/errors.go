package frames

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType    = errors.New("unknown frame type")
	ErrMissingPayload = errors.New("frame has no payload")
)

// ParseError describes a frame that was dropped. It never escapes the parser;
// it is only handed to the drop observer.
type ParseError struct {
	Frame []byte
	Err   error
}

func (e *ParseError) Error() string {
	frame := e.Frame
	if len(frame) > 64 {
		frame = frame[:64]
	}
	return fmt.Sprintf("malformed frame %q: %v", frame, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
