package widget

import "errors"

var (
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrClosed         = errors.New("widget is closed")
	ErrTurnInProgress = errors.New("another turn is still active")
	// ErrTransport wraps failures to open or read the reply stream.
	ErrTransport = errors.New("transport failed")
	// ErrStream wraps error events sent by the backend inside the stream.
	ErrStream = errors.New("stream reported an error")
)
