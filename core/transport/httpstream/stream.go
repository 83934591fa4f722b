package httpstream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

const readBufferSize = 4 * 1024

type bodyStream struct {
	body      io.ReadCloser
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func newBodyStream(body io.ReadCloser) *bodyStream {
	return &bodyStream{body: body, closed: make(chan struct{})}
}

// Chunks yields the body as it is read. End of body ends the sequence without
// an error. Reads interrupted by Close end it without an error as well.
func (s *bodyStream) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		_, span := tracer.Start(ctx, "read http stream")
		defer span.End()

		var received int
		defer func() { span.SetAttributes(attribute.Int("response.bytes", received)) }()

		buffer := make([]byte, readBufferSize)
		for {
			n, err := s.body.Read(buffer)
			if n > 0 {
				received += n
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])
				if !yield(chunk, nil) {
					return
				}
			}

			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) || s.isClosed() {
				return
			}
			span.RecordError(err)
			logger.DebugContext(ctx, "http stream read failed", "error", err)
			yield(nil, err)
			return
		}
	}
}

func (s *bodyStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *bodyStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
