// Package wsstream opens reply streams over a WebSocket. The question is sent
// as the first message and every message received afterwards is one chunk of
// the reply.
package wsstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-widget/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const closeGracePeriod = time.Second

var _ transport.Opener = (*Client)(nil)

type Client struct {
	baseURL     string
	credentials transport.Credentials
	endpoints   transport.Endpoints
	delimiter   []byte
	dialer      *websocket.Dialer
}

type Option func(*Client)

func WithCredentials(credentials transport.Credentials) Option {
	return func(c *Client) { c.credentials = credentials }
}

func WithEndpoints(endpoints transport.Endpoints) Option {
	return func(c *Client) {
		if len(endpoints) > 0 {
			c.endpoints = endpoints
		}
	}
}

// WithMessageDelimiter sets the bytes appended to every received message that
// does not already end with them, so that one message always forms whole
// frames. Use "\n" for line framing and "\n\n" for event stream framing.
func WithMessageDelimiter(delimiter string) Option {
	return func(c *Client) { c.delimiter = []byte(delimiter) }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		endpoints: transport.DefaultEndpoints(),
		delimiter: []byte("\n"),
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type questionMessage struct {
	Question string `json:"question"`
}

func (c *Client) Open(ctx context.Context, request transport.Request) (transport.Stream, error) {
	ctx, span := tracer.Start(ctx, "open websocket stream")
	defer span.End()
	span.SetAttributes(attribute.String("request.mode", request.Mode))

	stream, err := c.open(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return stream, nil
}

func (c *Client) open(ctx context.Context, request transport.Request) (*socketStream, error) {
	endpoint, err := c.endpoints.Resolve(c.baseURL, request.Mode)
	if err != nil {
		return nil, err
	}
	switch endpoint.Scheme {
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	}

	header := http.Header{}
	c.credentials.Apply(header)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &transport.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil, fmt.Errorf("failed to open socket connection: %w", err)
	}

	if err := conn.WriteJSON(questionMessage{Question: request.Question}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send question: %w", err)
	}

	return &socketStream{conn: conn, delimiter: c.delimiter, closed: make(chan struct{})}, nil
}

type socketStream struct {
	conn      *websocket.Conn
	delimiter []byte

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func (s *socketStream) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		_, span := tracer.Start(ctx, "read websocket stream")
		defer span.End()

		stop := context.AfterFunc(ctx, func() { s.Close() })
		defer stop()

		var messages int
		defer func() { span.SetAttributes(attribute.Int("response.messages", messages)) }()

		for {
			msgType, msg, err := s.conn.ReadMessage()
			if err != nil {
				if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				span.RecordError(err)
				logger.DebugContext(ctx, "websocket read failed", "error", err)
				yield(nil, err)
				return
			}

			switch msgType {
			case websocket.TextMessage, websocket.BinaryMessage:
				messages++
				if !yield(s.frame(msg), nil) {
					return
				}
			}
		}
	}
}

func (s *socketStream) frame(msg []byte) []byte {
	if len(s.delimiter) == 0 || bytes.HasSuffix(msg, s.delimiter) {
		return msg
	}
	return append(msg, s.delimiter...)
}

func (s *socketStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *socketStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		if err := s.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
