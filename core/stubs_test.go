package widget

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/playback"
	"github.com/koscakluka/ema-widget/core/transport"
)

// streamStub yields whatever the test pushes. When stubborn it ignores Close
// and context cancellation, like a transport whose read cannot be preempted.
type streamStub struct {
	chunks   chan []byte
	fail     chan error
	closed   chan struct{}
	once     sync.Once
	stubborn bool
}

func newStreamStub() *streamStub {
	return &streamStub{
		chunks: make(chan []byte, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *streamStub) Push(chunks ...string) {
	for _, chunk := range chunks {
		s.chunks <- []byte(chunk)
	}
}

func (s *streamStub) End() { close(s.chunks) }

func (s *streamStub) Fail(err error) { s.fail <- err }

func (s *streamStub) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		closed, done := s.closed, ctx.Done()
		if s.stubborn {
			closed, done = nil, nil
		}
		for {
			select {
			case chunk, ok := <-s.chunks:
				if !ok {
					return
				}
				if !yield(chunk, nil) {
					return
				}
			case err := <-s.fail:
				yield(nil, err)
				return
			case <-closed:
				return
			case <-done:
				return
			}
		}
	}
}

func (s *streamStub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *streamStub) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// openerStub hands out the prepared streams in order.
type openerStub struct {
	mu       sync.Mutex
	streams  []*streamStub
	err      error
	requests []transport.Request
}

func (o *openerStub) Open(ctx context.Context, request transport.Request) (transport.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests = append(o.requests, request)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.streams) == 0 {
		return nil, errors.New("no stream prepared")
	}
	stream := o.streams[0]
	o.streams = o.streams[1:]
	return stream, nil
}

func (o *openerStub) Requests() []transport.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]transport.Request(nil), o.requests...)
}

type historyStub struct {
	messages []messages.Message
	err      error
}

func (h historyStub) Load(ctx context.Context, mode string) ([]messages.Message, error) {
	return h.messages, h.err
}

// recorder keeps every callback the widget made.
type recorder struct {
	mu            sync.Mutex
	conversations []Conversation
	turns         []Turn
}

func (r *recorder) options() []Option {
	return []Option{
		WithOnConversationChanged(func(conversation Conversation) {
			r.mu.Lock()
			r.conversations = append(r.conversations, conversation)
			r.mu.Unlock()
		}),
		WithOnTurnStateChanged(func(turn Turn) {
			r.mu.Lock()
			r.turns = append(r.turns, turn)
			r.mu.Unlock()
		}),
	}
}

func (r *recorder) States(turnID string) []TurnState {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []TurnState
	for _, turn := range r.turns {
		if turn.ID == turnID {
			states = append(states, turn.State)
		}
	}
	return states
}

func (r *recorder) Turn(turnID string) (Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.turns) - 1; i >= 0; i-- {
		if r.turns[i].ID == turnID {
			return r.turns[i], true
		}
	}
	return Turn{}, false
}

// Contents returns every distinct content the message went through.
func (r *recorder) Contents(messageID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var contents []string
	for _, conversation := range r.conversations {
		for _, message := range conversation.Messages {
			if message.ID != messageID {
				continue
			}
			if len(contents) == 0 || contents[len(contents)-1] != message.Content {
				contents = append(contents, message.Content)
			}
		}
	}
	return contents
}

func instantScheduler() *playback.Scheduler {
	return playback.NewScheduler(
		playback.WithPacing(playback.DefaultLengthStepPacing()),
		playback.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
}

func newTestWidget(opener transport.Opener, rec *recorder, opts ...Option) *Widget {
	options := []Option{WithScheduler(instantScheduler()), WithMode("user"), WithPendingStatus("typing...")}
	options = append(options, rec.options()...)
	options = append(options, opts...)
	return New(opener, options...)
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func waitForState(t *testing.T, rec *recorder, turnID string, state TurnState) Turn {
	t.Helper()
	var turn Turn
	waitFor(t, "turn to be "+string(state), func() bool {
		var ok bool
		turn, ok = rec.Turn(turnID)
		return ok && turn.State == state
	})
	return turn
}

func messageByID(list []messages.Message, id string) (messages.Message, bool) {
	for _, message := range list {
		if message.ID == id {
			return message, true
		}
	}
	return messages.Message{}, false
}
