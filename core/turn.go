package widget

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-widget/core/playback"
	"github.com/koscakluka/ema-widget/core/transport"
)

type TurnState string

const (
	TurnStateIdle      TurnState = "idle"
	TurnStateSending   TurnState = "sending"
	TurnStateStreaming TurnState = "streaming"
	TurnStatePlaying   TurnState = "playing"
	TurnStateFinalized TurnState = "finalized"
	TurnStateCancelled TurnState = "cancelled"
)

// IsTerminal reports whether no further transition can happen.
func (s TurnState) IsTerminal() bool {
	return s == TurnStateFinalized || s == TurnStateCancelled
}

// Turn is a point-in-time view of one question/answer exchange.
type Turn struct {
	ID       string
	Mode     string
	Question string
	// AssistantMessageID is the placeholder message this turn writes to. It
	// never changes for the lifetime of the turn.
	AssistantMessageID string
	State              TurnState
	// Err holds transport and stream errors that ended the turn early. The
	// turn is still finalized with whatever was played.
	Err error
}

// activeTurn is the mutable state behind a Turn. Turn fields are guarded by the
// conversation lock; everything else is safe for concurrent use.
type activeTurn struct {
	Turn

	ctx        context.Context
	cancel     context.CancelFunc
	textBuffer *textBuffer
	// received is closed once the stream ended, for any reason.
	received chan struct{}
	// done is closed once every worker of the turn has returned.
	done chan struct{}

	cancelled atomic.Bool

	// stream and playback are attached by the workers and guarded by the
	// conversation lock so cancellation always sees them.
	stream   transport.Stream
	playback *playback.Playback
}

func newActiveTurn(parent context.Context, mode, question, assistantMessageID string) *activeTurn {
	ctx, cancel := context.WithCancel(parent)
	return &activeTurn{
		Turn: Turn{
			ID:                 uuid.NewString(),
			Mode:               mode,
			Question:           question,
			AssistantMessageID: assistantMessageID,
			State:              TurnStateIdle,
		},
		ctx:        ctx,
		cancel:     cancel,
		textBuffer: newTextBuffer(),
		received:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (t *activeTurn) IsCancelled() bool {
	return t.cancelled.Load()
}

// release stops everything the turn still holds. It is called after the turn
// was marked cancelled and must not touch conversation state.
func (t *activeTurn) release(stream transport.Stream, replay *playback.Playback) {
	t.cancel()
	if replay != nil {
		replay.Cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.Debug("failed to close stream of cancelled turn", "turn.id", t.ID, "error", err)
		}
	}
	t.textBuffer.Clear()
}
