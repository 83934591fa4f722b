// Package widget coordinates one chat conversation: it sends questions, turns
// the reply stream into conversation updates and replays the reply text at a
// human pace. At most one turn is active at a time; starting a new one cancels
// the previous turn first.
package widget

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-widget/core/frames"
	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/playback"
	"github.com/koscakluka/ema-widget/core/sanitize"
	"github.com/koscakluka/ema-widget/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Widget struct {
	opener         transport.Opener
	framing        frames.Framing
	trailingPolicy frames.TrailingPolicy
	scheduler      *playback.Scheduler
	playbackStart  PlaybackStart
	sanitizer      Sanitizer
	history        HistoryLoader
	pendingStatus  string
	callbacks      callbacks

	baseContext context.Context
	cancelBase  context.CancelFunc

	conversation conversation

	// sendMu serializes superseding the active turn with claiming the slot.
	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once

	emitMu         sync.Mutex
	emittedVersion uint64
	emittedTurnID  string
	emittedState   TurnState

	turnsStarted   metric.Int64Counter
	turnsCancelled metric.Int64Counter
	turnsFinalized metric.Int64Counter
}

// New creates a widget that opens reply streams with opener.
func New(opener transport.Opener, opts ...Option) *Widget {
	w := &Widget{
		opener:        opener,
		framing:       frames.LineFraming{},
		scheduler:     playback.NewScheduler(),
		playbackStart: PlaybackOnDone,
		sanitizer:     sanitize.New(),
		baseContext:   context.Background(),
	}
	w.callbacks.defaults()

	for _, opt := range opts {
		opt(w)
	}
	w.baseContext, w.cancelBase = context.WithCancel(w.baseContext)

	w.turnsStarted = newCounter("widget.turns.started")
	w.turnsCancelled = newCounter("widget.turns.cancelled")
	w.turnsFinalized = newCounter("widget.turns.finalized")

	return w
}

func newCounter(name string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name)
	if err != nil {
		logger.Debug("failed to create counter", "name", name, "error", err)
		return nil
	}
	return counter
}

func addCount(ctx context.Context, counter metric.Int64Counter, turn *activeTurn) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("turn.mode", turn.Mode)))
}

// Send starts a new turn for question. An active turn is cancelled and its
// workers are awaited before the new turn claims the active slot. The reply is
// processed in the background; Send returns once the user message and the
// assistant placeholder were added.
func (w *Widget) Send(ctx context.Context, question string) (Turn, error) {
	if w.closed.Load() {
		return Turn{}, ErrClosed
	}
	if strings.TrimSpace(question) == "" {
		return Turn{}, ErrEmptyQuestion
	}

	ctx, span := tracer.Start(ctx, "send question")
	defer span.End()

	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if w.closed.Load() {
		return Turn{}, ErrClosed
	}
	if err := w.supersede(ctx); err != nil {
		recordSpanError(span, err)
		return Turn{}, err
	}

	user := messages.New(messages.RoleUser, question, messages.KindText)
	placeholder := messages.New(messages.RoleAssistant, "", messages.KindText)
	turn := newActiveTurn(trace.ContextWithSpan(w.baseContext, span), w.conversation.Mode(), question, placeholder.ID)
	span.SetAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("turn.assistant_message_id", turn.AssistantMessageID),
	)

	snapshot, err := w.conversation.startTurn(turn, user, placeholder, w.pendingStatus)
	if err != nil {
		turn.cancel()
		recordSpanError(span, err)
		return Turn{}, err
	}
	addCount(ctx, w.turnsStarted, turn)
	w.emitConversation(snapshot)
	w.emitTurn(turn)

	go w.runTurn(turn)

	return w.conversation.turnSnapshot(turn), nil
}

// Cancel cancels the active turn, if any. Its assistant message keeps what was
// already played. It reports whether a turn was cancelled.
func (w *Widget) Cancel() bool {
	return w.cancelActiveTurn(w.baseContext) != nil
}

// supersede cancels the active turn and waits until its workers returned.
// Must be called with sendMu held.
func (w *Widget) supersede(ctx context.Context) error {
	turn := w.cancelActiveTurn(ctx)
	if turn == nil {
		return nil
	}

	select {
	case <-turn.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for superseded turn: %w", ctx.Err())
	}
}

func (w *Widget) cancelActiveTurn(ctx context.Context) *activeTurn {
	turn, stream, replay, snapshot, ok := w.conversation.cancelActive()
	if !ok {
		return nil
	}

	turn.release(stream, replay)
	addCount(ctx, w.turnsCancelled, turn)
	w.emitConversation(snapshot)
	w.emitTurn(turn)
	return turn
}

// SetMode resets the conversation for mode: the active turn is cancelled,
// messages and status are cleared, and the history of mode is loaded if a
// history loader is configured. Messages sent while the history is loading
// stay after it.
func (w *Widget) SetMode(ctx context.Context, mode string) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.sendMu.Lock()
	if err := w.supersede(ctx); err != nil {
		w.sendMu.Unlock()
		return err
	}
	snapshot, epoch := w.conversation.reset(mode)
	w.sendMu.Unlock()

	w.emitConversation(snapshot)

	if w.history == nil || mode == "" {
		return nil
	}
	return w.loadHistory(ctx, mode, epoch)
}

// LoadHistory loads the history of the current mode in front of the current
// messages.
func (w *Widget) LoadHistory(ctx context.Context) error {
	if w.history == nil {
		return nil
	}
	return w.loadHistory(ctx, w.conversation.Mode(), w.conversation.currentEpoch())
}

func (w *Widget) loadHistory(ctx context.Context, mode string, epoch uint64) error {
	ctx, span := tracer.Start(ctx, "load history")
	defer span.End()

	history, err := w.history.Load(ctx, mode)
	if err != nil {
		err = fmt.Errorf("failed to load history: %w", err)
		recordSpanError(span, err)
		return err
	}

	for i := range history {
		if history[i].IsMedia() {
			history[i].Content = w.sanitizer.Sanitize(history[i].Content)
		}
	}

	if snapshot, ok := w.conversation.prependHistory(epoch, history); ok {
		w.emitConversation(snapshot)
	}
	return nil
}

// Conversation returns a deep copy of the current conversation state.
func (w *Widget) Conversation() Conversation { return w.conversation.Snapshot() }

func (w *Widget) Messages() []messages.Message { return w.conversation.Messages() }

func (w *Widget) Status() string { return w.conversation.Snapshot().Status }

func (w *Widget) Mode() string { return w.conversation.Mode() }

// ActiveTurn returns the active turn, if any.
func (w *Widget) ActiveTurn() (Turn, bool) {
	turn := w.conversation.activeTurn()
	if turn == nil {
		return Turn{}, false
	}
	return w.conversation.turnSnapshot(turn), true
}

// Close cancels the active turn, waits for it to stop and rejects further
// sends.
func (w *Widget) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)

		w.sendMu.Lock()
		turn := w.cancelActiveTurn(w.baseContext)
		w.sendMu.Unlock()

		if turn != nil {
			<-turn.done
		}
		w.cancelBase()
	})
}

// emitConversation delivers snapshot unless a newer one was already
// delivered. Callbacks run one at a time.
func (w *Widget) emitConversation(snapshot Conversation) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	if snapshot.version <= w.emittedVersion {
		return
	}
	w.emittedVersion = snapshot.version
	w.callbacks.onConversationChanged(snapshot)
}

// emitTurn reads the turn state under emitMu so a stale state can never be
// delivered after a newer one.
func (w *Widget) emitTurn(turn *activeTurn) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	snapshot := w.conversation.turnSnapshot(turn)

	if snapshot.ID == w.emittedTurnID && snapshot.State == w.emittedState {
		return
	}
	w.emittedTurnID = snapshot.ID
	w.emittedState = snapshot.State
	w.callbacks.onTurnStateChanged(snapshot)
}
