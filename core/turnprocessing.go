package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-widget/core/events"
	"github.com/koscakluka/ema-widget/core/frames"
	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// runTurn drives one turn from sending to its terminal state. The receiving
// worker feeds the text buffer while the playback worker replays it; the turn
// is finalized once both the stream ended and the playback caught up.
func (w *Widget) runTurn(turn *activeTurn) {
	defer close(turn.done)

	ctx, span := tracer.Start(turn.ctx, "process turn", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("turn.assistant_message_id", turn.AssistantMessageID),
		attribute.String("turn.mode", turn.Mode),
	))
	defer span.End()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	receive := panicSafeNamedWorker("stream receiving", func(ctx context.Context) error {
		return w.receive(ctx, turn)
	})
	play := panicSafeNamedWorker("response playback", func(ctx context.Context) error {
		return w.play(ctx, turn)
	})

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := receive(ctx)
		addWorkerErr(err)
		w.endReceiving(ctx, turn, err)
	}()
	go func() {
		defer wg.Done()
		addWorkerErr(play(ctx))
	}()
	wg.Wait()

	final := w.conversation.turnSnapshot(turn)
	span.SetAttributes(attribute.String("turn.final_state", string(final.State)))
	recordSpanError(span, workerErr)
}

// receive opens the stream and applies its events until the stream ends, a
// terminal event arrives or the turn stops being live. Transport failures and
// error events are returned; the turn still goes on to play what it got.
func (w *Widget) receive(ctx context.Context, turn *activeTurn) error {
	ctx, span := tracer.Start(ctx, "receive stream")
	defer span.End()

	stream, err := w.opener.Open(ctx, transport.Request{Mode: turn.Mode, Question: turn.Question})
	if err != nil {
		if turn.IsCancelled() {
			return nil
		}
		err = fmt.Errorf("%w: failed to open stream: %w", ErrTransport, err)
		recordSpanError(span, err)
		return err
	}
	if !w.conversation.attachStream(turn, stream) {
		stream.Close()
		return nil
	}
	defer stream.Close()

	hookDone := withContextCancelHook(ctx, func() { stream.Close() })
	defer close(hookDone)

	parser := frames.NewParser(w.framing,
		frames.WithTrailingPolicy(w.trailingPolicy),
		frames.WithDropObserver(w.callbacks.onFrameDropped),
	)
	defer func() { span.SetAttributes(attribute.Int("frames.dropped", parser.Dropped())) }()

	for event, err := range parser.Events(stream.Chunks(ctx)) {
		if err != nil {
			if turn.IsCancelled() {
				return nil
			}
			err = fmt.Errorf("%w: %w", ErrTransport, err)
			recordSpanError(span, err)
			return err
		}

		if !w.apply(turn, event) {
			return nil
		}
		if errorEvent, ok := event.(events.Error); ok {
			err := fmt.Errorf("%w: %s", ErrStream, errorEvent.Reason)
			recordSpanError(span, err)
			return err
		}
	}
	return nil
}

// apply applies one stream event to the conversation. It reports false once the
// turn is no longer live.
func (w *Widget) apply(turn *activeTurn, event events.Event) bool {
	switch typedEvent := event.(type) {
	case events.Status:
		snapshot, ok := w.conversation.setStatus(turn, typedEvent.Text)
		if !ok {
			return false
		}
		w.emitConversation(snapshot)
		w.emitTurn(turn)

	case events.Token:
		if !w.conversation.isLive(turn) {
			return false
		}
		turn.textBuffer.AddChunk(typedEvent.Text)
		if snapshot, ok := w.conversation.markStreaming(turn); ok {
			w.emitConversation(snapshot)
			w.emitTurn(turn)
		}

	case events.Media:
		message := messages.New(messages.RoleAssistant, w.sanitizer.Sanitize(typedEvent.HTML), messages.KindMedia)
		snapshot, ok := w.conversation.appendMessage(turn, message)
		if !ok {
			return false
		}
		w.emitConversation(snapshot)

	case events.Done, events.Error:
		return w.conversation.isLive(turn)
	}
	return true
}

// endReceiving completes the text buffer and moves the turn to playing. It
// always runs once the receiving worker returned, whatever the reason.
func (w *Widget) endReceiving(ctx context.Context, turn *activeTurn, err error) {
	defer close(turn.received)

	turn.textBuffer.TextComplete()
	snapshot, ok := w.conversation.finishReceiving(turn, err)
	if !ok {
		return
	}
	if err != nil {
		logger.DebugContext(ctx, "turn stream ended early", "turn.id", turn.ID, "error", err)
	}
	w.emitConversation(snapshot)
	w.emitTurn(turn)
}

// play replays the text buffer into the assistant placeholder and finalizes
// the turn once everything received was shown.
func (w *Widget) play(ctx context.Context, turn *activeTurn) error {
	if w.playbackStart != PlaybackOnFirstToken {
		select {
		case <-turn.received:
		case <-ctx.Done():
			return nil
		}
	}

	ctx, span := tracer.Start(ctx, "play response")
	defer span.End()

	replay := w.scheduler.Start(ctx, turn.textBuffer)
	if !w.conversation.attachPlayback(turn, replay) {
		replay.Cancel()
		return nil
	}

	var snapshots int
	defer func() { span.SetAttributes(attribute.Int("playback.snapshots", snapshots)) }()

	for snapshot := range replay.Snapshots() {
		conversation, ok := w.conversation.setAssistantContent(turn, snapshot.Text)
		if !ok {
			replay.Cancel()
			return nil
		}
		snapshots++
		w.emitConversation(conversation)
	}

	select {
	case <-turn.received:
	case <-ctx.Done():
		return nil
	}

	if snapshot, ok := w.conversation.finalize(turn); ok {
		addCount(ctx, w.turnsFinalized, turn)
		w.emitConversation(snapshot)
		w.emitTurn(turn)
	}
	return nil
}
