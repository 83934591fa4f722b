package widget

import (
	"context"

	"github.com/koscakluka/ema-widget/core/frames"
	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/playback"
)

type Option func(*Widget)

// Sanitizer cleans untrusted markup before it is stored as media content.
type Sanitizer interface {
	Sanitize(markup string) string
}

// HistoryLoader supplies the past messages of a chat mode.
type HistoryLoader interface {
	Load(ctx context.Context, mode string) ([]messages.Message, error)
}

// PlaybackStart decides when the typing simulation of a turn begins.
type PlaybackStart string

const (
	// PlaybackOnDone waits until the whole reply was received.
	PlaybackOnDone PlaybackStart = "on_done"
	// PlaybackOnFirstToken types along while the reply is still arriving.
	PlaybackOnFirstToken PlaybackStart = "on_first_token"
)

func WithFraming(framing frames.Framing) Option {
	return func(w *Widget) {
		if framing != nil {
			w.framing = framing
		}
	}
}

func WithTrailingPolicy(policy frames.TrailingPolicy) Option {
	return func(w *Widget) { w.trailingPolicy = policy }
}

func WithScheduler(scheduler *playback.Scheduler) Option {
	return func(w *Widget) {
		if scheduler != nil {
			w.scheduler = scheduler
		}
	}
}

func WithPlaybackStart(start PlaybackStart) Option {
	return func(w *Widget) {
		if start != "" {
			w.playbackStart = start
		}
	}
}

func WithSanitizer(sanitizer Sanitizer) Option {
	return func(w *Widget) {
		if sanitizer != nil {
			w.sanitizer = sanitizer
		}
	}
}

func WithHistory(history HistoryLoader) Option {
	return func(w *Widget) { w.history = history }
}

// WithPendingStatus sets the status text shown between sending a question and
// the first status event. An empty text disables it.
func WithPendingStatus(status string) Option {
	return func(w *Widget) { w.pendingStatus = status }
}

// WithMode sets the initial chat mode without loading its history.
func WithMode(mode string) Option {
	return func(w *Widget) { w.conversation.mode = mode }
}

// WithBaseContext sets the context every turn derives from. Cancelling it
// cancels the active turn.
func WithBaseContext(ctx context.Context) Option {
	return func(w *Widget) {
		if ctx != nil {
			w.baseContext = ctx
		}
	}
}

// WithOnConversationChanged is called with a fresh snapshot after every change
// of messages, status or mode. Snapshots are delivered in order; an older
// snapshot is never delivered after a newer one.
func WithOnConversationChanged(callback func(Conversation)) Option {
	return func(w *Widget) {
		if callback != nil {
			w.callbacks.onConversationChanged = callback
		}
	}
}

// WithOnTurnStateChanged is called on every turn state transition.
func WithOnTurnStateChanged(callback func(Turn)) Option {
	return func(w *Widget) {
		if callback != nil {
			w.callbacks.onTurnStateChanged = callback
		}
	}
}

// WithOnFrameDropped is called for every malformed frame the parser skipped.
func WithOnFrameDropped(callback func(*frames.ParseError)) Option {
	return func(w *Widget) {
		if callback != nil {
			w.callbacks.onFrameDropped = callback
		}
	}
}

type callbacks struct {
	onConversationChanged func(Conversation)
	onTurnStateChanged    func(Turn)
	onFrameDropped        func(*frames.ParseError)
}

func (c *callbacks) defaults() *callbacks {
	c.onConversationChanged = func(Conversation) {}
	c.onTurnStateChanged = func(Turn) {}
	c.onFrameDropped = func(*frames.ParseError) {}
	return c
}
