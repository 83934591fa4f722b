package widget

import (
	"sync"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/playback"
	"github.com/koscakluka/ema-widget/core/transport"
)

// Conversation is a point-in-time view of the conversation state.
type Conversation struct {
	Mode     string
	Messages []messages.Message
	// Status is the transient indicator shown while a reply is pending. It is
	// never part of a message.
	Status     string
	ActiveTurn *Turn

	version uint64
}

// conversation owns the message list and the active turn slot. Every mutation
// attributed to a turn goes through mutate, which checks under the same lock
// that cancellation takes that the turn is still the live one.
type conversation struct {
	mu sync.RWMutex

	mode     string
	messages []messages.Message
	status   string
	active   *activeTurn

	// epoch changes on every reset so late history results can be ignored.
	epoch   uint64
	version uint64
}

func (c *conversation) Snapshot() Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshotLocked()
}

func (c *conversation) snapshotLocked() Conversation {
	var snapshot Conversation
	snapshot.Mode = c.mode
	snapshot.Status = c.status
	snapshot.version = c.version
	if err := copier.CopyWithOption(&snapshot.Messages, c.messages, copier.Option{DeepCopy: true}); err != nil {
		snapshot.Messages = append([]messages.Message(nil), c.messages...)
	}
	if c.active != nil {
		turn := c.active.Turn
		snapshot.ActiveTurn = &turn
	}
	return snapshot
}

func (c *conversation) Messages() []messages.Message {
	return c.Snapshot().Messages
}

func (c *conversation) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *conversation) activeTurn() *activeTurn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *conversation) isLiveLocked(turn *activeTurn) bool {
	return turn != nil && c.active == turn && !turn.IsCancelled() && !turn.State.IsTerminal()
}

// mutate runs f if turn is still live and returns the resulting snapshot. A
// superseded or cancelled turn gets false and nothing changes.
func (c *conversation) mutate(turn *activeTurn, f func()) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isLiveLocked(turn) {
		return Conversation{}, false
	}
	f()
	c.version++
	return c.snapshotLocked(), true
}

// startTurn claims the active slot for turn. The slot must be free.
func (c *conversation) startTurn(turn *activeTurn, user, placeholder messages.Message, pendingStatus string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return Conversation{}, ErrTurnInProgress
	}

	c.active = turn
	c.messages = append(c.messages, user, placeholder)
	c.status = pendingStatus
	turn.State = TurnStateSending
	c.version++
	return c.snapshotLocked(), nil
}

// cancelActive marks the active turn cancelled and frees the slot. The caller
// releases the returned turn's resources outside the lock.
func (c *conversation) cancelActive() (*activeTurn, transport.Stream, *playback.Playback, Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn := c.active
	if turn == nil {
		return nil, nil, nil, Conversation{}, false
	}

	turn.cancelled.Store(true)
	turn.State = TurnStateCancelled
	c.active = nil
	c.status = ""
	c.version++
	return turn, turn.stream, turn.playback, c.snapshotLocked(), true
}

func (c *conversation) setStatus(turn *activeTurn, status string) (Conversation, bool) {
	return c.mutate(turn, func() {
		c.status = status
		if turn.State == TurnStateSending {
			turn.State = TurnStateStreaming
		}
	})
}

// markStreaming moves a sending turn to streaming. It reports false when
// nothing changed.
func (c *conversation) markStreaming(turn *activeTurn) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isLiveLocked(turn) || turn.State != TurnStateSending {
		return Conversation{}, false
	}
	turn.State = TurnStateStreaming
	c.version++
	return c.snapshotLocked(), true
}

func (c *conversation) isLive(turn *activeTurn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLiveLocked(turn)
}

func (c *conversation) appendMessage(turn *activeTurn, message messages.Message) (Conversation, bool) {
	return c.mutate(turn, func() {
		c.messages = append(c.messages, message)
	})
}

func (c *conversation) setAssistantContent(turn *activeTurn, content string) (Conversation, bool) {
	return c.mutate(turn, func() {
		for i := range c.messages {
			if c.messages[i].ID == turn.AssistantMessageID {
				c.messages[i].Content = content
				return
			}
		}
	})
}

func (c *conversation) attachStream(turn *activeTurn, stream transport.Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isLiveLocked(turn) {
		return false
	}
	turn.stream = stream
	return true
}

func (c *conversation) attachPlayback(turn *activeTurn, replay *playback.Playback) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isLiveLocked(turn) {
		return false
	}
	turn.playback = replay
	return true
}

// finishReceiving moves the turn to playing once its stream ended and clears
// the status indicator.
func (c *conversation) finishReceiving(turn *activeTurn, err error) (Conversation, bool) {
	return c.mutate(turn, func() {
		c.status = ""
		turn.Err = err
		turn.State = TurnStatePlaying
	})
}

// finalize ends the turn and frees the active slot.
func (c *conversation) finalize(turn *activeTurn) (Conversation, bool) {
	return c.mutate(turn, func() {
		turn.State = TurnStateFinalized
		c.active = nil
	})
}

// reset clears messages and status and switches mode. There must be no active
// turn.
func (c *conversation) reset(mode string) (Conversation, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = mode
	c.messages = nil
	c.status = ""
	c.epoch++
	c.version++
	return c.snapshotLocked(), c.epoch
}

// prependHistory places history before the current messages, unless the
// conversation was reset since epoch was taken.
func (c *conversation) prependHistory(epoch uint64, history []messages.Message) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return Conversation{}, false
	}
	c.messages = append(append([]messages.Message(nil), history...), c.messages...)
	c.version++
	return c.snapshotLocked(), true
}

func (c *conversation) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *conversation) turnSnapshot(turn *activeTurn) Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return turn.Turn
}
