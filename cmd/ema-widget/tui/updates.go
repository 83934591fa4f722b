package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	widget "github.com/koscakluka/ema-widget/core"
)

type conversationMsg struct{ conversation widget.Conversation }

type turnMsg struct{ turn widget.Turn }

// Updates carries widget callbacks into the program. Conversation snapshots
// are coalesced so a slow renderer only ever sees the newest one; turn
// transitions are queued because each one is shown.
type Updates struct {
	mu           sync.Mutex
	conversation *widget.Conversation
	turns        []widget.Turn
	ready        chan struct{}
}

func NewUpdates() *Updates {
	return &Updates{ready: make(chan struct{}, 1)}
}

// Options returns the widget callbacks that feed u.
func (u *Updates) Options() []widget.Option {
	return []widget.Option{
		widget.WithOnConversationChanged(u.conversationChanged),
		widget.WithOnTurnStateChanged(u.turnChanged),
	}
}

func (u *Updates) conversationChanged(conversation widget.Conversation) {
	u.mu.Lock()
	u.conversation = &conversation
	u.mu.Unlock()
	u.signal()
}

func (u *Updates) turnChanged(turn widget.Turn) {
	u.mu.Lock()
	u.turns = append(u.turns, turn)
	u.mu.Unlock()
	u.signal()
}

func (u *Updates) signal() {
	select {
	case u.ready <- struct{}{}:
	default:
	}
}

// wait blocks until something arrived and returns it as a batch of messages.
func (u *Updates) wait() tea.Cmd {
	return func() tea.Msg {
		<-u.ready
		u.mu.Lock()
		defer u.mu.Unlock()

		var batch []tea.Msg
		for _, turn := range u.turns {
			batch = append(batch, turnMsg{turn: turn})
		}
		u.turns = nil
		if u.conversation != nil {
			batch = append(batch, conversationMsg{conversation: *u.conversation})
			u.conversation = nil
		}
		return updateBatch(batch)
	}
}

type updateBatch []tea.Msg
