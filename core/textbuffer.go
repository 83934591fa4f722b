package widget

import (
	"strings"
	"sync"

	"github.com/koscakluka/ema-widget/core/playback"
)

var _ playback.Source = (*textBuffer)(nil)

// textBuffer accumulates the raw reply text of one turn. It only grows until
// it is completed or cleared.
type textBuffer struct {
	mu           sync.Mutex
	text         strings.Builder
	textComplete bool
	updateSignal chan struct{}
	cleared      bool
}

func newTextBuffer() *textBuffer {
	return &textBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

// AddChunk appends chunk. It reports false once the buffer is complete or
// cleared, in which case the chunk is ignored.
func (b *textBuffer) AddChunk(chunk string) bool {
	b.mu.Lock()
	if b.textComplete || b.cleared {
		b.mu.Unlock()
		return false
	}
	b.text.WriteString(chunk)
	b.mu.Unlock()
	b.signalUpdate()
	return true
}

func (b *textBuffer) TextComplete() {
	b.mu.Lock()
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Snapshot returns the text received so far. A cleared buffer reports itself
// complete so that anything waiting on it stops.
func (b *textBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.text.String(), b.textComplete || b.cleared
}

func (b *textBuffer) Updated() <-chan struct{} { return b.updateSignal }

func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.text.String()
}

func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
