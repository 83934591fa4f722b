package playback

// Source is an append-only text accumulator. Text returned by successive
// Snapshot calls only ever grows; once complete is reported it never changes.
type Source interface {
	Snapshot() (text string, complete bool)
	// Updated signals after the text grew or was completed. A single pending
	// signal is enough; it is only a wake-up hint.
	Updated() <-chan struct{}
}

type staticSource struct {
	text    string
	updated chan struct{}
}

// Text returns a complete Source holding text.
func Text(text string) Source {
	return &staticSource{text: text, updated: make(chan struct{})}
}

func (s *staticSource) Snapshot() (string, bool) { return s.text, true }

func (s *staticSource) Updated() <-chan struct{} { return s.updated }
