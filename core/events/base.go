package events

type Kind string

// Event is a decoded stream event. The set of implementations is closed: only
// the types in this package satisfy it.
type Event interface {
	Kind() Kind
	streamEvent()
}

type Base struct {
	kind Kind
}

func NewBase(kind Kind) Base {
	return Base{kind: kind}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (Base) streamEvent() {}

// IsTerminal reports whether the event ends the stream it was decoded from.
func IsTerminal(event Event) bool {
	switch event.(type) {
	case Done, Error:
		return true
	default:
		return false
	}
}
