package events

const (
	// KindDone identifies the explicit end of a reply stream.
	KindDone Kind = "stream.done"
	// KindError identifies a backend-reported failure.
	KindError Kind = "stream.error"
)

// Done marks the end of the reply stream.
type Done struct{ Base }

// NewDone creates a done event.
func NewDone() Done {
	return Done{Base: NewBase(KindDone)}
}

// Error marks a backend-reported failure. It ends the stream the same way
// Done does.
type Error struct {
	Base
	Reason string
}

// NewError creates an error event.
func NewError(reason string) Error {
	return Error{Base: NewBase(KindError), Reason: reason}
}
