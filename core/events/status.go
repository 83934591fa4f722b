package events

// KindStatus identifies a transient status update.
const KindStatus Kind = "stream.status"

// Status carries a transient, user-facing progress indicator. It is never part
// of message content.
type Status struct {
	Base
	Text string
}

// NewStatus creates a status event.
func NewStatus(text string) Status {
	return Status{Base: NewBase(KindStatus), Text: text}
}
