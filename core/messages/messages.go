package messages

import (
	"regexp"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RoleFromSender maps a history sender to a role. Anything other than "user"
// is treated as the assistant.
func RoleFromSender(sender string) Role {
	if sender == string(RoleUser) {
		return RoleUser
	}
	return RoleAssistant
}

type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Message is a single entry of the conversation shown in the widget.
type Message struct {
	ID   string
	Role Role
	// Content is plain text for KindText and sanitized markup for KindMedia.
	Content string
	Kind    Kind
}

func New(role Role, content string, kind Kind) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		Kind:    kind,
	}
}

func (m Message) IsMedia() bool { return m.Kind == KindMedia }

var markupPattern = regexp.MustCompile(`<\s*/?\s*[a-zA-Z][^<>]*>`)

// ClassifyKind reports KindMedia when content contains something that looks
// like a markup tag.
func ClassifyKind(content string) Kind {
	if markupPattern.MatchString(content) {
		return KindMedia
	}
	return KindText
}
