package events

const (
	// KindToken identifies an append-only piece of reply text.
	KindToken Kind = "stream.token"
	// KindMedia identifies a standalone markup message.
	KindMedia Kind = "stream.media"
)

// Token carries a piece of reply text that is appended to the turn's
// accumulator.
type Token struct {
	Base
	Text string
}

// NewToken creates a token event.
func NewToken(text string) Token {
	return Token{Base: NewBase(KindToken), Text: text}
}

// Media carries raw, unsanitized markup that becomes its own message.
type Media struct {
	Base
	HTML string
}

// NewMedia creates a media event.
func NewMedia(html string) Media {
	return Media{Base: NewBase(KindMedia), HTML: html}
}
