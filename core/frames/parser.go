package frames

import (
	"context"
	"fmt"
	"iter"

	"github.com/koscakluka/ema-widget/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TrailingPolicy decides what happens to bytes still pending when the
// transport signals end of stream.
type TrailingPolicy int

const (
	// TrailingDiscard drops unterminated trailing bytes. This matches what the
	// deployed widgets do.
	TrailingDiscard TrailingPolicy = iota
	// TrailingAsFrame decodes unterminated trailing bytes as one last frame.
	TrailingAsFrame
)

// TrailingPolicyByName resolves a trailing policy from its configuration name.
func TrailingPolicyByName(name string) (TrailingPolicy, error) {
	switch name {
	case "", "discard":
		return TrailingDiscard, nil
	case "parse":
		return TrailingAsFrame, nil
	default:
		return TrailingDiscard, fmt.Errorf("unknown trailing frame policy %q", name)
	}
}

type ParserOption func(*Parser)

// WithTrailingPolicy sets the end-of-stream policy for unterminated bytes.
func WithTrailingPolicy(policy TrailingPolicy) ParserOption {
	return func(p *Parser) { p.trailing = policy }
}

// WithDropObserver registers a callback that receives every dropped frame.
func WithDropObserver(onDrop func(*ParseError)) ParserOption {
	return func(p *Parser) {
		if onDrop != nil {
			p.onDrop = onDrop
		}
	}
}

// Parser reassembles frames split arbitrarily across chunks and decodes them
// into events. The only state kept between calls is the unconsumed tail of
// the input.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	framing  Framing
	trailing TrailingPolicy
	onDrop   func(*ParseError)

	pending    []byte
	terminated bool
	dropped    int

	droppedCounter metric.Int64Counter
}

func NewParser(framing Framing, opts ...ParserOption) *Parser {
	if framing == nil {
		framing = LineFraming{}
	}
	p := &Parser{
		framing: framing,
		onDrop:  func(*ParseError) {},
	}
	for _, opt := range opts {
		opt(p)
	}

	counter, err := meter.Int64Counter("frames.dropped")
	if err == nil {
		p.droppedCounter = counter
	}
	return p
}

// Feed appends a chunk and returns the events of every frame it completed, in
// arrival order. Once a terminal event has been returned, Feed returns nil.
func (p *Parser) Feed(chunk []byte) []events.Event {
	if p.terminated {
		return nil
	}
	p.pending = append(p.pending, chunk...)

	var decoded []events.Event
	for {
		frame, advance, ok := p.framing.Split(p.pending)
		if !ok {
			break
		}
		event := p.decode(frame)
		p.pending = p.pending[advance:]
		if event == nil {
			continue
		}

		decoded = append(decoded, event)
		if events.IsTerminal(event) {
			p.terminate()
			break
		}
	}

	if len(p.pending) == 0 {
		p.pending = nil
	}
	return decoded
}

// Flush is called once the transport has ended. Pending bytes are handled
// according to the trailing policy; afterwards the parser is terminated.
func (p *Parser) Flush() []events.Event {
	if p.terminated {
		return nil
	}
	pending := p.pending
	p.terminate()

	if p.trailing != TrailingAsFrame || len(pending) == 0 {
		return nil
	}
	if event := p.decode(pending); event != nil {
		return []events.Event{event}
	}
	return nil
}

// Events lazily decodes a chunk sequence. Parsing stops at the first terminal
// event, which also stops pulling chunks. A chunk error is yielded as is and
// ends the sequence.
func (p *Parser) Events(chunks iter.Seq2[[]byte, error]) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		for chunk, err := range chunks {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, event := range p.Feed(chunk) {
				if !yield(event, nil) {
					return
				}
			}
			if p.terminated {
				return
			}
		}

		for _, event := range p.Flush() {
			if !yield(event, nil) {
				return
			}
		}
	}
}

// Dropped returns how many frames were discarded as malformed so far.
func (p *Parser) Dropped() int { return p.dropped }

// Terminated reports whether the parser has seen a terminal event or was
// flushed.
func (p *Parser) Terminated() bool { return p.terminated }

func (p *Parser) terminate() {
	p.terminated = true
	p.pending = nil
}

func (p *Parser) decode(frame []byte) (event events.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.drop(frame, fmt.Errorf("decoder panicked: %v", recovered))
			event = nil
		}
	}()

	event, err := p.framing.Decode(frame)
	if err != nil {
		p.drop(frame, err)
		return nil
	}
	return event
}

func (p *Parser) drop(frame []byte, err error) {
	p.dropped++
	parseErr := &ParseError{Frame: append([]byte(nil), frame...), Err: err}
	if p.droppedCounter != nil {
		p.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("framing", p.framing.Name())))
	}
	logger.Debug("dropped malformed frame", "framing", p.framing.Name(), "error", parseErr)
	p.onDrop(parseErr)
}
