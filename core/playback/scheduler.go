package playback

import (
	"context"
	"iter"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/metric"
)

// Snapshot is the cumulative prefix of the source revealed so far.
type Snapshot struct {
	Text string
	// Cursor is the number of runes revealed, strictly increasing within one
	// playback.
	Cursor int
	// Final is set on the snapshot that reveals the end of a complete source.
	Final bool
}

type SchedulerOption func(*Scheduler)

// WithPacing replaces the default humanized pacing.
func WithPacing(pacing Pacing) SchedulerOption {
	return func(s *Scheduler) {
		if pacing != nil {
			s.pacing = pacing
		}
	}
}

// WithSeed makes every playback started by the scheduler reproducible.
func WithSeed(seed uint64) SchedulerOption {
	return func(s *Scheduler) {
		s.seed = seed
		s.seeded = true
	}
}

// WithSleeper replaces the timer based wait between reveals. sleep must return
// ctx.Err() once ctx is done.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) SchedulerOption {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// Scheduler replays text at a human pace, independently of how fast the text
// arrives.
type Scheduler struct {
	pacing Pacing
	seed   uint64
	seeded bool
	sleep  func(ctx context.Context, d time.Duration) error

	snapshotCounter metric.Int64Counter
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		pacing: DefaultHumanizedPacing(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}

	counter, err := meter.Int64Counter("playback.snapshots")
	if err == nil {
		s.snapshotCounter = counter
	}
	return s
}

// Playback is a single run of the scheduler over one source.
type Playback struct {
	ctx    context.Context
	cancel context.CancelFunc

	scheduler *Scheduler
	source    Source
	rng       *rand.Rand

	cancelled atomic.Bool
	once      sync.Once
}

// Start prepares a playback of source. Nothing is revealed until Snapshots is
// ranged over.
func (s *Scheduler) Start(ctx context.Context, source Source) *Playback {
	seed := s.seed
	if !s.seeded {
		seed = rand.Uint64()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Playback{
		ctx:       ctx,
		cancel:    cancel,
		scheduler: s,
		source:    source,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Cancel stops the playback permanently. A pending wait is abandoned and no
// snapshot is yielded afterwards.
func (p *Playback) Cancel() {
	p.cancelled.Store(true)
	p.cancel()
}

// Cancelled reports whether Cancel was called or the parent context ended.
func (p *Playback) Cancelled() bool {
	return p.cancelled.Load() || p.ctx.Err() != nil
}

// Snapshots yields growing prefixes of the source. While the cursor has caught
// up with an incomplete source the sequence waits for more text instead of
// ending. It ends after the final snapshot, on cancellation, or when the
// consumer stops. It may be ranged over only once.
func (p *Playback) Snapshots() iter.Seq[Snapshot] {
	return func(yield func(Snapshot) bool) {
		first := false
		p.once.Do(func() { first = true })
		if !first {
			return
		}
		defer p.cancel()

		var (
			known         []rune
			knownBytes    int
			revealed      int
			revealedBytes int
			previous      rune
		)
		for {
			if p.Cancelled() {
				return
			}

			text, complete := p.source.Snapshot()
			if len(text) > knownBytes {
				known = append(known, []rune(text[knownBytes:])...)
				knownBytes = len(text)
			}

			available := len(known) - revealed
			if available == 0 {
				if complete {
					return
				}
				select {
				case <-p.ctx.Done():
					return
				case <-p.source.Updated():
					continue
				}
			}

			step := p.scheduler.pacing.Step(p.rng, State{
				Previous:  previous,
				Revealed:  revealed,
				Available: available,
				Known:     len(known),
				Complete:  complete,
			})
			step.Runes = max(1, min(step.Runes, available))

			if err := p.scheduler.sleep(p.ctx, step.Delay); err != nil {
				return
			}
			if p.Cancelled() {
				return
			}

			for range step.Runes {
				_, size := utf8.DecodeRuneInString(text[revealedBytes:])
				revealedBytes += size
			}
			revealed += step.Runes
			previous = known[revealed-1]

			if p.scheduler.snapshotCounter != nil {
				p.scheduler.snapshotCounter.Add(p.ctx, 1)
			}
			snapshot := Snapshot{
				Text:   text[:revealedBytes],
				Cursor: revealed,
				Final:  complete && revealed == len(known),
			}
			if !yield(snapshot) {
				return
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
