package playback

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// State is what a Pacing sees before each reveal.
type State struct {
	// Previous is the last revealed rune, zero before the first reveal.
	Previous rune
	// Revealed is the number of runes revealed so far.
	Revealed int
	// Available is the number of received but not yet revealed runes, >= 1.
	Available int
	// Known is the total number of runes received so far.
	Known int
	// Complete reports whether the source will not grow any further.
	Complete bool
}

// Step is one reveal: wait Delay, then reveal Runes more runes.
type Step struct {
	Runes int
	Delay time.Duration
}

// Pacing decides the rhythm of the typing simulation. Implementations must
// only use rng for randomness so playback is reproducible for a fixed seed.
type Pacing interface {
	Step(rng *rand.Rand, state State) Step
}

// HumanizedPacing reveals one rune, sometimes two, after a random base delay.
// Pauses get longer after a space and longer still after the end of a
// sentence.
type HumanizedPacing struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	DoubleChance  float64
	SpacePause    time.Duration
	SentencePause time.Duration
}

// DefaultHumanizedPacing is the pacing used when nothing else is configured.
func DefaultHumanizedPacing() HumanizedPacing {
	return HumanizedPacing{
		MinDelay:      25 * time.Millisecond,
		MaxDelay:      75 * time.Millisecond,
		DoubleChance:  0.25,
		SpacePause:    40 * time.Millisecond,
		SentencePause: 220 * time.Millisecond,
	}
}

func (p HumanizedPacing) Step(rng *rand.Rand, state State) Step {
	delay := p.MinDelay
	if spread := p.MaxDelay - p.MinDelay; spread > 0 {
		delay += time.Duration(rng.Int64N(int64(spread) + 1))
	}

	switch {
	case state.Previous == 0:
	case strings.ContainsRune(".!?\n", state.Previous):
		delay += p.SentencePause
	case state.Previous == ' ':
		delay += p.SpacePause
	}

	runes := 1
	if state.Available >= 2 && rng.Float64() < p.DoubleChance {
		runes = 2
	}
	return Step{Runes: runes, Delay: delay}
}

// LengthStepPacing reveals one rune per tick with a fixed delay chosen from
// the length of the text known so far. Short replies type faster per
// character than long ones.
type LengthStepPacing struct {
	Thresholds []LengthThreshold
	Longest    time.Duration
}

// LengthThreshold applies Delay to texts shorter than Below runes.
type LengthThreshold struct {
	Below int
	Delay time.Duration
}

func DefaultLengthStepPacing() LengthStepPacing {
	return LengthStepPacing{
		Thresholds: []LengthThreshold{
			{Below: 100, Delay: 15 * time.Millisecond},
			{Below: 300, Delay: 25 * time.Millisecond},
			{Below: 800, Delay: 35 * time.Millisecond},
		},
		Longest: 45 * time.Millisecond,
	}
}

func (p LengthStepPacing) Step(_ *rand.Rand, state State) Step {
	for _, threshold := range p.Thresholds {
		if state.Known < threshold.Below {
			return Step{Runes: 1, Delay: threshold.Delay}
		}
	}
	return Step{Runes: 1, Delay: p.Longest}
}

// PacingByName resolves a pacing policy from its configuration name using the
// default parameters of that policy.
func PacingByName(name string) (Pacing, error) {
	switch name {
	case "", "humanized":
		return DefaultHumanizedPacing(), nil
	case "length_step":
		return DefaultLengthStepPacing(), nil
	default:
		return nil, fmt.Errorf("unknown playback policy %q", name)
	}
}
