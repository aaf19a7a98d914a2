package client

import (
	"math"
	"sync"

	"github.com/nextstep-labs/interviewd/pkg/core/capture"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
)

// BehaviorAnalyzer turns raw capture samples into the per-turn behavioral
// summary the server scores. It is a signal-level heuristic: camera frame
// availability stands in for screen-facing time, and voice steadiness is
// read from the RMS trace. One analyzer serves the whole interview and is
// reset per turn.
type BehaviorAnalyzer struct {
	mu sync.Mutex

	samples      int
	frameSamples int
	speaking     int
	levelSum     float64
	levelSqSum   float64
	peak         float64
}

func NewBehaviorAnalyzer() *BehaviorAnalyzer {
	return &BehaviorAnalyzer{}
}

// BeginTurn discards the previous turn's samples.
func (b *BehaviorAnalyzer) BeginTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = 0
	b.frameSamples = 0
	b.speaking = 0
	b.levelSum = 0
	b.levelSqSum = 0
	b.peak = 0
}

// Observe records one capture sample. frameFresh reports whether the
// camera produced a frame since the last sample.
func (b *BehaviorAnalyzer) Observe(state capture.State, frameFresh bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples++
	if frameFresh {
		b.frameSamples++
	}
	if state.Speaking {
		b.speaking++
		b.levelSum += state.AudioLevel
		b.levelSqSum += state.AudioLevel * state.AudioLevel
		if state.PeakLevel > b.peak {
			b.peak = state.PeakLevel
		}
	}
}

// Summarize produces the wire-level behavior payload for the current turn.
// With no samples it reports a neutral observation rather than zeroes, so
// a camera failure does not read as zero eye contact.
func (b *BehaviorAnalyzer) Summarize() *protocol.Behavior {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.samples == 0 {
		return &protocol.Behavior{
			EyeContactRatio: 0.5,
			Notes:           "no capture samples for this turn",
		}
	}

	behavior := &protocol.Behavior{
		EyeContactRatio: float64(b.frameSamples) / float64(b.samples),
	}

	if b.speaking > 0 {
		mean := b.levelSum / float64(b.speaking)
		variance := b.levelSqSum/float64(b.speaking) - mean*mean
		if variance < 0 {
			variance = 0
		}
		stddev := math.Sqrt(variance)

		if mean > 0.05 {
			behavior.ConfidenceIndicators = append(behavior.ConfidenceIndicators, "clear_volume")
		}
		if mean > 0 && stddev/mean < 0.6 {
			behavior.ConfidenceIndicators = append(behavior.ConfidenceIndicators, "steady_voice")
		}
		if b.peak > 0.5 {
			behavior.ConfidenceIndicators = append(behavior.ConfidenceIndicators, "projects_voice")
		}
	}

	speakingRatio := float64(b.speaking) / float64(b.samples)
	if speakingRatio < 0.2 {
		behavior.ConfidenceIndicators = append(behavior.ConfidenceIndicators, "long_pauses")
	}

	return behavior
}
