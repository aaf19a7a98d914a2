// Package segment decides the single instant an answer is complete and
// must be shipped to the server.
package segment

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is the client-side answer lifecycle.
type Phase int

const (
	// PhaseIdle is before a question has been asked.
	PhaseIdle Phase = iota
	// PhaseListening is while the candidate is answering.
	PhaseListening
	// PhaseProcessing is after the turn closed, while the server grades it.
	PhaseProcessing
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseListening:
		return "LISTENING"
	case PhaseProcessing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// EventKind tags a transcript event from the host speech facility.
type EventKind string

const (
	// EventPartial carries an interim transcript fragment.
	EventPartial EventKind = "partial"
	// EventFinal carries a finalized transcript fragment.
	EventFinal EventKind = "final"
	// EventError signals a transcription failure.
	EventError EventKind = "error"
)

// TranscriptEvent is the typed form of a speech-recognition callback.
// Host speech APIs deliver loosely-typed payloads; they are converted to
// this variant and validated before entering the segmenter.
type TranscriptEvent struct {
	Kind EventKind
	Text string
	Err  string
}

// Validate rejects malformed events at the boundary.
func (e TranscriptEvent) Validate() error {
	switch e.Kind {
	case EventPartial, EventFinal:
		return nil
	case EventError:
		if e.Err == "" {
			return fmt.Errorf("segment: error event without message")
		}
		return nil
	default:
		return fmt.Errorf("segment: unknown event kind %q", e.Kind)
	}
}

// Config holds segmenter tuning.
type Config struct {
	// MinTranscriptChars guards against closing on empty or near-empty
	// utterances.
	MinTranscriptChars int

	// FrameWindow is how many retained frames accompany a closed turn.
	FrameWindow int
}

// DefaultConfig returns segmenter defaults.
func DefaultConfig() Config {
	return Config{
		MinTranscriptChars: 10,
		FrameWindow:        30,
	}
}

// Result is the closed turn handed to the protocol layer.
type Result struct {
	Transcript string
	Frames     []string
	Duration   time.Duration
}

// FrameSource provides the most recent retained frames at close time.
type FrameSource interface {
	Last(n int) []string
}

// Segmenter accumulates the transcript for the current answer and closes
// the turn exactly once per question. Close attempts outside the listening
// phase are no-ops, so duplicate triggers (a VAD silence edge racing a
// manual end) are harmless.
type Segmenter struct {
	config Config
	frames FrameSource

	mu         sync.Mutex
	phase      Phase
	transcript strings.Builder
	startedAt  time.Time
	lastErr    string

	onClose func(Result)
}

// New creates a segmenter drawing the behavioral frame window from frames.
func New(config Config, frames FrameSource, onClose func(Result)) *Segmenter {
	if config.MinTranscriptChars <= 0 {
		config.MinTranscriptChars = DefaultConfig().MinTranscriptChars
	}
	if config.FrameWindow <= 0 {
		config.FrameWindow = DefaultConfig().FrameWindow
	}
	return &Segmenter{
		config:  config,
		frames:  frames,
		onClose: onClose,
	}
}

// Begin starts accumulating the answer to a new question.
func (s *Segmenter) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseListening
	s.transcript.Reset()
	s.startedAt = time.Now()
	s.lastErr = ""
}

// AddEvent feeds one transcript event. Events are validated first;
// malformed events are rejected without touching the transcript.
func (s *Segmenter) AddEvent(ev TranscriptEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseListening {
		return nil
	}

	switch ev.Kind {
	case EventFinal:
		if ev.Text != "" {
			if s.transcript.Len() > 0 {
				s.transcript.WriteString(" ")
			}
			s.transcript.WriteString(strings.TrimSpace(ev.Text))
		}
	case EventError:
		s.lastErr = ev.Err
	}
	// Partial fragments are display-only and never accumulate

	return nil
}

// TryClose closes the turn if the candidate has stopped speaking and said
// enough to grade. Returns true only on the close that actually fired.
func (s *Segmenter) TryClose(speaking bool) bool {
	s.mu.Lock()

	if s.phase != PhaseListening {
		s.mu.Unlock()
		return false
	}
	if speaking {
		s.mu.Unlock()
		return false
	}
	transcript := strings.TrimSpace(s.transcript.String())
	if len(transcript) < s.config.MinTranscriptChars {
		s.mu.Unlock()
		return false
	}

	s.phase = PhaseProcessing
	duration := time.Since(s.startedAt)
	s.mu.Unlock()

	var frames []string
	if s.frames != nil {
		frames = s.frames.Last(s.config.FrameWindow)
	}

	if s.onClose != nil {
		s.onClose(Result{
			Transcript: transcript,
			Frames:     frames,
			Duration:   duration,
		})
	}
	return true
}

// Abort abandons the current answer without emitting anything.
func (s *Segmenter) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.transcript.Reset()
}

// Phase returns the current phase.
func (s *Segmenter) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Transcript returns the accumulated answer text so far.
func (s *Segmenter) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.transcript.String())
}
