package segment

import (
	"testing"
)

type fakeFrames struct {
	frames []string
}

func (f *fakeFrames) Last(n int) []string {
	if n >= len(f.frames) {
		return f.frames
	}
	return f.frames[len(f.frames)-n:]
}

func newTestSegmenter(onClose func(Result)) *Segmenter {
	return New(
		Config{MinTranscriptChars: 10, FrameWindow: 2},
		&fakeFrames{frames: []string{"f1", "f2", "f3"}},
		onClose,
	)
}

func TestSegmenter_ClosesWhenSilentAndLongEnough(t *testing.T) {
	var got *Result
	seg := newTestSegmenter(func(r Result) { got = &r })

	seg.Begin()
	if err := seg.AddEvent(TranscriptEvent{Kind: EventFinal, Text: "I would use a hash map here."}); err != nil {
		t.Fatalf("AddEvent() error: %v", err)
	}

	if seg.TryClose(true) {
		t.Error("turn closed while still speaking")
	}
	if !seg.TryClose(false) {
		t.Fatal("turn did not close on silence with a full answer")
	}

	if got == nil {
		t.Fatal("onClose not invoked")
	}
	if got.Transcript != "I would use a hash map here." {
		t.Errorf("Transcript = %q", got.Transcript)
	}
	if len(got.Frames) != 2 || got.Frames[0] != "f2" || got.Frames[1] != "f3" {
		t.Errorf("Frames = %v, want bounded window [f2 f3]", got.Frames)
	}
	if seg.Phase() != PhaseProcessing {
		t.Errorf("Phase() = %v, want PROCESSING", seg.Phase())
	}
}

func TestSegmenter_ShortTranscriptDoesNotClose(t *testing.T) {
	closed := false
	seg := newTestSegmenter(func(Result) { closed = true })

	seg.Begin()
	seg.AddEvent(TranscriptEvent{Kind: EventFinal, Text: "Yes."})

	if seg.TryClose(false) || closed {
		t.Error("turn closed on a near-empty utterance")
	}
	if seg.Phase() != PhaseListening {
		t.Errorf("Phase() = %v, want LISTENING", seg.Phase())
	}
}

func TestSegmenter_CloseIsIdempotent(t *testing.T) {
	closes := 0
	seg := newTestSegmenter(func(Result) { closes++ })

	seg.Begin()
	seg.AddEvent(TranscriptEvent{Kind: EventFinal, Text: "A reasonably complete answer."})

	if !seg.TryClose(false) {
		t.Fatal("first close did not fire")
	}
	// Duplicate triggers: overlapping VAD edge and a manual end action
	if seg.TryClose(false) {
		t.Error("second close fired")
	}
	if closes != 1 {
		t.Errorf("onClose fired %d times, want 1", closes)
	}
}

func TestSegmenter_PartialEventsDoNotAccumulate(t *testing.T) {
	seg := newTestSegmenter(nil)

	seg.Begin()
	seg.AddEvent(TranscriptEvent{Kind: EventPartial, Text: "I think"})
	seg.AddEvent(TranscriptEvent{Kind: EventFinal, Text: "I think recursion fits."})

	if got := seg.Transcript(); got != "I think recursion fits." {
		t.Errorf("Transcript() = %q", got)
	}
}

func TestSegmenter_RejectsMalformedEvents(t *testing.T) {
	seg := newTestSegmenter(nil)
	seg.Begin()

	if err := seg.AddEvent(TranscriptEvent{Kind: "bogus"}); err == nil {
		t.Error("unknown event kind accepted")
	}
	if err := seg.AddEvent(TranscriptEvent{Kind: EventError}); err == nil {
		t.Error("error event without message accepted")
	}
	if seg.Transcript() != "" {
		t.Error("rejected events mutated the transcript")
	}
}

func TestSegmenter_AbortStopsAccumulation(t *testing.T) {
	seg := newTestSegmenter(nil)
	seg.Begin()
	seg.Abort()

	seg.AddEvent(TranscriptEvent{Kind: EventFinal, Text: "Too late to count."})
	if seg.Transcript() != "" {
		t.Error("events accumulated after Abort")
	}
	if seg.TryClose(false) {
		t.Error("closed after Abort")
	}
}
