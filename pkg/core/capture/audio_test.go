package capture

import (
	"fmt"
	"math"
	"testing"
)

// makePCM builds 16-bit LE PCM with every sample set to the given amplitude.
func makePCM(samples int, amplitude int16) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		pcm[i*2] = byte(amplitude)
		pcm[i*2+1] = byte(amplitude >> 8)
	}
	return pcm
}

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name      string
		pcm       []byte
		want      float64
		tolerance float64
	}{
		{"empty", nil, 0, 0},
		{"silence", makePCM(100, 0), 0, 0},
		{"full scale", makePCM(100, 32767), 1.0, 0.001},
		{"half scale", makePCM(100, 16384), 0.5, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRMSEnergy(tt.pcm)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("CalculateRMSEnergy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculatePeakAmplitude(t *testing.T) {
	pcm := makePCM(10, 100)
	// One loud sample in the middle
	loud := int16(16384)
	pcm[10] = byte(loud)
	pcm[11] = byte(loud >> 8)

	got := CalculatePeakAmplitude(pcm)
	if math.Abs(got-0.5) > 0.001 {
		t.Errorf("CalculatePeakAmplitude() = %v, want 0.5", got)
	}
}

func TestAudioBuffer_TrimsOldData(t *testing.T) {
	config := AudioConfig{SampleRate: 1000, Channels: 1, BitsPerSample: 16}
	// 10ms capacity = 20 bytes
	buf := NewAudioBuffer(config, 10)

	buf.Write(make([]byte, 15))
	buf.Write(make([]byte, 15))

	if buf.Len() != 20 {
		t.Errorf("Len() = %d, want 20 after trim", buf.Len())
	}
}

func TestAudioBuffer_ClearAndRead(t *testing.T) {
	buf := NewAudioBuffer(DefaultAudioConfig(), 1000)
	buf.Write([]byte{1, 2, 3, 4})

	got := buf.Read()
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Errorf("Read() = %v, want [1 2 3 4]", got)
	}

	// Read returns a copy, mutating it must not affect the buffer
	got[0] = 99
	if buf.Read()[0] != 1 {
		t.Error("Read() did not return a copy")
	}

	buf.Clear()
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", buf.Len())
	}
}

func TestFrameRing_RetainsMostRecent(t *testing.T) {
	ring := NewFrameRing(3)

	for i := 1; i <= 5; i++ {
		ring.Push(fmt.Sprintf("frame%d", i))
	}

	got := ring.Snapshot()
	want := []string{"frame3", "frame4", "frame5"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() returned %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFrameRing_PartiallyFilled(t *testing.T) {
	ring := NewFrameRing(30)
	ring.Push("a")
	ring.Push("b")

	got := ring.Snapshot()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Snapshot() = %v, want [a b]", got)
	}
	if ring.Filled() != 2 {
		t.Errorf("Filled() = %d, want 2", ring.Filled())
	}
}

func TestFrameRing_Last(t *testing.T) {
	ring := NewFrameRing(5)
	for i := 1; i <= 4; i++ {
		ring.Push(fmt.Sprintf("f%d", i))
	}

	got := ring.Last(2)
	if len(got) != 2 || got[0] != "f3" || got[1] != "f4" {
		t.Errorf("Last(2) = %v, want [f3 f4]", got)
	}

	got = ring.Last(10)
	if len(got) != 4 {
		t.Errorf("Last(10) returned %d frames, want 4", len(got))
	}
}
