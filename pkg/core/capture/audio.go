package capture

import (
	"math"
	"sync"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Normalize to -1.0 to 1.0
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// AudioBuffer accumulates the answer audio for the current turn with a
// configurable maximum size.
type AudioBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
}

// NewAudioBuffer creates a buffer that holds up to maxDurationMs of audio.
func NewAudioBuffer(config AudioConfig, maxDurationMs int) *AudioBuffer {
	maxBytes := config.BytesForDurationMs(maxDurationMs)
	return &AudioBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
	}
}

// Write appends audio data to the buffer.
// If the buffer would exceed maxBytes, older data is discarded.
func (b *AudioBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	// Trim from the beginning if we exceed max size
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Read returns a copy of all buffered audio data.
func (b *AudioBuffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]byte, len(b.data))
	copy(result, b.data)
	return result
}

// Len returns the current buffer size in bytes.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Clear empties the buffer. Called by the segmenter when a turn ships.
func (b *AudioBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// FrameRing retains the most recent N encoded video frames in capture order.
// It automatically overwrites the oldest frame when full.
type FrameRing struct {
	mu       sync.Mutex
	frames   []string
	size     int
	writePos int
	filled   int
}

// NewFrameRing creates a ring that holds exactly size frames.
func NewFrameRing(size int) *FrameRing {
	if size <= 0 {
		size = 1
	}
	return &FrameRing{
		frames: make([]string, size),
		size:   size,
	}
}

// Push adds a base64-encoded frame, overwriting the oldest if necessary.
func (r *FrameRing) Push(frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames[r.writePos] = frame
	r.writePos = (r.writePos + 1) % r.size
	if r.filled < r.size {
		r.filled++
	}
}

// Snapshot returns the retained frames in chronological order.
func (r *FrameRing) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < r.size {
		// Ring not yet full, return from start
		result := make([]string, r.filled)
		copy(result, r.frames[:r.filled])
		return result
	}

	// Ring is full, need to reorder
	result := make([]string, r.size)
	firstPart := r.size - r.writePos
	copy(result[:firstPart], r.frames[r.writePos:])
	copy(result[firstPart:], r.frames[:r.writePos])
	return result
}

// Last returns up to n of the most recent frames in chronological order.
func (r *FrameRing) Last(n int) []string {
	all := r.Snapshot()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear resets the ring.
func (r *FrameRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.frames {
		r.frames[i] = ""
	}
	r.writePos = 0
	r.filled = 0
}

// Filled returns how many frames are currently retained.
func (r *FrameRing) Filled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}
