package capture

import "time"

// Config holds tuning parameters for the capture engine.
type Config struct {
	// VideoSampleInterval is how often a still frame is captured,
	// independent of voice activity.
	VideoSampleInterval time.Duration `json:"video_sample_interval"`

	// AudioSampleRate in Hz for microphone capture.
	AudioSampleRate int `json:"audio_sample_rate"`

	// VADThreshold is the RMS energy level above which a window counts
	// as speech. Range: 0.0 to 1.0.
	VADThreshold float64 `json:"vad_threshold"`

	// SilenceTimeout is how long continuous silence must last before the
	// speaking flag drops. Brief pauses shorter than this are ignored.
	SilenceTimeout time.Duration `json:"silence_timeout"`

	// FrameWindow is how many of the most recent frames are retained.
	FrameWindow int `json:"frame_window"`

	// MaxAudioBufferMs bounds the accumulating answer audio buffer.
	MaxAudioBufferMs int `json:"max_audio_buffer_ms"`
}

// DefaultConfig returns a Config with sensible defaults for interview capture.
func DefaultConfig() Config {
	return Config{
		VideoSampleInterval: 2 * time.Second,
		AudioSampleRate:     16000,
		VADThreshold:        0.02,
		SilenceTimeout:      1500 * time.Millisecond,
		FrameWindow:         30,
		MaxAudioBufferMs:    120_000,
	}
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultAudioConfig returns the standard microphone configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// State is a snapshot of the capture engine, shared with the rest of the
// client through Engine.Snapshot.
type State struct {
	// Capturing is true while the sampling loops are running.
	Capturing bool

	// PermissionGranted is false when device acquisition was denied.
	PermissionGranted bool

	// AudioLevel is the RMS energy of the most recent audio window.
	AudioLevel float64

	// PeakLevel is the peak amplitude of the most recent audio window.
	PeakLevel float64

	// Speaking is the debounced voice-activity flag.
	Speaking bool

	// LastErr holds the most recent device or sampling error.
	LastErr error
}
