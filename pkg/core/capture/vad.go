package capture

import (
	"context"
	"sync"
	"time"
)

// EnergyVAD classifies an audio stream into speaking/silent from RMS energy:
// 1. A window above the threshold flips to speaking immediately.
// 2. Windows below the threshold start a silence countdown; the speaking
//    flag drops only after SilenceTimeout of continuous silence.
// 3. Speech resuming during the countdown cancels it.
//
// The countdown is also evaluated by a ticker so that a stalled audio
// stream still confirms silence.
type EnergyVAD struct {
	threshold float64
	timeout   time.Duration

	mu           sync.Mutex
	cancel       context.CancelFunc
	speaking     bool
	lastSpeech   time.Time
	silenceSince time.Time

	// Callbacks for state transitions
	onSpeech  func()
	onSilence func(silence time.Duration)
}

// NewEnergyVAD creates a VAD with the given energy threshold and
// silence-confirmation timeout.
func NewEnergyVAD(threshold float64, timeout time.Duration) *EnergyVAD {
	return &EnergyVAD{
		threshold: threshold,
		timeout:   timeout,
	}
}

// SetCallbacks sets the transition callbacks. onSpeech fires on the
// silent→speaking edge, onSilence on the confirmed speaking→silent edge.
func (v *EnergyVAD) SetCallbacks(onSpeech func(), onSilence func(silence time.Duration)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSpeech = onSpeech
	v.onSilence = onSilence
}

// Start begins the silence-confirmation goroutine.
// Must be called before processing windows. A second Start stops the
// previous goroutine before launching its replacement.
func (v *EnergyVAD) Start(ctx context.Context) {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.mu.Unlock()

	go v.silenceLoop(ctx)
}

// Stop stops the silence-confirmation goroutine.
func (v *EnergyVAD) Stop() {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.mu.Unlock()
}

func (v *EnergyVAD) silenceLoop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.checkSilence(time.Now())
		}
	}
}

// ProcessWindow classifies one audio window and returns the current
// speaking flag after any transition it caused.
func (v *EnergyVAD) ProcessWindow(rms float64) bool {
	now := time.Now()

	v.mu.Lock()

	if rms > v.threshold {
		v.lastSpeech = now
		v.silenceSince = time.Time{}
		if !v.speaking {
			// silent→speaking is immediate
			v.speaking = true
			cb := v.onSpeech
			v.mu.Unlock()
			if cb != nil {
				cb()
			}
			return true
		}
		v.mu.Unlock()
		return true
	}

	if v.speaking && v.silenceSince.IsZero() {
		v.silenceSince = now
	}
	speaking := v.speaking
	v.mu.Unlock()

	v.checkSilence(now)
	if speaking {
		return v.Speaking()
	}
	return false
}

// checkSilence drops the speaking flag once the countdown has elapsed.
func (v *EnergyVAD) checkSilence(now time.Time) {
	v.mu.Lock()

	if !v.speaking || v.silenceSince.IsZero() {
		v.mu.Unlock()
		return
	}

	elapsed := now.Sub(v.silenceSince)
	if elapsed < v.timeout {
		v.mu.Unlock()
		return
	}

	v.speaking = false
	v.silenceSince = time.Time{}
	cb := v.onSilence
	v.mu.Unlock()

	if cb != nil {
		cb(elapsed)
	}
}

// Speaking returns the current debounced speaking flag.
func (v *EnergyVAD) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

// Reset clears the VAD state for a new turn.
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = false
	v.lastSpeech = time.Time{}
	v.silenceSince = time.Time{}
}
