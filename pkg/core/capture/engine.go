package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPermissionDenied is returned by a Devices implementation when the host
// refuses access to the microphone or camera.
var ErrPermissionDenied = errors.New("capture: device permission denied")

// ErrNoDevice is returned when a required device is not present.
var ErrNoDevice = errors.New("capture: device not found")

// Microphone delivers raw PCM windows from the host audio device.
type Microphone interface {
	// Start begins capture and invokes onWindow for each fixed-size PCM
	// window until Close is called.
	Start(onWindow func(pcm []byte)) error

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Camera produces encoded still images on demand.
type Camera interface {
	// Capture returns one base64-encoded JPEG frame.
	Capture() (string, error)

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Devices acquires the host media devices. Implementations live at the
// edges (malgo-backed in the terminal client, fakes in tests).
type Devices interface {
	OpenMicrophone(cfg AudioConfig) (Microphone, error)
	OpenCamera() (Camera, error)
}

// Engine owns the media devices and the sampling loops. It exposes the
// current capture state, a debounced speaking flag, the accumulating
// answer audio, and the retained frame window. All shared state is guarded
// by the engine; callers interact only through its methods.
type Engine struct {
	config      Config
	audioConfig AudioConfig
	devices     Devices

	vad    *EnergyVAD
	audio  *AudioBuffer
	frames *FrameRing

	mu    sync.Mutex
	state State
	mic   Microphone
	cam   Camera

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// NewEngine creates a capture engine. Nothing is acquired until Start.
func NewEngine(config Config, devices Devices) *Engine {
	audioConfig := DefaultAudioConfig()
	if config.AudioSampleRate > 0 {
		audioConfig.SampleRate = config.AudioSampleRate
	}
	if config.FrameWindow <= 0 {
		config.FrameWindow = DefaultConfig().FrameWindow
	}
	if config.MaxAudioBufferMs <= 0 {
		config.MaxAudioBufferMs = DefaultConfig().MaxAudioBufferMs
	}

	return &Engine{
		config:      config,
		audioConfig: audioConfig,
		devices:     devices,
		vad:         NewEnergyVAD(config.VADThreshold, config.SilenceTimeout),
		audio:       NewAudioBuffer(audioConfig, config.MaxAudioBufferMs),
		frames:      NewFrameRing(config.FrameWindow),
	}
}

// SetVADCallbacks forwards transition callbacks to the underlying VAD.
// Must be called before Start.
func (e *Engine) SetVADCallbacks(onSpeech func(), onSilence func(silence time.Duration)) {
	e.vad.SetCallbacks(onSpeech, onSilence)
}

// Start acquires the devices and begins the sampling loops.
// A device failure records the error in the state, leaves Capturing false,
// and returns the error; no sampling occurs.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("capture: engine already started")
	}

	mic, err := e.devices.OpenMicrophone(e.audioConfig)
	if err != nil {
		e.recordDeviceFailure(err)
		return fmt.Errorf("open microphone: %w", err)
	}

	cam, err := e.devices.OpenCamera()
	if err != nil {
		_ = mic.Close()
		e.recordDeviceFailure(err)
		return fmt.Errorf("open camera: %w", err)
	}

	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mic = mic
	e.cam = cam
	e.state = State{Capturing: true, PermissionGranted: true}
	e.mu.Unlock()

	e.vad.Start(e.ctx)

	if err := mic.Start(e.processWindow); err != nil {
		e.Stop()
		e.mu.Lock()
		e.state.LastErr = err
		e.mu.Unlock()
		return fmt.Errorf("start microphone: %w", err)
	}

	e.wg.Add(1)
	go e.frameLoop()

	return nil
}

func (e *Engine) recordDeviceFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Capturing = false
	e.state.PermissionGranted = !errors.Is(err, ErrPermissionDenied)
	e.state.LastErr = err
}

// processWindow handles one PCM window from the microphone callback.
func (e *Engine) processWindow(pcm []byte) {
	if e.stopped.Load() {
		return
	}

	rms := CalculateRMSEnergy(pcm)
	speaking := e.vad.ProcessWindow(rms)

	e.mu.Lock()
	e.state.AudioLevel = rms
	e.state.PeakLevel = CalculatePeakAmplitude(pcm)
	e.state.Speaking = speaking
	e.mu.Unlock()

	// Only speech windows accumulate into the answer buffer
	if speaking {
		e.audio.Write(pcm)
	}
}

// frameLoop captures stills on a fixed period, independent of VAD.
func (e *Engine) frameLoop() {
	defer e.wg.Done()

	interval := e.config.VideoSampleInterval
	if interval <= 0 {
		interval = DefaultConfig().VideoSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			frame, err := e.cam.Capture()
			if err != nil {
				e.mu.Lock()
				e.state.LastErr = err
				e.mu.Unlock()
				continue
			}
			e.frames.Push(frame)
		}
	}
}

// Stop releases all device handles and timers. It is idempotent, safe from
// any state, and returns only after the loops have exited and the devices
// are closed.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	cancel := e.cancel
	mic := e.mic
	cam := e.cam
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.vad.Stop()
	e.wg.Wait()

	if mic != nil {
		_ = mic.Close()
	}
	if cam != nil {
		_ = cam.Close()
	}

	e.mu.Lock()
	e.state.Capturing = false
	e.state.Speaking = false
	e.state.AudioLevel = 0
	e.state.PeakLevel = 0
	e.mu.Unlock()
}

// Snapshot returns a copy of the current capture state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Speaking returns the current debounced speaking flag.
func (e *Engine) Speaking() bool {
	return e.vad.Speaking()
}

// Audio returns the accumulating answer audio buffer.
func (e *Engine) Audio() *AudioBuffer {
	return e.audio
}

// Frames returns the retained frame window.
func (e *Engine) Frames() *FrameRing {
	return e.frames
}

// ResetTurn clears per-turn state: the answer buffer and the VAD.
// Retained frames are kept; the window simply keeps rolling.
func (e *Engine) ResetTurn() {
	e.audio.Clear()
	e.vad.Reset()

	e.mu.Lock()
	e.state.Speaking = false
	e.mu.Unlock()
}
