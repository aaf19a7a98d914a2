package main

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/nextstep-labs/interviewd/pkg/core/capture"
)

// malgoDevices backs the capture engine with a real microphone. Terminal
// hosts have no camera, so OpenCamera returns a placeholder that never
// produces frames; the behavioral summary degrades to its audio signals.
type malgoDevices struct {
	// tap receives a copy of every PCM window, used to feed the
	// speech-to-text stream alongside the VAD.
	tap func(pcm []byte)

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func newMalgoDevices(tap func(pcm []byte)) (*malgoDevices, error) {
	config := malgo.ContextConfig{}
	config.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, config, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &malgoDevices{tap: tap, ctx: ctx}, nil
}

func (d *malgoDevices) OpenMicrophone(cfg capture.AudioConfig) (capture.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, capture.ErrNoDevice
	}
	return &malgoMicrophone{ctx: d.ctx.Context, cfg: cfg, tap: d.tap}, nil
}

func (d *malgoDevices) OpenCamera() (capture.Camera, error) {
	return noCamera{}, nil
}

func (d *malgoDevices) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx = nil
	}
}

type malgoMicrophone struct {
	ctx malgo.Context
	cfg capture.AudioConfig
	tap func(pcm []byte)

	mu     sync.Mutex
	device *malgo.Device
}

func (m *malgoMicrophone) Start(onWindow func(pcm []byte)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			window := make([]byte, len(pInputSamples))
			copy(window, pInputSamples)
			onWindow(window)
			if m.tap != nil {
				m.tap(window)
			}
		},
	}

	device, err := malgo.InitDevice(m.ctx, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()
	return nil
}

func (m *malgoMicrophone) Close() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	return nil
}

type noCamera struct{}

func (noCamera) Capture() (string, error) { return "", capture.ErrNoDevice }
func (noCamera) Close() error             { return nil }
