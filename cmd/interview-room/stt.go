package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextstep-labs/interviewd/pkg/core/segment"
	"github.com/nextstep-labs/interviewd/pkg/core/transcribe"
)

// cartesiaTranscriber adapts the streaming recognition session to the
// interview client's transcript feed. Microphone windows arrive through
// Feed from the capture tap.
type cartesiaTranscriber struct {
	provider   *transcribe.Cartesia
	sampleRate int

	mu     sync.Mutex
	stream *transcribe.Stream
	cancel context.CancelFunc
}

func newCartesiaTranscriber(apiKey string, sampleRate int) *cartesiaTranscriber {
	return &cartesiaTranscriber{
		provider:   transcribe.NewCartesia(apiKey),
		sampleRate: sampleRate,
	}
}

func (t *cartesiaTranscriber) Start(onEvent func(segment.TranscriptEvent)) error {
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := t.provider.Stream(ctx, transcribe.StreamConfig{
		SampleRate: t.sampleRate,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("open stt stream: %w", err)
	}

	t.mu.Lock()
	t.stream = stream
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		for result := range stream.Results() {
			switch {
			case result.Err != nil:
				onEvent(segment.TranscriptEvent{
					Kind: segment.EventError,
					Err:  result.Err.Error(),
				})
			case result.Final:
				onEvent(segment.TranscriptEvent{Kind: segment.EventFinal, Text: result.Text})
			default:
				onEvent(segment.TranscriptEvent{Kind: segment.EventPartial, Text: result.Text})
			}
		}
	}()

	return nil
}

// Feed forwards one PCM window to the recognition stream.
func (t *cartesiaTranscriber) Feed(pcm []byte) {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream != nil {
		_ = stream.Send(pcm)
	}
}

func (t *cartesiaTranscriber) Close() error {
	t.mu.Lock()
	stream := t.stream
	cancel := t.cancel
	t.stream = nil
	t.cancel = nil
	t.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}
