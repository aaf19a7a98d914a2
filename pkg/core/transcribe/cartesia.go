// Package transcribe streams candidate speech to text for the interview
// client. Recognition runs server-side at Cartesia; this package owns the
// websocket session and turns its frames into transcript results.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaEndpoint = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion  = "2025-04-16"
)

// StreamConfig tunes one recognition stream.
type StreamConfig struct {
	// Model is the Cartesia STT model. Defaults to ink-whisper.
	Model string

	// Language is the ISO code of the spoken language. Defaults to en.
	Language string

	// SampleRate of the PCM fed through Send, in Hz.
	SampleRate int

	// MinVolume filters background noise below this level on the
	// recognition side. The client's own VAD decides turn boundaries,
	// so no server-side silence segmentation is requested.
	MinVolume float64
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Model == "" {
		c.Model = "ink-whisper"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.MinVolume == 0 {
		c.MinVolume = 0.01
	}
	return c
}

// Result is one recognition update. Final results are stable text the
// segmenter may accumulate; non-final results are display-only. Err is
// set when the recognition stream failed.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Cartesia opens recognition streams against the Cartesia STT API.
type Cartesia struct {
	apiKey   string
	endpoint string
	dialer   *websocket.Dialer
}

func NewCartesia(apiKey string) *Cartesia {
	return &Cartesia{
		apiKey:   apiKey,
		endpoint: cartesiaEndpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Stream is one live recognition session. Feed PCM with Send; read
// updates from Results. The channel closes when the session ends.
type Stream struct {
	conn    *websocket.Conn
	results chan Result
	closed  atomic.Bool
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// Stream opens a recognition session. The stream always uses raw
// pcm_s16le audio at config.SampleRate.
func (c *Cartesia) Stream(ctx context.Context, config StreamConfig) (*Stream, error) {
	config = config.withDefaults()

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse stt endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", config.Model)
	q.Set("language", config.Language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", config.SampleRate))
	q.Set("min_volume", fmt.Sprintf("%g", config.MinVolume))
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("stt connect (status %d): %s", resp.StatusCode, body)
			}
			return nil, fmt.Errorf("stt connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stt connect: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		conn:    conn,
		results: make(chan Result, 64),
		cancel:  cancel,
	}
	go s.readLoop(streamCtx)
	return s, nil
}

type cartesiaFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.results)

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(ctx, Result{Err: fmt.Errorf("stt stream read: %w", err)})
			}
			return
		}

		var frame cartesiaFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "transcript":
			s.emit(ctx, Result{Text: frame.Text, Final: frame.IsFinal})
		case "error":
			s.emit(ctx, Result{Err: fmt.Errorf("stt stream: %s", frame.Error)})
			return
		case "done":
			return
		}
	}
}

func (s *Stream) emit(ctx context.Context, r Result) {
	select {
	case s.results <- r:
	case <-ctx.Done():
	}
}

// Send forwards one chunk of raw PCM audio.
func (s *Stream) Send(pcm []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stt stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Finalize asks the recognizer to flush pending audio into a final
// transcript without closing the stream.
func (s *Stream) Finalize() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Results delivers recognition updates until the session ends.
func (s *Stream) Results() <-chan Result {
	return s.results
}

// Close ends the session. Safe to call more than once.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.cancel()
	return s.conn.Close()
}
