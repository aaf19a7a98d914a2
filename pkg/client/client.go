// Package client runs the candidate side of an interview: it owns the
// media capture, the answer segmenter, and the websocket channel to the
// gateway, and drives them through the question/answer loop.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextstep-labs/interviewd/pkg/core/capture"
	"github.com/nextstep-labs/interviewd/pkg/core/segment"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

// ErrUnexpectedTermination is returned when the connection drops before a
// report arrives and the candidate never asked to end.
var ErrUnexpectedTermination = errors.New("client: connection closed before report")

// Transcriber streams speech-to-text events for the microphone audio.
// Implementations wrap a host speech facility or a hosted STT API.
type Transcriber interface {
	// Start begins recognition and invokes onEvent for each transcript
	// event until Close is called.
	Start(onEvent func(segment.TranscriptEvent)) error

	// Close stops recognition. Safe to call more than once.
	Close() error
}

// Config holds interview client settings.
type Config struct {
	// ServerURL is the websocket endpoint including the session id,
	// e.g. ws://localhost:8080/ws/interview/{sessionId}.
	ServerURL string

	// APIKey is sent as a bearer token when the gateway requires auth.
	APIKey string

	Capture capture.Config
	Segment segment.Config

	// PollInterval is how often the client samples the capture state and
	// re-checks whether the current answer can close.
	PollInterval time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultClientConfig returns client defaults.
func DefaultClientConfig() Config {
	return Config{
		Capture:          capture.DefaultConfig(),
		Segment:          segment.DefaultConfig(),
		PollInterval:     100 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Events are the orchestrator's callbacks into the UI layer. All fields
// are optional and all are invoked from the client's internal goroutines.
type Events struct {
	OnQuestion func(protocol.Question)
	OnPhase    func(segment.Phase)
	OnReport   func(scoring.Report)
	OnError    func(protocol.WireError)
}

// Interview drives one session end to end: dial, start, capture and ship
// each answer, then surface the report. Create with NewInterview and run
// with Run; Run returns when the interview is over.
type Interview struct {
	config  Config
	events  Events
	logger  *slog.Logger
	devices capture.Devices
	stt     Transcriber

	engine   *capture.Engine
	seg      *segment.Segmenter
	behavior *BehaviorAnalyzer

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu         sync.Mutex
	endSent    bool
	lastFrames int
	report     *scoring.Report
}

// NewInterview wires an interview client. Nothing connects until Run.
func NewInterview(config Config, devices capture.Devices, stt Transcriber, events Events, logger *slog.Logger) *Interview {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultClientConfig().PollInterval
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultClientConfig().HandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultClientConfig().WriteTimeout
	}

	iv := &Interview{
		config:   config,
		events:   events,
		logger:   logger,
		devices:  devices,
		stt:      stt,
		behavior: NewBehaviorAnalyzer(),
	}
	iv.engine = capture.NewEngine(config.Capture, devices)
	iv.seg = segment.New(config.Segment, iv.engine.Frames(), iv.shipTurn)
	return iv
}

// Run connects, starts capture, and drives the interview to completion.
// It returns the final report, or an error when the session ends without
// one. Run blocks until the channel closes.
func (iv *Interview) Run(ctx context.Context) (*scoring.Report, error) {
	dialer := websocket.Dialer{HandshakeTimeout: iv.config.HandshakeTimeout}
	header := http.Header{}
	if iv.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+iv.config.APIKey)
	}

	conn, _, err := dialer.DialContext(ctx, iv.config.ServerURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial interview channel: %w", err)
	}
	iv.conn = conn
	defer conn.Close()

	if err := iv.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	defer iv.engine.Stop()

	if err := iv.stt.Start(iv.onTranscript); err != nil {
		return nil, fmt.Errorf("start transcriber: %w", err)
	}
	defer iv.stt.Close()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go iv.pollLoop(pollCtx)

	// ctx cancellation ends the interview early on our side
	go func() {
		<-pollCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "client closing"),
			time.Now().Add(time.Second))
	}()

	if err := iv.send(protocol.TypeStart, nil); err != nil {
		return nil, err
	}

	return iv.readLoop(ctx)
}

// End asks the server to finalize with the turns completed so far.
func (iv *Interview) End() error {
	iv.mu.Lock()
	iv.endSent = true
	iv.mu.Unlock()
	iv.seg.Abort()
	return iv.send(protocol.TypeEnd, nil)
}

func (iv *Interview) readLoop(ctx context.Context) (*scoring.Report, error) {
	for {
		_, data, err := iv.conn.ReadMessage()
		if err != nil {
			return nil, iv.classifyDisconnect(ctx, err)
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			iv.logger.Warn("dropping malformed server frame", "error", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.Question:
			iv.beginTurn(m)
		case json.RawMessage:
			var report scoring.Report
			if err := json.Unmarshal(m, &report); err != nil {
				return nil, fmt.Errorf("decode report: %w", err)
			}
			iv.mu.Lock()
			iv.report = &report
			iv.mu.Unlock()
			if iv.events.OnReport != nil {
				iv.events.OnReport(report)
			}
			return &report, nil
		case protocol.WireError:
			iv.logger.Warn("server error frame",
				"scope", m.Scope, "code", m.Code, "message", m.Message, "close", m.Close)
			if iv.events.OnError != nil {
				iv.events.OnError(m)
			}
			if m.Close {
				return nil, fmt.Errorf("client: server closed session: %s", m.Code)
			}
		}
	}
}

func (iv *Interview) classifyDisconnect(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	iv.mu.Lock()
	endSent := iv.endSent
	iv.mu.Unlock()
	if endSent {
		// Expected close race: the server may drop the connection right
		// after the report write; the report path returns before this.
		return fmt.Errorf("client: connection closed after end: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrUnexpectedTermination, err)
}

// beginTurn arms capture and segmentation for a new question.
func (iv *Interview) beginTurn(q protocol.Question) {
	iv.engine.ResetTurn()
	iv.behavior.BeginTurn()

	iv.mu.Lock()
	iv.lastFrames = iv.engine.Frames().Filled()
	iv.mu.Unlock()

	iv.seg.Begin()
	iv.notifyPhase(segment.PhaseListening)
	if iv.events.OnQuestion != nil {
		iv.events.OnQuestion(q)
	}
}

func (iv *Interview) onTranscript(ev segment.TranscriptEvent) {
	if err := iv.seg.AddEvent(ev); err != nil {
		iv.logger.Warn("dropping transcript event", "error", err)
	}
}

// pollLoop samples capture state for the behavior summary and checks the
// turn-close condition on every tick. The segmenter ignores close checks
// outside the listening phase, so polling unconditionally is safe.
func (iv *Interview) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(iv.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if iv.seg.Phase() == segment.PhaseListening {
				state := iv.engine.Snapshot()
				iv.behavior.Observe(state, iv.consumeFrameDelta())
				iv.seg.TryClose(iv.engine.Speaking())
			}
		}
	}
}

// consumeFrameDelta reports whether the camera pushed a new frame since
// the previous poll.
func (iv *Interview) consumeFrameDelta() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	filled := iv.engine.Frames().Filled()
	fresh := filled != iv.lastFrames
	iv.lastFrames = filled
	return fresh
}

// shipTurn is the segmenter's close callback: it packages the finished
// answer and sends the turn frame.
func (iv *Interview) shipTurn(result segment.Result) {
	iv.notifyPhase(segment.PhaseProcessing)

	turn := protocol.Turn{
		Transcript:  result.Transcript,
		VideoFrames: result.Frames,
		Behavior:    iv.behavior.Summarize(),
		DurationMs:  result.Duration.Milliseconds(),
	}
	if len(turn.VideoFrames) > protocol.MaxTurnFrames {
		turn.VideoFrames = turn.VideoFrames[len(turn.VideoFrames)-protocol.MaxTurnFrames:]
	}

	if err := iv.send(protocol.TypeTurn, turn); err != nil {
		iv.logger.Error("send turn failed", "error", err)
	}
}

func (iv *Interview) notifyPhase(phase segment.Phase) {
	if iv.events.OnPhase != nil {
		iv.events.OnPhase(phase)
	}
}

func (iv *Interview) send(typ string, payload any) error {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", typ, err)
	}

	iv.writeMu.Lock()
	defer iv.writeMu.Unlock()
	_ = iv.conn.SetWriteDeadline(time.Now().Add(iv.config.WriteTimeout))
	if err := iv.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", typ, err)
	}
	return nil
}
