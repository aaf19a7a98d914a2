package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextstep-labs/interviewd/pkg/gateway/judge"
	"github.com/nextstep-labs/interviewd/pkg/gateway/metrics"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

// Session terminal outcomes, used for logging and metrics.
const (
	OutcomeCompleted    = "completed"
	OutcomeEnded        = "ended"
	OutcomeIdleTimeout  = "idle_timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeShutdown     = "shutdown"
)

// Archiver persists a finalized report. Implementations must be safe for
// concurrent use.
type Archiver interface {
	ArchiveReport(ctx context.Context, sessionID, role, candidate string, report scoring.Report) error
}

// Config carries the connection runner's tunables.
type Config struct {
	// IdleTimeout closes the session when no client frame arrives for
	// this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	// PongTimeout bounds how long a read may block before the peer is
	// considered gone.
	PongTimeout time.Duration
	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration
	// JudgmentTimeout bounds one per-turn judgment call, retries included.
	JudgmentTimeout time.Duration
	// NarrativeTimeout bounds the final narrative call.
	NarrativeTimeout time.Duration
	// ArchiveTimeout bounds the best-effort report archive write.
	ArchiveTimeout time.Duration
	// MaxMessageBytes bounds one inbound websocket frame.
	MaxMessageBytes int64
}

// DefaultConfig returns the production runner defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:      5 * time.Minute,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		JudgmentTimeout:  45 * time.Second,
		NarrativeTimeout: 60 * time.Second,
		ArchiveTimeout:   10 * time.Second,
		MaxMessageBytes:  8 << 20,
	}
}

// Runner owns one websocket connection and drives its Machine. All state
// transitions and all writes happen on the Run goroutine; the read loop
// and judgment calls deliver into it over channels.
type Runner struct {
	machine *Machine
	conn    *websocket.Conn
	judge   judge.Judge
	archive Archiver
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outcome   string
	startedAt time.Time
}

// inboundFrame is one message (or terminal error) from the read loop.
type inboundFrame struct {
	data []byte
	err  error
}

// judgeOutcome is one resolved per-turn judgment call.
type judgeOutcome struct {
	turnNumber int
	judgment   judge.TurnJudgment
	err        error
}

// NewRunner wires a runner for an attached connection. archive and the
// metrics sink may be nil.
func NewRunner(machine *Machine, conn *websocket.Conn, j judge.Judge, archive Archiver, m *metrics.Metrics, logger *slog.Logger, config Config) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		machine: machine,
		conn:    conn,
		judge:   j,
		archive: archive,
		metrics: m,
		logger: logger.With(
			slog.String("session_id", machine.ID()),
			slog.String("role", machine.TargetRole()),
		),
		config: config,
	}
}

// Outcome returns the terminal outcome after Run returns.
func (r *Runner) Outcome() string { return r.outcome }

// Run drives the session until it finalizes, the client leaves, or ctx is
// canceled. It always closes the connection before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	r.startedAt = time.Now()
	r.outcome = OutcomeDisconnected
	r.metrics.RecordSessionStart()
	defer func() {
		r.conn.Close()
		r.wg.Wait()
		r.metrics.RecordSessionEnd(r.machine.TargetRole(), r.outcome, time.Since(r.startedAt))
		r.logger.Info("session closed",
			slog.String("outcome", r.outcome),
			slog.Int("turns", len(r.machine.Turns())),
			slog.Duration("duration", time.Since(r.startedAt)))
	}()

	r.conn.SetReadLimit(r.config.MaxMessageBytes)
	r.conn.SetReadDeadline(time.Now().Add(r.config.PongTimeout))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(r.config.PongTimeout))
	})

	readCh := r.startReadLoop()
	judgeCh := make(chan judgeOutcome, 1)

	pingTicker := time.NewTicker(r.config.PingInterval)
	defer pingTicker.Stop()

	idleTimer := time.NewTimer(r.config.IdleTimeout)
	defer idleTimer.Stop()
	resetIdle := func() {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(r.config.IdleTimeout)
	}

	var (
		judging      bool
		endRequested bool
	)

	r.logger.Info("session attached")

	for {
		select {
		case <-r.ctx.Done():
			r.outcome = OutcomeShutdown
			r.sendError(protocol.ScopeSession, protocol.CodeShuttingDown,
				"server is shutting down", true)
			r.closeConn(websocket.CloseGoingAway, "shutting down")
			return r.ctx.Err()

		case <-pingTicker.C:
			deadline := time.Now().Add(r.config.WriteTimeout)
			if err := r.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				r.outcome = OutcomeDisconnected
				return fmt.Errorf("ping: %w", err)
			}

		case <-idleTimer.C:
			r.outcome = OutcomeIdleTimeout
			r.sendError(protocol.ScopeSession, protocol.CodeIdleTimeout,
				"session idle timeout", true)
			r.closeConn(websocket.CloseNormalClosure, "idle timeout")
			return nil

		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				r.outcome = OutcomeDisconnected
				if frame.err != nil && !isExpectedClose(frame.err) {
					r.logger.Warn("read failed", slog.String("error", frame.err.Error()))
					return frame.err
				}
				return nil
			}
			resetIdle()

			finalize, err := r.handleFrame(frame.data, judging, &endRequested, judgeCh)
			if err != nil {
				return err
			}
			if r.machine.Status() == StatusTurnReceived && !judging {
				judging = true
			}
			if finalize {
				return r.finalize()
			}

		case outcome := <-judgeCh:
			judging = false
			r.recordJudgeOutcome(outcome)

			if endRequested {
				return r.finalize()
			}
			question, done, err := r.machine.Advance()
			if err != nil {
				// Advance after a resolved judgment can only fail if the
				// client already forced finalization.
				r.logger.Warn("advance rejected", slog.String("error", err.Error()))
				continue
			}
			if done {
				return r.finalize()
			}
			if err := r.sendJSON(protocol.TypeQuestion, question); err != nil {
				r.outcome = OutcomeDisconnected
				return err
			}
		}
	}
}

// startReadLoop pumps inbound frames into a channel so the run loop can
// select over reads, judgments, and timers. The channel closes when the
// read side dies.
func (r *Runner) startReadLoop() <-chan inboundFrame {
	out := make(chan inboundFrame, 8)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		for {
			messageType, data, err := r.conn.ReadMessage()
			if err != nil {
				select {
				case out <- inboundFrame{err: err}:
				case <-r.ctx.Done():
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			select {
			case out <- inboundFrame{data: data}:
			case <-r.ctx.Done():
				return
			}
		}
	}()
	return out
}

// handleFrame decodes and applies one client frame. It reports whether the
// loop should finalize now. Rejections are answered with an error frame
// and never mutate the machine.
func (r *Runner) handleFrame(data []byte, judging bool, endRequested *bool, judgeCh chan<- judgeOutcome) (bool, error) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		var decodeErr *protocol.DecodeError
		code := protocol.CodeBadRequest
		if errors.As(err, &decodeErr) {
			code = decodeErr.Code
		}
		r.sendError(protocol.ScopeProtocol, code, err.Error(), false)
		return false, nil
	}

	switch msg := msg.(type) {
	case protocol.Start:
		question, err := r.machine.Start()
		if err != nil {
			r.rejectFrame(err)
			return false, nil
		}
		r.logger.Info("interview started", slog.String("candidate", r.machine.CandidateName()))
		if err := r.sendJSON(protocol.TypeQuestion, question); err != nil {
			r.outcome = OutcomeDisconnected
			return false, err
		}
		return false, nil

	case protocol.Turn:
		if judging {
			// The machine is in turn_received, so this rejects without
			// touching the stored turns.
			r.rejectFrame(reject(protocol.CodeOutOfSequence,
				"previous turn is still being evaluated"))
			return false, nil
		}
		number, err := r.machine.ReceiveTurn(msg)
		if err != nil {
			r.rejectFrame(err)
			return false, nil
		}
		r.metrics.RecordTurn(r.machine.TargetRole(), len(msg.Transcript))
		r.logger.Info("turn received",
			slog.Int("turn", number),
			slog.Int("transcript_chars", len(msg.Transcript)),
			slog.Int("frames", len(msg.VideoFrames)))
		r.startJudgment(number, msg, judgeCh)
		return false, nil

	case protocol.End:
		if err := r.machine.End(); err != nil {
			r.rejectFrame(err)
			return false, nil
		}
		r.outcome = OutcomeEnded
		if judging {
			// Finalize once the in-flight judgment lands; the judge's own
			// timeout bounds the wait.
			*endRequested = true
			return false, nil
		}
		return true, nil

	default:
		r.sendError(protocol.ScopeProtocol, protocol.CodeBadRequest,
			"unsupported message", false)
		return false, nil
	}
}

// rejectFrame answers a refused transition without changing state.
func (r *Runner) rejectFrame(err error) {
	var rejection *RejectionError
	code := protocol.CodeBadRequest
	if errors.As(err, &rejection) {
		code = rejection.Code
	}
	r.sendError(protocol.ScopeProtocol, code, err.Error(), false)
}

// startJudgment evaluates one turn off the loop goroutine. Exactly one
// judgment is in flight at a time; the machine rejects further turns until
// the result lands on judgeCh.
func (r *Runner) startJudgment(turnNumber int, msg protocol.Turn, judgeCh chan<- judgeOutcome) {
	persona := r.machine.Persona()
	request := judge.TurnRequest{
		Role:       r.machine.TargetRole(),
		Style:      persona.Style,
		Question:   questionFor(r.machine, turnNumber),
		Transcript: msg.Transcript,
	}
	if msg.Behavior != nil {
		request.Behavior = &judge.BehaviorContext{
			EyeContactRatio:      msg.Behavior.EyeContactRatio,
			ConfidenceIndicators: msg.Behavior.ConfidenceIndicators,
			Notes:                msg.Behavior.Notes,
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.config.JudgmentTimeout)
		defer cancel()

		started := time.Now()
		judgment, err := r.judge.ScoreTurn(ctx, request)
		status := "ok"
		if err != nil {
			status = "failed"
		}
		r.metrics.RecordJudgment(status, time.Since(started))

		select {
		case judgeCh <- judgeOutcome{turnNumber: turnNumber, judgment: judgment, err: err}:
		case <-r.ctx.Done():
		}
	}()
}

// recordJudgeOutcome applies a resolved judgment to the machine. A failed
// call leaves the turn ungraded; the session continues.
func (r *Runner) recordJudgeOutcome(outcome judgeOutcome) {
	if outcome.err != nil {
		r.logger.Warn("turn judgment failed, leaving turn ungraded",
			slog.Int("turn", outcome.turnNumber),
			slog.String("error", outcome.err.Error()))
		r.machine.RecordJudgment(outcome.turnNumber, 0, "", false)
		r.sendError(protocol.ScopeJudgment, protocol.CodeJudgmentFailed,
			fmt.Sprintf("turn %d could not be evaluated and will be excluded from scoring", outcome.turnNumber),
			false)
		return
	}
	r.machine.RecordJudgment(outcome.turnNumber, outcome.judgment.Score, outcome.judgment.Feedback, true)
	r.logger.Info("turn judged",
		slog.Int("turn", outcome.turnNumber),
		slog.Int("score", outcome.judgment.Score))
}

// finalize composes the report, sends it, archives it best-effort, and
// closes the connection.
func (r *Runner) finalize() error {
	if r.outcome == OutcomeDisconnected {
		r.outcome = OutcomeCompleted
	}

	summary := scoring.SummarizeBehavior(r.machine.Observations())
	behavioralScore := scoring.BehavioralScore(summary)

	narrative, narrativeErr := r.finalNarrative(summary)
	report := scoring.Compute(r.machine.ScoringTurns(), behavioralScore, narrative, narrativeErr)

	if err := r.machine.FinalizeWith(report); err != nil {
		return fmt.Errorf("finalize session %s: %w", r.machine.ID(), err)
	}

	mode := "scored"
	if report.BehavioralOnly {
		mode = "behavioral_only"
	}
	r.metrics.RecordReport(mode)
	r.logger.Info("report finalized",
		slog.Int("final_score", report.FinalScore),
		slog.Float64("behavioral_score", report.BehavioralScore),
		slog.Bool("behavioral_only", report.BehavioralOnly),
		slog.Int("turns", report.TurnCount))

	if err := r.sendJSON(protocol.TypeReport, report); err != nil {
		r.outcome = OutcomeDisconnected
		r.archiveReport(report)
		return err
	}
	r.archiveReport(report)
	r.closeConn(websocket.CloseNormalClosure, "interview complete")
	return nil
}

// finalNarrative asks the judge for the closing narrative. Failure is
// tolerated; the numeric report stands on its own.
func (r *Runner) finalNarrative(summary scoring.BehaviorSummary) (*scoring.Narrative, error) {
	if len(r.machine.Turns()) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.config.NarrativeTimeout)
	defer cancel()

	persona := r.machine.Persona()
	request := judge.NarrativeRequest{
		Role:          r.machine.TargetRole(),
		Style:         persona.Style,
		CandidateName: r.machine.CandidateName(),
		Transcript:    fullTranscript(r.machine.Turns()),
		AvgEyeContact: summary.AvgEyeContact,
	}
	for _, turn := range r.machine.Turns() {
		for _, obs := range turn.Behavior {
			request.ConfidenceIndicators = append(request.ConfidenceIndicators, obs.ConfidenceIndicators...)
			if obs.Notes != "" {
				request.Notes = append(request.Notes, obs.Notes)
			}
		}
	}

	narrative, err := r.judge.FinalNarrative(ctx, request)
	if err != nil {
		r.logger.Warn("final narrative failed, report carries numeric results only",
			slog.String("error", err.Error()))
		return nil, err
	}
	return &narrative, nil
}

// archiveReport persists the report best-effort. Archive failure never
// blocks report delivery.
func (r *Runner) archiveReport(report scoring.Report) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ArchiveTimeout)
	defer cancel()

	err := r.archive.ArchiveReport(ctx, r.machine.ID(), r.machine.TargetRole(), r.machine.CandidateName(), report)
	if err != nil {
		r.metrics.RecordArchive("failed")
		r.logger.Warn("report archive failed", slog.String("error", err.Error()))
		return
	}
	r.metrics.RecordArchive("ok")
}

// sendJSON writes one enveloped frame. Only the Run goroutine writes.
func (r *Runner) sendJSON(typ string, payload any) error {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

// sendError emits an error frame. Write failures are logged, not
// propagated; the read loop will surface a dead connection.
func (r *Runner) sendError(scope, code, message string, close bool) {
	r.metrics.RecordClientError(scope, code)
	err := r.sendJSON(protocol.TypeError, protocol.WireError{
		Scope:   scope,
		Code:    code,
		Message: message,
		Close:   close,
	})
	if err != nil {
		r.logger.Debug("error frame not delivered", slog.String("error", err.Error()))
	}
}

func (r *Runner) closeConn(code int, reason string) {
	deadline := time.Now().Add(r.config.WriteTimeout)
	message := websocket.FormatCloseMessage(code, reason)
	if err := r.conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		r.logger.Debug("close frame not delivered", slog.String("error", err.Error()))
	}
}

func questionFor(m *Machine, turnNumber int) string {
	turns := m.Turns()
	if turnNumber >= 1 && turnNumber <= len(turns) {
		return turns[turnNumber-1].Question
	}
	question, _ := m.Persona().Question(turnNumber)
	return question
}

func fullTranscript(turns []Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s", turn.Number, turn.Question, turn.Number, turn.Transcript)
	}
	return b.String()
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
