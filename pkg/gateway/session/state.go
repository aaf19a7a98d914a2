// Package session drives one interview: the per-connection state machine,
// turn storage, judgment serialization, and finalization.
package session

import (
	"fmt"
	"time"

	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

// Status is the server-side interview lifecycle.
type Status int

const (
	// StatusAwaitingStart is after creation, before the start message.
	StatusAwaitingStart Status = iota
	// StatusQuestionPending is while a question awaits its answer.
	StatusQuestionPending
	// StatusTurnReceived is while the stored turn awaits its judgment.
	StatusTurnReceived
	// StatusFinalizing is while the report is being composed.
	StatusFinalizing
	// StatusFinalized is terminal; the report exists and never changes.
	StatusFinalized
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusAwaitingStart:
		return "AWAITING_START"
	case StatusQuestionPending:
		return "QUESTION_PENDING"
	case StatusTurnReceived:
		return "TURN_RECEIVED"
	case StatusFinalizing:
		return "FINALIZING"
	case StatusFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxTurns is the scheduled question count per interview.
const DefaultMaxTurns = 5

// BehavioralObservation is the delivery evidence attached to one turn.
// Immutable once attached.
type BehavioralObservation struct {
	Frames               []string
	EyeContactRatio      float64
	ConfidenceIndicators []string
	Notes                string
}

// Turn is one stored question-answer exchange. Mutated once when the
// answer arrives and once more when its judgment resolves.
type Turn struct {
	Question     string
	Number       int
	Transcript   string
	Duration     time.Duration
	Behavior     []BehavioralObservation
	ContentScore int // scoring.ScoreUngraded until the judgment resolves
	Feedback     string
	graded       bool
}

// RejectionError is a protocol violation: the message was refused and the
// interview state did not change.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

func reject(code, format string, args ...any) *RejectionError {
	return &RejectionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Machine is the deterministic per-interview state machine. It performs no
// I/O; the connection runner feeds it events and acts on its outputs.
// All methods either fully apply a transition or fully reject it.
type Machine struct {
	id            string
	targetRole    string
	candidateName string
	persona       persona.Persona
	maxTurns      int

	status Status
	turns  []Turn
	report *scoring.Report
}

// NewMachine creates a machine in awaiting_start. maxTurns is capped at
// the persona's scheduled question count.
func NewMachine(id, targetRole, candidateName string, p persona.Persona, maxTurns int) *Machine {
	if maxTurns <= 0 || maxTurns > len(p.Questions) {
		maxTurns = len(p.Questions)
	}
	if maxTurns > DefaultMaxTurns {
		maxTurns = DefaultMaxTurns
	}
	return &Machine{
		id:            id,
		targetRole:    targetRole,
		candidateName: candidateName,
		persona:       p,
		maxTurns:      maxTurns,
	}
}

// ID returns the session id.
func (m *Machine) ID() string { return m.id }

// TargetRole returns the interview's target role.
func (m *Machine) TargetRole() string { return m.targetRole }

// CandidateName returns the candidate's name.
func (m *Machine) CandidateName() string { return m.candidateName }

// Persona returns the interviewer persona.
func (m *Machine) Persona() persona.Persona { return m.persona }

// Status returns the current lifecycle status.
func (m *Machine) Status() Status { return m.status }

// Turns returns the stored turns. The slice is shared; callers must not
// mutate it.
func (m *Machine) Turns() []Turn { return m.turns }

// Report returns the finalized report, or nil before finalization.
func (m *Machine) Report() *scoring.Report { return m.report }

// Start handles the start message: issue question 1.
func (m *Machine) Start() (protocol.Question, error) {
	if m.status != StatusAwaitingStart {
		return protocol.Question{}, reject(protocol.CodeOutOfSequence,
			"start is only valid as the first message (state %s)", m.status)
	}
	question, ok := m.persona.Question(1)
	if !ok {
		return protocol.Question{}, reject(protocol.CodeBadRequest,
			"persona %q has no scheduled questions", m.persona.Role)
	}

	m.status = StatusQuestionPending
	return protocol.Question{
		Text:       question,
		TurnNumber: 1,
		IsFinal:    m.maxTurns == 1,
	}, nil
}

// ReceiveTurn stores the answer to the pending question. The turn starts
// ungraded; RecordJudgment fills the content score later. Returns the
// stored turn number.
func (m *Machine) ReceiveTurn(msg protocol.Turn) (int, error) {
	if m.status != StatusQuestionPending {
		return 0, reject(protocol.CodeOutOfSequence,
			"no pending question to answer (state %s)", m.status)
	}

	number := len(m.turns) + 1
	question, _ := m.persona.Question(number)

	turn := Turn{
		Question:     question,
		Number:       number,
		Transcript:   msg.Transcript,
		Duration:     time.Duration(msg.DurationMs) * time.Millisecond,
		ContentScore: scoring.ScoreUngraded,
	}
	if msg.Behavior != nil || len(msg.VideoFrames) > 0 {
		obs := BehavioralObservation{Frames: msg.VideoFrames}
		if msg.Behavior != nil {
			obs.EyeContactRatio = msg.Behavior.EyeContactRatio
			obs.ConfidenceIndicators = msg.Behavior.ConfidenceIndicators
			obs.Notes = msg.Behavior.Notes
		}
		turn.Behavior = append(turn.Behavior, obs)
	}

	m.turns = append(m.turns, turn)
	m.status = StatusTurnReceived
	return number, nil
}

// RecordJudgment resolves the pending judgment for the given turn.
// A nil result leaves the turn ungraded.
func (m *Machine) RecordJudgment(turnNumber, score int, feedback string, graded bool) {
	if turnNumber < 1 || turnNumber > len(m.turns) {
		return
	}
	turn := &m.turns[turnNumber-1]
	if turn.graded {
		return
	}
	turn.graded = true
	if graded {
		turn.ContentScore = score
		turn.Feedback = feedback
	}
}

// Advance moves past turn_received once the judgment resolved: either the
// next question, or finalizing when the schedule is exhausted.
func (m *Machine) Advance() (protocol.Question, bool, error) {
	if m.status != StatusTurnReceived {
		return protocol.Question{}, false, reject(protocol.CodeOutOfSequence,
			"nothing to advance (state %s)", m.status)
	}

	if len(m.turns) >= m.maxTurns {
		m.status = StatusFinalizing
		return protocol.Question{}, true, nil
	}

	number := len(m.turns) + 1
	question, ok := m.persona.Question(number)
	if !ok {
		m.status = StatusFinalizing
		return protocol.Question{}, true, nil
	}

	m.status = StatusQuestionPending
	return protocol.Question{
		Text:       question,
		TurnNumber: number,
		IsFinal:    number == m.maxTurns,
	}, false, nil
}

// End forces finalization with the turns completed so far, discarding any
// unanswered in-flight question. Valid any time before the report.
func (m *Machine) End() error {
	switch m.status {
	case StatusAwaitingStart, StatusQuestionPending, StatusTurnReceived:
		m.status = StatusFinalizing
		return nil
	default:
		return reject(protocol.CodeOutOfSequence,
			"end is not valid in state %s", m.status)
	}
}

// FinalizeWith records the report exactly once and moves to finalized.
func (m *Machine) FinalizeWith(report scoring.Report) error {
	if m.status != StatusFinalizing {
		return reject(protocol.CodeOutOfSequence,
			"finalize is not valid in state %s", m.status)
	}
	m.report = &report
	m.status = StatusFinalized
	return nil
}

// ScoringTurns projects the stored turns into the scoring engine's view.
func (m *Machine) ScoringTurns() []scoring.Turn {
	turns := make([]scoring.Turn, len(m.turns))
	for i, t := range m.turns {
		turns[i] = scoring.Turn{
			Question:     t.Question,
			Number:       t.Number,
			Transcript:   t.Transcript,
			ContentScore: t.ContentScore,
			Feedback:     t.Feedback,
		}
	}
	return turns
}

// Observations collects the behavioral observations across all turns.
func (m *Machine) Observations() []scoring.Observation {
	var out []scoring.Observation
	for _, t := range m.turns {
		for _, obs := range t.Behavior {
			out = append(out, scoring.Observation{
				EyeContactRatio:      obs.EyeContactRatio,
				ConfidenceIndicators: obs.ConfidenceIndicators,
			})
		}
	}
	return out
}
