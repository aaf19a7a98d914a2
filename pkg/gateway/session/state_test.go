package session

import (
	"errors"
	"testing"

	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

func testPersona(questions ...string) persona.Persona {
	return persona.Persona{
		Role:      "Software Engineer",
		Style:     "direct and technical",
		Questions: questions,
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)

	if m.Status() != StatusAwaitingStart {
		t.Fatalf("initial status = %s", m.Status())
	}

	q, err := m.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if q.Text != "q1" || q.TurnNumber != 1 || q.IsFinal {
		t.Fatalf("question 1 = %+v", q)
	}

	number, err := m.ReceiveTurn(protocol.Turn{Transcript: "my first answer"})
	if err != nil {
		t.Fatalf("ReceiveTurn: %v", err)
	}
	if number != 1 {
		t.Fatalf("turn number = %d, want 1", number)
	}
	if m.Status() != StatusTurnReceived {
		t.Fatalf("status = %s, want TURN_RECEIVED", m.Status())
	}

	m.RecordJudgment(1, 80, "good", true)
	q, done, err := m.Advance()
	if err != nil || done {
		t.Fatalf("Advance: done=%v err=%v", done, err)
	}
	if q.Text != "q2" || q.TurnNumber != 2 || !q.IsFinal {
		t.Fatalf("question 2 = %+v", q)
	}

	if _, err := m.ReceiveTurn(protocol.Turn{Transcript: "my second answer"}); err != nil {
		t.Fatalf("ReceiveTurn 2: %v", err)
	}
	m.RecordJudgment(2, 90, "great", true)

	if _, done, err := m.Advance(); err != nil || !done {
		t.Fatalf("final Advance: done=%v err=%v", done, err)
	}
	if m.Status() != StatusFinalizing {
		t.Fatalf("status = %s, want FINALIZING", m.Status())
	}

	turns := m.ScoringTurns()
	if len(turns) != 2 || turns[0].ContentScore != 80 || turns[1].ContentScore != 90 {
		t.Fatalf("scoring turns = %+v", turns)
	}
	if turns[0].Number != 1 || turns[1].Number != 2 {
		t.Fatalf("turn numbering not contiguous: %+v", turns)
	}
}

func TestMachine_RejectionsDoNotMutate(t *testing.T) {
	m := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)

	// Turn before start.
	if _, err := m.ReceiveTurn(protocol.Turn{Transcript: "premature"}); err == nil {
		t.Fatal("turn before start accepted")
	}
	if m.Status() != StatusAwaitingStart || len(m.Turns()) != 0 {
		t.Fatalf("rejection mutated state: status=%s turns=%d", m.Status(), len(m.Turns()))
	}

	if _, err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Second start.
	if _, err := m.Start(); err == nil {
		t.Fatal("second start accepted")
	}
	if m.Status() != StatusQuestionPending {
		t.Fatalf("second start mutated status to %s", m.Status())
	}

	// Duplicate turn while the first awaits judgment.
	if _, err := m.ReceiveTurn(protocol.Turn{Transcript: "answer one"}); err != nil {
		t.Fatalf("ReceiveTurn: %v", err)
	}
	_, err := m.ReceiveTurn(protocol.Turn{Transcript: "duplicate"})
	if err == nil {
		t.Fatal("duplicate turn accepted")
	}
	var rejection *RejectionError
	if !errors.As(err, &rejection) || rejection.Code != protocol.CodeOutOfSequence {
		t.Fatalf("duplicate turn error = %v, want out_of_sequence rejection", err)
	}
	if len(m.Turns()) != 1 || m.Turns()[0].Transcript != "answer one" {
		t.Fatalf("duplicate turn mutated turn list: %+v", m.Turns())
	}
}

func TestMachine_JudgmentFailureLeavesTurnUngraded(t *testing.T) {
	m := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)
	m.Start()
	m.ReceiveTurn(protocol.Turn{Transcript: "answer one"})
	m.RecordJudgment(1, 0, "", false)

	turns := m.ScoringTurns()
	if turns[0].ContentScore != scoring.ScoreUngraded {
		t.Fatalf("failed judgment set score %d, want sentinel", turns[0].ContentScore)
	}
	if turns[0].Gradeable() {
		t.Fatal("ungraded turn reported gradeable")
	}

	// A late duplicate resolution must not overwrite the first.
	m.RecordJudgment(1, 95, "late", true)
	if m.ScoringTurns()[0].ContentScore != scoring.ScoreUngraded {
		t.Fatal("duplicate judgment resolution overwrote the first")
	}
}

func TestMachine_EndFromEveryPreReportState(t *testing.T) {
	// awaiting_start
	m := NewMachine("s1", "r", "c", testPersona("q1"), 1)
	if err := m.End(); err != nil {
		t.Fatalf("End from awaiting_start: %v", err)
	}
	if m.Status() != StatusFinalizing {
		t.Fatalf("status = %s", m.Status())
	}

	// question_pending
	m = NewMachine("s2", "r", "c", testPersona("q1"), 1)
	m.Start()
	if err := m.End(); err != nil {
		t.Fatalf("End from question_pending: %v", err)
	}

	// turn_received
	m = NewMachine("s3", "r", "c", testPersona("q1", "q2"), 2)
	m.Start()
	m.ReceiveTurn(protocol.Turn{Transcript: "answer"})
	if err := m.End(); err != nil {
		t.Fatalf("End from turn_received: %v", err)
	}

	// finalized rejects end
	if err := m.FinalizeWith(scoring.Report{FinalScore: 50}); err != nil {
		t.Fatalf("FinalizeWith: %v", err)
	}
	if err := m.End(); err == nil {
		t.Fatal("End accepted after finalization")
	}
}

func TestMachine_FinalizeOnce(t *testing.T) {
	m := NewMachine("s1", "r", "c", testPersona("q1"), 1)
	m.End()
	if err := m.FinalizeWith(scoring.Report{FinalScore: 42}); err != nil {
		t.Fatalf("FinalizeWith: %v", err)
	}
	if err := m.FinalizeWith(scoring.Report{FinalScore: 99}); err == nil {
		t.Fatal("second FinalizeWith accepted")
	}
	if m.Report().FinalScore != 42 {
		t.Fatalf("report mutated after finalization: %d", m.Report().FinalScore)
	}
}

func TestMachine_ObservationsAggregateAcrossTurns(t *testing.T) {
	m := NewMachine("s1", "r", "c", testPersona("q1", "q2"), 2)
	m.Start()
	m.ReceiveTurn(protocol.Turn{
		Transcript: "answer one",
		Behavior:   &protocol.Behavior{EyeContactRatio: 0.8, ConfidenceIndicators: []string{"steady pace"}},
	})
	m.RecordJudgment(1, 70, "", true)
	m.Advance()
	m.ReceiveTurn(protocol.Turn{
		Transcript: "answer two",
		Behavior:   &protocol.Behavior{EyeContactRatio: 0.4},
	})

	obs := m.Observations()
	if len(obs) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs))
	}
	if obs[0].EyeContactRatio != 0.8 || obs[1].EyeContactRatio != 0.4 {
		t.Fatalf("observations = %+v", obs)
	}
}
