package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextstep-labs/interviewd/pkg/gateway/judge"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

// fakeJudge scripts per-call scores and failures. Call numbers are 1-based
// in arrival order.
type fakeJudge struct {
	mu        sync.Mutex
	scores    []int
	failOn    map[int]bool
	delay     time.Duration
	calls     int
	narrative scoring.Narrative
}

func (f *fakeJudge) ScoreTurn(ctx context.Context, req judge.TurnRequest) (judge.TurnJudgment, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return judge.TurnJudgment{}, ctx.Err()
		}
	}
	if f.failOn[call] {
		return judge.TurnJudgment{}, fmt.Errorf("%w: scripted failure", judge.ErrUnavailable)
	}
	score := 75
	if call <= len(f.scores) {
		score = f.scores[call-1]
	}
	return judge.TurnJudgment{Score: score, Feedback: fmt.Sprintf("feedback %d", call)}, nil
}

func (f *fakeJudge) FinalNarrative(ctx context.Context, req judge.NarrativeRequest) (scoring.Narrative, error) {
	return f.narrative, nil
}

func testConfig() Config {
	config := DefaultConfig()
	config.IdleTimeout = 3 * time.Second
	config.WriteTimeout = 2 * time.Second
	config.PongTimeout = 5 * time.Second
	config.PingInterval = time.Second
	config.JudgmentTimeout = 3 * time.Second
	config.NarrativeTimeout = 3 * time.Second
	return config
}

// dialRunner stands up a runner behind a real websocket upgrade and dials
// it. The returned channel delivers Run's result.
func dialRunner(t *testing.T, machine *Machine, j judge.Judge, config Config) (*websocket.Conn, chan error) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	upgrader := websocket.Upgrader{}
	done := make(chan error, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		runner := NewRunner(machine, conn, j, nil, nil, logger, config)
		done <- runner.Run(context.Background())
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, done
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("decode server frame %s: %v", data, err)
	}
	return msg
}

func readQuestion(t *testing.T, conn *websocket.Conn) protocol.Question {
	t.Helper()
	msg := readFrame(t, conn)
	question, ok := msg.(protocol.Question)
	if !ok {
		t.Fatalf("expected question, got %T: %+v", msg, msg)
	}
	return question
}

func readReport(t *testing.T, conn *websocket.Conn) scoring.Report {
	t.Helper()
	msg := readFrame(t, conn)
	raw, ok := msg.(json.RawMessage)
	if !ok {
		t.Fatalf("expected report, got %T: %+v", msg, msg)
	}
	var report scoring.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	return report
}

func readError(t *testing.T, conn *websocket.Conn) protocol.WireError {
	t.Helper()
	msg := readFrame(t, conn)
	wireErr, ok := msg.(protocol.WireError)
	if !ok {
		t.Fatalf("expected error frame, got %T: %+v", msg, msg)
	}
	return wireErr
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not finish")
		return nil
	}
}

func TestRunner_FullInterview(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)
	j := &fakeJudge{scores: []int{80, 90}}
	client, done := dialRunner(t, machine, j, testConfig())

	sendFrame(t, client, protocol.TypeStart, nil)
	q1 := readQuestion(t, client)
	if q1.Text != "q1" || q1.TurnNumber != 1 || q1.IsFinal {
		t.Fatalf("question 1 = %+v", q1)
	}

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "my first answer"})
	q2 := readQuestion(t, client)
	if q2.Text != "q2" || q2.TurnNumber != 2 || !q2.IsFinal {
		t.Fatalf("question 2 = %+v", q2)
	}

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "my second answer"})
	report := readReport(t, client)

	// Content (80+90)/2 = 85, behavioral defaults to 35 with no
	// observations, final = round(0.7*85 + 0.3*35) = 70.
	if report.ContentScore == nil || *report.ContentScore != 85 {
		t.Fatalf("content score = %v, want 85", report.ContentScore)
	}
	if report.BehavioralScore != 35 {
		t.Fatalf("behavioral score = %v, want 35", report.BehavioralScore)
	}
	if report.FinalScore != 70 {
		t.Fatalf("final score = %d, want 70", report.FinalScore)
	}
	if report.BehavioralOnly {
		t.Fatal("graded interview flagged behavioral-only")
	}
	if report.TurnCount != 2 || len(report.QuestionFeedback) != 2 {
		t.Fatalf("turns = %d, feedback entries = %d", report.TurnCount, len(report.QuestionFeedback))
	}

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if machine.Status() != StatusFinalized {
		t.Fatalf("status = %s, want FINALIZED", machine.Status())
	}
}

func TestRunner_SecondTurnRejectedWhileJudging(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)
	j := &fakeJudge{scores: []int{80, 90}, delay: 400 * time.Millisecond}
	client, done := dialRunner(t, machine, j, testConfig())

	sendFrame(t, client, protocol.TypeStart, nil)
	readQuestion(t, client)

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "accepted answer"})
	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "duplicate answer"})

	wireErr := readError(t, client)
	if wireErr.Code != protocol.CodeOutOfSequence {
		t.Fatalf("duplicate turn error code = %q, want %q", wireErr.Code, protocol.CodeOutOfSequence)
	}
	if wireErr.Close {
		t.Fatal("out-of-sequence error must not close the session")
	}

	// The session continues: next question arrives once judgment lands.
	q2 := readQuestion(t, client)
	if q2.TurnNumber != 2 {
		t.Fatalf("question after rejection = %+v", q2)
	}

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "second accepted answer"})
	report := readReport(t, client)
	if report.TurnCount != 2 {
		t.Fatalf("turn count = %d, want 2 (duplicate must not be stored)", report.TurnCount)
	}
	if report.QuestionFeedback[0].Score == nil || *report.QuestionFeedback[0].Score != 80 {
		t.Fatalf("turn 1 score = %v, want 80", report.QuestionFeedback[0].Score)
	}
	waitDone(t, done)
}

func TestRunner_JudgeFailureExcludesTurn(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2", "q3"), 3)
	j := &fakeJudge{scores: []int{80, 0, 60}, failOn: map[int]bool{2: true}}
	client, done := dialRunner(t, machine, j, testConfig())

	sendFrame(t, client, protocol.TypeStart, nil)
	readQuestion(t, client)

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "answer one"})
	readQuestion(t, client)

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "answer two"})
	wireErr := readError(t, client)
	if wireErr.Scope != protocol.ScopeJudgment || wireErr.Code != protocol.CodeJudgmentFailed {
		t.Fatalf("judgment error frame = %+v", wireErr)
	}
	q3 := readQuestion(t, client)
	if q3.TurnNumber != 3 {
		t.Fatalf("session did not continue past failed judgment: %+v", q3)
	}

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "answer three"})
	report := readReport(t, client)

	// Only turns 1 and 3 are gradeable: (80+60)/2 = 70.
	if report.ContentScore == nil || *report.ContentScore != 70 {
		t.Fatalf("content score = %v, want 70", report.ContentScore)
	}
	if report.TurnCount != 3 {
		t.Fatalf("turn count = %d, want 3", report.TurnCount)
	}
	if report.QuestionFeedback[1].Score != nil {
		t.Fatalf("ungraded turn carries a score: %+v", report.QuestionFeedback[1])
	}
	waitDone(t, done)
}

func TestRunner_EndWithoutTurns(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)
	j := &fakeJudge{}
	client, done := dialRunner(t, machine, j, testConfig())

	sendFrame(t, client, protocol.TypeStart, nil)
	readQuestion(t, client)
	sendFrame(t, client, protocol.TypeEnd, nil)

	report := readReport(t, client)
	if !report.BehavioralOnly {
		t.Fatal("zero-turn report not flagged behavioral-only")
	}
	if report.ContentScore != nil {
		t.Fatalf("zero-turn report carries content score %v", *report.ContentScore)
	}
	if report.FinalScore != 35 {
		t.Fatalf("final score = %d, want behavioral-only 35", report.FinalScore)
	}
	if j.calls != 0 {
		t.Fatalf("judge called %d times with zero turns", j.calls)
	}
	waitDone(t, done)
}

func TestRunner_EndWaitsForInFlightJudgment(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)
	j := &fakeJudge{scores: []int{80}, delay: 300 * time.Millisecond}
	client, done := dialRunner(t, machine, j, testConfig())

	sendFrame(t, client, protocol.TypeStart, nil)
	readQuestion(t, client)
	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "only answer"})
	sendFrame(t, client, protocol.TypeEnd, nil)

	report := readReport(t, client)
	if report.ContentScore == nil || *report.ContentScore != 80 {
		t.Fatalf("content score = %v, want the in-flight judgment's 80", report.ContentScore)
	}
	if report.TurnCount != 1 {
		t.Fatalf("turn count = %d, want 1", report.TurnCount)
	}
	waitDone(t, done)
}

func TestRunner_OutOfSequenceBeforeStart(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1"), 1)
	j := &fakeJudge{}
	client, done := dialRunner(t, machine, j, testConfig())

	sendFrame(t, client, protocol.TypeTurn, protocol.Turn{Transcript: "premature"})
	wireErr := readError(t, client)
	if wireErr.Code != protocol.CodeOutOfSequence {
		t.Fatalf("premature turn code = %q", wireErr.Code)
	}

	// The connection survives and start still works.
	sendFrame(t, client, protocol.TypeStart, nil)
	q := readQuestion(t, client)
	if q.TurnNumber != 1 {
		t.Fatalf("question = %+v", q)
	}

	sendFrame(t, client, protocol.TypeEnd, nil)
	readReport(t, client)
	waitDone(t, done)
}

func TestRunner_MalformedFrameKeepsSessionAlive(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1"), 1)
	j := &fakeJudge{}
	client, done := dialRunner(t, machine, j, testConfig())

	if err := client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	wireErr := readError(t, client)
	if wireErr.Code != protocol.CodeBadRequest {
		t.Fatalf("malformed frame code = %q", wireErr.Code)
	}

	sendFrame(t, client, protocol.TypeStart, nil)
	readQuestion(t, client)
	if machine.Status() != StatusQuestionPending {
		t.Fatalf("status = %s", machine.Status())
	}

	sendFrame(t, client, protocol.TypeEnd, nil)
	readReport(t, client)
	waitDone(t, done)
}

func TestRunner_IdleTimeout(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1"), 1)
	config := testConfig()
	config.IdleTimeout = 200 * time.Millisecond
	client, done := dialRunner(t, machine, &fakeJudge{}, config)

	wireErr := readError(t, client)
	if wireErr.Code != protocol.CodeIdleTimeout || !wireErr.Close {
		t.Fatalf("idle error = %+v", wireErr)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunner_ClientDisconnectBeforeReport(t *testing.T) {
	machine := NewMachine("s1", "Software Engineer", "Ada", testPersona("q1", "q2"), 2)
	client, done := dialRunner(t, machine, &fakeJudge{}, testConfig())

	sendFrame(t, client, protocol.TypeStart, nil)
	readQuestion(t, client)
	client.Close()

	waitDone(t, done)
	if machine.Status() == StatusFinalized {
		t.Fatal("abandoned session finalized")
	}
}
