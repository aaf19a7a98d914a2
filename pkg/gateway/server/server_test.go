package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextstep-labs/interviewd/pkg/gateway/config"
	"github.com/nextstep-labs/interviewd/pkg/gateway/judge"
	"github.com/nextstep-labs/interviewd/pkg/gateway/lifecycle"
	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
	"github.com/nextstep-labs/interviewd/pkg/gateway/sessions"
)

type staticJudge struct {
	score int
}

func (j staticJudge) ScoreTurn(ctx context.Context, req judge.TurnRequest) (judge.TurnJudgment, error) {
	return judge.TurnJudgment{Score: j.score, Feedback: "solid answer"}, nil
}

func (j staticJudge) FinalNarrative(ctx context.Context, req judge.NarrativeRequest) (scoring.Narrative, error) {
	return scoring.Narrative{OverallImpression: "composed"}, nil
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:           config.AuthModeDisabled,
		APIKeys:            map[string]struct{}{},
		CORSAllowedOrigins: map[string]struct{}{},
		MaxTurns:           1,
		JudgeAPIKey:        "sk-test",
		JudgeTimeout:       3 * time.Second,
		NarrativeTimeout:   3 * time.Second,
		ArchiveTimeout:     time.Second,
		SessionIdleTimeout: 5 * time.Second,
		SessionTTL:         time.Minute,
		WSWriteTimeout:     2 * time.Second,
		WSPongTimeout:      10 * time.Second,
		WSPingInterval:     2 * time.Second,
		MaxMessageBytes:    1 << 20,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	deps := Dependencies{
		Registry:  sessions.NewRegistry(cfg.SessionTTL, logger),
		Personas:  persona.NewRegistry(),
		Judge:     staticJudge{score: 88},
		Lifecycle: &lifecycle.Lifecycle{},
	}
	srv := httptest.NewServer(New(cfg, deps, logger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func createSession(t *testing.T, srv *httptest.Server, role string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"targetRole": role, "userName": "Ada"})
	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%q", resp.StatusCode, raw)
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("empty sessionId")
	}
	return created.SessionID
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	srv := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestServer_RolesRoute_ListsPersonas(t *testing.T) {
	srv := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/v1/roles")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%q", resp.StatusCode, raw)
	}
	if !strings.Contains(string(raw), "Software Engineer") {
		t.Fatalf("body=%q", raw)
	}
}

func TestServer_CreateSession_UnknownRoleRejected(t *testing.T) {
	srv := newTestServer(t, testConfig())

	body, _ := json.Marshal(map[string]string{"targetRole": "Underwater Basket Weaver"})
	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
	var failed struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&failed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if failed.Error.Code != "unknown_role" {
		t.Fatalf("code=%q, want unknown_role", failed.Error.Code)
	}
}

func TestServer_WebSocketUnknownSession_Rejected(t *testing.T) {
	srv := newTestServer(t, testConfig())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interview/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestServer_FullInterviewOverWebSocket(t *testing.T) {
	srv := newTestServer(t, testConfig())
	sessionID := createSession(t, srv, "Software Engineer")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interview/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(typ string, payload any) {
		t.Helper()
		data, err := protocol.Encode(typ, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	read := func() any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return msg
	}

	send(protocol.TypeStart, nil)
	question, ok := read().(protocol.Question)
	if !ok || question.TurnNumber != 1 || !question.IsFinal {
		t.Fatalf("question = %+v", question)
	}

	send(protocol.TypeTurn, protocol.Turn{
		Transcript: "I would start by clarifying the requirements.",
		Behavior:   &protocol.Behavior{EyeContactRatio: 0.8},
	})

	raw, ok := read().(json.RawMessage)
	if !ok {
		t.Fatal("expected report frame")
	}
	var report scoring.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.ContentScore == nil || *report.ContentScore != 88 {
		t.Fatalf("content score = %v", report.ContentScore)
	}
	if report.OverallImpression != "composed" {
		t.Fatalf("narrative missing: %+v", report)
	}
}

func TestServer_SecondConnectionConflicts(t *testing.T) {
	srv := newTestServer(t, testConfig())
	sessionID := createSession(t, srv, "Software Engineer")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interview/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.APIKeys = map[string]struct{}{"sk_live": {}}
	srv := newTestServer(t, cfg)

	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer sk_live")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST with key: %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d", authed.StatusCode)
	}
}
