package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    any
		wantErr string
	}{
		{
			name:  "start",
			frame: `{"type":"start"}`,
			want:  Start{},
		},
		{
			name:  "end",
			frame: `{"type":"end"}`,
			want:  End{},
		},
		{
			name:  "turn with transcript",
			frame: `{"type":"turn","payload":{"transcript":"my answer","durationMs":1200}}`,
			want:  Turn{Transcript: "my answer", DurationMs: 1200},
		},
		{
			name:    "turn without transcript",
			frame:   `{"type":"turn","payload":{"videoFrames":["a"]}}`,
			wantErr: "transcript",
		},
		{
			name:    "turn with negative duration",
			frame:   `{"type":"turn","payload":{"transcript":"x","durationMs":-5}}`,
			wantErr: "durationMs",
		},
		{
			name:    "turn with out-of-range eye contact",
			frame:   `{"type":"turn","payload":{"transcript":"x","behavior":{"eyeContactRatio":1.5}}}`,
			wantErr: "eyeContactRatio",
		},
		{
			name:    "server type from client",
			frame:   `{"type":"question"}`,
			wantErr: "server-originated",
		},
		{
			name:    "unknown type",
			frame:   `{"type":"bogus"}`,
			wantErr: "unsupported",
		},
		{
			name:    "missing type",
			frame:   `{"payload":{}}`,
			wantErr: "missing type",
		},
		{
			name:    "not json",
			frame:   `not json`,
			wantErr: "invalid json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.frame))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("DecodeClientMessage() accepted %s", tt.frame)
				}
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("error is %T, want *DecodeError", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClientMessage() error: %v", err)
			}
			switch want := tt.want.(type) {
			case Turn:
				turn, ok := got.(Turn)
				if !ok {
					t.Fatalf("got %T, want Turn", got)
				}
				if turn.Transcript != want.Transcript || turn.DurationMs != want.DurationMs {
					t.Errorf("Turn = %+v, want %+v", turn, want)
				}
			default:
				if got != tt.want {
					t.Errorf("got %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeClientMessage_FrameWindowBound(t *testing.T) {
	frames := make([]string, MaxTurnFrames+1)
	for i := range frames {
		frames[i] = "f"
	}
	payload, _ := json.Marshal(Turn{Transcript: "x", VideoFrames: frames})
	frame, _ := json.Marshal(Envelope{Type: TypeTurn, Payload: payload})

	if _, err := DecodeClientMessage(frame); err == nil {
		t.Error("oversized frame window accepted")
	}
}

func TestDecodeServerMessage(t *testing.T) {
	t.Run("question", func(t *testing.T) {
		frame, err := Encode(TypeQuestion, Question{Text: "Tell me about yourself.", TurnNumber: 1})
		if err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
		got, err := DecodeServerMessage(frame)
		if err != nil {
			t.Fatalf("DecodeServerMessage() error: %v", err)
		}
		q, ok := got.(Question)
		if !ok {
			t.Fatalf("got %T, want Question", got)
		}
		if q.TurnNumber != 1 || q.IsFinal {
			t.Errorf("Question = %+v", q)
		}
	})

	t.Run("question without text", func(t *testing.T) {
		frame, _ := Encode(TypeQuestion, Question{TurnNumber: 1})
		if _, err := DecodeServerMessage(frame); err == nil {
			t.Error("question without text accepted")
		}
	})

	t.Run("error frame", func(t *testing.T) {
		frame, _ := Encode(TypeError, WireError{Scope: ScopeProtocol, Code: CodeOutOfSequence, Message: "no pending question"})
		got, err := DecodeServerMessage(frame)
		if err != nil {
			t.Fatalf("DecodeServerMessage() error: %v", err)
		}
		we, ok := got.(WireError)
		if !ok || we.Code != CodeOutOfSequence {
			t.Errorf("got %#v", got)
		}
	})

	t.Run("report passthrough", func(t *testing.T) {
		frame, _ := Encode(TypeReport, map[string]any{"finalScore": 72})
		got, err := DecodeServerMessage(frame)
		if err != nil {
			t.Fatalf("DecodeServerMessage() error: %v", err)
		}
		if _, ok := got.(json.RawMessage); !ok {
			t.Errorf("got %T, want json.RawMessage", got)
		}
	})

	t.Run("client type from server", func(t *testing.T) {
		frame, _ := Encode(TypeTurn, Turn{Transcript: "x"})
		if _, err := DecodeServerMessage(frame); err == nil {
			t.Error("client-originated type accepted")
		}
	})
}
