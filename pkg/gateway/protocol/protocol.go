// Package protocol defines the interview channel message envelope and the
// shape rules both sides enforce. Message ordering is validated by the
// server session state machine; this package only rejects malformed frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message types carried in the envelope.
const (
	TypeStart    = "start"
	TypeQuestion = "question"
	TypeTurn     = "turn"
	TypeEnd      = "end"
	TypeReport   = "report"
	TypeError    = "error"
)

// Error scopes for the error frame.
const (
	ScopeProtocol = "protocol"
	ScopeSession  = "session"
	ScopeJudgment = "judgment"
)

// Error codes for the error frame.
const (
	CodeBadRequest      = "bad_request"
	CodeOutOfSequence   = "out_of_sequence"
	CodeSessionNotFound = "session_not_found"
	CodeShuttingDown    = "shutting_down"
	CodeIdleTimeout     = "idle_timeout"
	CodeJudgmentFailed  = "judgment_failed"
)

// MaxTurnFrames bounds how many video frames one turn message may carry.
const MaxTurnFrames = 30

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

// Envelope is the outer frame: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Start opens the interview. Valid only as the first client message.
type Start struct{}

// Behavior is the per-turn behavioral observation metadata produced by the
// client from its sampled frames. The frames themselves travel in
// Turn.VideoFrames.
type Behavior struct {
	EyeContactRatio      float64  `json:"eyeContactRatio"`
	ConfidenceIndicators []string `json:"confidenceIndicators,omitempty"`
	Notes                string   `json:"notes,omitempty"`
}

// Turn is the client's completed answer to the pending question.
type Turn struct {
	Transcript  string    `json:"transcript"`
	VideoFrames []string  `json:"videoFrames,omitempty"`
	Behavior    *Behavior `json:"behavior,omitempty"`
	DurationMs  int64     `json:"durationMs,omitempty"`
}

// End forces immediate finalization with the turns completed so far.
type End struct{}

// Question is the server's next prompt. IsFinal marks the last scheduled
// question of the interview.
type Question struct {
	Text       string `json:"text"`
	TurnNumber int    `json:"turnNumber"`
	IsFinal    bool   `json:"isFinal"`
}

// WireError is the error frame payload. It does not close the channel by
// itself; Close tells the client the server will drop the connection.
type WireError struct {
	Scope   string `json:"scope,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// DecodeClientMessage parses and shape-checks one client frame.
// Returns Start, Turn, or End, or a *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeStart:
		return Start{}, nil
	case TypeTurn:
		var msg Turn
		if len(envelope.Payload) > 0 {
			if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
				return nil, badRequest("invalid turn payload", "payload")
			}
		}
		if strings.TrimSpace(msg.Transcript) == "" {
			return nil, badRequest("turn.transcript is required", "transcript")
		}
		if len(msg.VideoFrames) > MaxTurnFrames {
			return nil, badRequest(
				fmt.Sprintf("turn.videoFrames exceeds the %d frame window", MaxTurnFrames),
				"videoFrames",
			)
		}
		if msg.Behavior != nil {
			if r := msg.Behavior.EyeContactRatio; r < 0 || r > 1 {
				return nil, badRequest("turn.behavior.eyeContactRatio must be in [0,1]", "behavior.eyeContactRatio")
			}
		}
		if msg.DurationMs < 0 {
			return nil, badRequest("turn.durationMs must be >= 0", "durationMs")
		}
		return msg, nil
	case TypeEnd:
		return End{}, nil
	case TypeQuestion, TypeReport, TypeError:
		return nil, badRequest("server-originated message type", "type")
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// DecodeServerMessage parses and shape-checks one server frame on the
// client side. Returns Question, a report payload as json.RawMessage for
// the caller to bind, or WireError.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeQuestion:
		var msg Question
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			return nil, badRequest("invalid question payload", "payload")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("question.text is required", "text")
		}
		if msg.TurnNumber < 1 {
			return nil, badRequest("question.turnNumber must be >= 1", "turnNumber")
		}
		return msg, nil
	case TypeReport:
		if len(envelope.Payload) == 0 {
			return nil, badRequest("report payload is required", "payload")
		}
		return envelope.Payload, nil
	case TypeError:
		var msg WireError
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			return nil, badRequest("invalid error payload", "payload")
		}
		if strings.TrimSpace(msg.Code) == "" {
			return nil, badRequest("error.code is required", "code")
		}
		return msg, nil
	case TypeStart, TypeTurn, TypeEnd:
		return nil, badRequest("client-originated message type", "type")
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// Encode wraps a payload into an envelope frame.
func Encode(typ string, payload any) ([]byte, error) {
	envelope := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		envelope.Payload = raw
	}
	return json.Marshal(envelope)
}
