// Package judge wraps the external language-judgment service: per-turn
// content scores and the final qualitative report fields. The service is
// fallible and latency-variable; callers treat every method as a network
// call that may fail after bounded retries.
package judge

import (
	"context"
	"errors"

	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

// ErrUnavailable is returned once the retry budget for a call is spent.
var ErrUnavailable = errors.New("judge: service unavailable")

// BehaviorContext is optional delivery context attached to a turn request.
type BehaviorContext struct {
	EyeContactRatio      float64
	ConfidenceIndicators []string
	Notes                string
}

// TurnRequest asks for a content judgment of one answer.
type TurnRequest struct {
	Role       string
	Style      string
	Question   string
	Transcript string
	Behavior   *BehaviorContext
}

// TurnJudgment is the graded result for one turn.
type TurnJudgment struct {
	Score    int // 0..100
	Feedback string
}

// NarrativeRequest asks for the qualitative report fields over the full
// turn history.
type NarrativeRequest struct {
	Role          string
	Style         string
	CandidateName string

	// Transcript is the formatted question/answer history.
	Transcript string

	AvgEyeContact        float64
	ConfidenceIndicators []string
	Notes                []string
}

// Judge is the judgment-service client surface.
type Judge interface {
	// ScoreTurn grades one answer. Errors mean the turn stays ungraded.
	ScoreTurn(ctx context.Context, req TurnRequest) (TurnJudgment, error)

	// FinalNarrative produces the qualitative report fields. Errors leave
	// the report numeric-only.
	FinalNarrative(ctx context.Context, req NarrativeRequest) (scoring.Narrative, error)
}
