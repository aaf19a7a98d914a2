package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"

	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

// Config tunes the OpenAI-compatible judgment client.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string

	// Model is the chat model used for grading.
	Model string

	// MaxAttempts bounds retries per call, first attempt included.
	MaxAttempts int

	// Backoff is the initial retry backoff.
	Backoff time.Duration

	// RequestTimeout caps one attempt.
	RequestTimeout time.Duration
}

// DefaultConfig returns judgment client defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          openai.GPT4oMini,
		MaxAttempts:    3,
		Backoff:        300 * time.Millisecond,
		RequestTimeout: 20 * time.Second,
	}
}

// OpenAIJudge implements Judge over an OpenAI-compatible chat API.
type OpenAIJudge struct {
	client *openai.Client
	config Config
	logger *slog.Logger
}

// NewOpenAIJudge creates the client. logger may be nil.
func NewOpenAIJudge(config Config, logger *slog.Logger) *OpenAIJudge {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = 300 * time.Millisecond
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIJudge{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// ScoreTurn implements Judge.
func (j *OpenAIJudge) ScoreTurn(ctx context.Context, req TurnRequest) (TurnJudgment, error) {
	system := fmt.Sprintf(
		"You are an expert interview coach grading one answer in a mock interview for the role of %s.\n%s\n"+
			"Return ONLY valid JSON, no markdown or explanations.",
		req.Role, req.Style,
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "QUESTION:\n%s\n\nANSWER:\n%s\n", req.Question, req.Transcript)
	if req.Behavior != nil {
		fmt.Fprintf(&sb, "\nDELIVERY CONTEXT:\n- Eye contact ratio: %.2f/1.0\n", req.Behavior.EyeContactRatio)
		if len(req.Behavior.ConfidenceIndicators) > 0 {
			fmt.Fprintf(&sb, "- Confidence indicators: %s\n", strings.Join(req.Behavior.ConfidenceIndicators, ", "))
		}
		if req.Behavior.Notes != "" {
			fmt.Fprintf(&sb, "- Notes: %s\n", req.Behavior.Notes)
		}
	}
	sb.WriteString("\nGrade the answer for clarity, structure, relevance to the role, use of examples, and technical accuracy.\n")
	sb.WriteString(`Return JSON: {"score": <0-100>, "feedback": "<2-3 sentences of specific feedback>"}`)

	raw, err := j.complete(ctx, system, sb.String())
	if err != nil {
		return TurnJudgment{}, err
	}

	var parsed struct {
		Score    int    `json:"score"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		// The service answered but not in shape; grade neutrally rather
		// than losing the turn.
		j.logger.Warn("judge returned unparseable turn judgment", "error", err)
		return TurnJudgment{Score: 50, Feedback: "Unable to parse detailed feedback."}, nil
	}

	if parsed.Score < 0 {
		parsed.Score = 0
	}
	if parsed.Score > 100 {
		parsed.Score = 100
	}
	return TurnJudgment{Score: parsed.Score, Feedback: parsed.Feedback}, nil
}

// FinalNarrative implements Judge.
func (j *OpenAIJudge) FinalNarrative(ctx context.Context, req NarrativeRequest) (scoring.Narrative, error) {
	system := fmt.Sprintf(
		"You are an expert interview coach summarizing a completed mock interview for the role of %s.\n%s\n"+
			"Return ONLY valid JSON, no markdown or explanations.",
		req.Role, req.Style,
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "CANDIDATE: %s\n\nINTERVIEW TRANSCRIPT:\n%s\n", req.CandidateName, req.Transcript)
	fmt.Fprintf(&sb, "\nBEHAVIORAL OBSERVATIONS:\n- Average eye contact: %.2f/1.0\n", req.AvgEyeContact)
	if len(req.ConfidenceIndicators) > 0 {
		fmt.Fprintf(&sb, "- Confidence indicators: %s\n", strings.Join(req.ConfidenceIndicators, ", "))
	}
	if len(req.Notes) > 0 {
		fmt.Fprintf(&sb, "- Notes: %s\n", strings.Join(req.Notes, "; "))
	}
	sb.WriteString(`
Return JSON:
{
  "overallImpression": "<2-3 sentence summary>",
  "strengths": ["<strength 1>", "<strength 2>", "<strength 3>"],
  "areasForImprovement": ["<area 1>", "<area 2>", "<area 3>"],
  "nextSteps": ["<action 1>", "<action 2>"]
}`)

	raw, err := j.complete(ctx, system, sb.String())
	if err != nil {
		return scoring.Narrative{}, err
	}

	var narrative scoring.Narrative
	if err := json.Unmarshal([]byte(stripFences(raw)), &narrative); err != nil {
		j.logger.Warn("judge returned unparseable narrative", "error", err)
		return scoring.Narrative{
			OverallImpression: "Unable to parse detailed feedback.",
		}, nil
	}
	return narrative, nil
}

// complete runs one chat completion with bounded exponential-backoff
// retries. Every transport error is treated as transient until the budget
// is spent.
func (j *OpenAIJudge) complete(ctx context.Context, system, user string) (string, error) {
	backoff := retry.WithMaxRetries(uint64(j.config.MaxAttempts-1), retry.NewExponential(j.config.Backoff))

	var content string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, j.config.RequestTimeout)
		defer cancel()

		resp, err := j.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model:       j.config.Model,
			Temperature: 0.3,
			MaxTokens:   1024,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			j.logger.Warn("judge call failed", "error", err)
			return retry.RetryableError(err)
		}
		if len(resp.Choices) == 0 {
			return retry.RetryableError(fmt.Errorf("judge: empty completion"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return content, nil
}

// stripFences removes a markdown code fence around a JSON body, which
// chat models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[3:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
