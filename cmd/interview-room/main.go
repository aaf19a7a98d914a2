// Command interview-room is a terminal interview client: it creates a
// session against the gateway, captures microphone audio with VAD-based
// turn detection, streams speech to text, and prints the final report.
//
// Environment variables:
//
//	INTERVIEWD_URL        - Gateway base URL (default http://localhost:8080)
//	INTERVIEWD_API_KEY    - Bearer token when the gateway requires auth
//	CARTESIA_API_KEY      - Required for speech-to-text
//
// Controls:
//
//	end    - Finish the interview with the answers given so far
//	q      - Quit without finishing
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nextstep-labs/interviewd/pkg/client"
	"github.com/nextstep-labs/interviewd/pkg/core/segment"
	"github.com/nextstep-labs/interviewd/pkg/gateway/protocol"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

func main() {
	_ = godotenv.Load()

	role := flag.String("role", "Software Engineer", "target role to interview for")
	name := flag.String("name", "", "candidate name")
	flag.Parse()

	baseURL := os.Getenv("INTERVIEWD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiKey := os.Getenv("INTERVIEWD_API_KEY")
	cartesiaKey := os.Getenv("CARTESIA_API_KEY")
	if cartesiaKey == "" {
		fmt.Fprintln(os.Stderr, "interview-room: CARTESIA_API_KEY required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nLeaving the room...")
		cancel()
	}()

	if err := run(ctx, baseURL, apiKey, cartesiaKey, *role, *name); err != nil &&
		!errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "interview-room: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, baseURL, apiKey, cartesiaKey, role, name string) error {
	sessionID, targetRole, turnCount, err := createSession(ctx, baseURL, apiKey, role, name)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s ready: %s, %d questions.\n", sessionID, targetRole, turnCount)
	fmt.Println("Answer out loud; a pause ends your answer. Type 'end' to finish early, 'q' to quit.")
	fmt.Println()

	config := client.DefaultClientConfig()
	config.ServerURL = wsURL(baseURL) + "/ws/interview/" + sessionID
	config.APIKey = apiKey

	stt := newCartesiaTranscriber(cartesiaKey, config.Capture.AudioSampleRate)
	devices, err := newMalgoDevices(stt.Feed)
	if err != nil {
		return err
	}
	defer devices.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	iv := client.NewInterview(config, devices, stt, client.Events{
		OnQuestion: func(q protocol.Question) {
			marker := ""
			if q.IsFinal {
				marker = " (final question)"
			}
			fmt.Printf("\nQ%d%s: %s\n> ", q.TurnNumber, marker, q.Text)
		},
		OnPhase: func(p segment.Phase) {
			if p == segment.PhaseProcessing {
				fmt.Println("\n[answer submitted, grading...]")
			}
		},
		OnError: func(we protocol.WireError) {
			fmt.Printf("\n[%s] %s\n", we.Code, we.Message)
		},
	}, logger)

	go readCommands(ctx, iv)

	report, err := iv.Run(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnexpectedTermination) {
			return fmt.Errorf("the interview ended unexpectedly: %w", err)
		}
		return err
	}

	printReport(report)
	return nil
}

func readCommands(ctx context.Context, iv *client.Interview) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "end":
			if err := iv.End(); err != nil {
				fmt.Fprintf(os.Stderr, "end: %v\n", err)
			}
		case "q":
			os.Exit(0)
		}
	}
}

func createSession(ctx context.Context, baseURL, apiKey, role, name string) (id, targetRole string, turnCount int, err error) {
	body, _ := json.Marshal(map[string]string{"targetRole": role, "userName": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", 0, fmt.Errorf("create session: status %d: %s", resp.StatusCode, raw)
	}

	var created struct {
		SessionID  string `json:"sessionId"`
		TargetRole string `json:"targetRole"`
		TurnCount  int    `json:"turnCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", "", 0, fmt.Errorf("decode session: %w", err)
	}
	return created.SessionID, created.TargetRole, created.TurnCount, nil
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func printReport(report *scoring.Report) {
	fmt.Println()
	fmt.Println("================ INTERVIEW REPORT ================")
	fmt.Printf("Final score: %d/100\n", report.FinalScore)
	if report.BehavioralOnly {
		fmt.Println("No answers were gradeable; this score reflects behavioral signals only.")
	}
	if report.ContentScore != nil {
		fmt.Printf("  Content:    %.1f (weight %.0f%%, contributes %.1f)\n",
			report.WeightBreakdown.Content.Score,
			report.WeightBreakdown.Content.Weight*100,
			report.WeightBreakdown.Content.Contribution)
	}
	fmt.Printf("  Behavioral: %.1f (weight %.0f%%, contributes %.1f)\n",
		report.WeightBreakdown.Behavioral.Score,
		report.WeightBreakdown.Behavioral.Weight*100,
		report.WeightBreakdown.Behavioral.Contribution)

	if report.OverallImpression != "" {
		fmt.Printf("\n%s\n", report.OverallImpression)
	}
	if len(report.Strengths) > 0 {
		fmt.Println("\nStrengths:")
		for _, s := range report.Strengths {
			fmt.Printf("  + %s\n", s)
		}
	}
	if len(report.AreasForImprovement) > 0 {
		fmt.Println("\nAreas for improvement:")
		for _, s := range report.AreasForImprovement {
			fmt.Printf("  - %s\n", s)
		}
	}
	if len(report.QuestionFeedback) > 0 {
		fmt.Println("\nPer question:")
		for _, qf := range report.QuestionFeedback {
			score := "ungraded"
			if qf.Score != nil {
				score = fmt.Sprintf("%d", *qf.Score)
			}
			fmt.Printf("  Q%d [%s]: %s\n", qf.TurnNumber, score, qf.Feedback)
		}
	}
	if len(report.NextSteps) > 0 {
		fmt.Println("\nNext steps:")
		for _, s := range report.NextSteps {
			fmt.Printf("  * %s\n", s)
		}
	}
	if report.NarrativeError != "" {
		fmt.Printf("\nNote: qualitative feedback unavailable (%s); scores are unaffected.\n",
			report.NarrativeError)
	}
	fmt.Println("==================================================")
}
