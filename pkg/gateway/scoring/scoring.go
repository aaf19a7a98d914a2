// Package scoring converts stored turns and behavioral observations into
// the final interview report. Everything here is a pure function of its
// inputs, so a report re-derived from the same stored data is numerically
// identical.
package scoring

import "math"

// Fixed component weights, reported alongside each component so the
// breakdown is independently verifiable.
const (
	ContentWeight    = 0.7
	BehavioralWeight = 0.3
)

// ScoreUngraded marks a turn whose judgment call failed. Ungraded turns
// are excluded from the content average entirely, not treated as zero.
const ScoreUngraded = -1

// Turn is the scoring view of one stored question-answer exchange.
type Turn struct {
	Question     string
	Number       int
	Transcript   string
	ContentScore int // 0..100, or ScoreUngraded
	Feedback     string
}

// Gradeable reports whether the turn carries a usable content score.
func (t Turn) Gradeable() bool {
	return t.ContentScore >= 0 && t.ContentScore <= 100
}

// Observation is the scoring view of one behavioral observation.
type Observation struct {
	EyeContactRatio      float64
	ConfidenceIndicators []string
}

// BehaviorSummary aggregates behavioral signals across all turns.
type BehaviorSummary struct {
	AvgEyeContact  float64
	ConfidenceRate float64 // confidence indicators per observation, capped at 1
	Observations   int
}

// defaultEyeContact is assumed when no observations were captured at all,
// so a camera-less interview is not punished behaviorally.
const defaultEyeContact = 0.5

// SummarizeBehavior aggregates the observations attached to all turns.
func SummarizeBehavior(observations []Observation) BehaviorSummary {
	if len(observations) == 0 {
		return BehaviorSummary{AvgEyeContact: defaultEyeContact}
	}

	var eyeSum float64
	var indicators int
	for _, obs := range observations {
		eyeSum += clamp01(obs.EyeContactRatio)
		indicators += len(obs.ConfidenceIndicators)
	}

	rate := float64(indicators) / float64(len(observations))
	if rate > 1 {
		rate = 1
	}

	return BehaviorSummary{
		AvgEyeContact:  eyeSum / float64(len(observations)),
		ConfidenceRate: rate,
		Observations:   len(observations),
	}
}

// BehavioralScore normalizes the aggregated delivery signals to 0..100.
// Eye contact dominates; confidence indicators top it up.
func BehavioralScore(summary BehaviorSummary) float64 {
	score := summary.AvgEyeContact*70 + summary.ConfidenceRate*30
	return math.Round(clamp(score, 0, 100)*10) / 10
}

// BreakdownComponent is one row of the weight breakdown.
type BreakdownComponent struct {
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Breakdown carries the verifiable weighted composition of the final score.
// Content is omitted when no turn was gradeable.
type Breakdown struct {
	Content    *BreakdownComponent `json:"content,omitempty"`
	Behavioral BreakdownComponent  `json:"behavioral"`
}

// QuestionFeedback is the per-question entry of the report.
type QuestionFeedback struct {
	Question   string `json:"question"`
	TurnNumber int    `json:"turnNumber"`
	Score      *int   `json:"score,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}

// Narrative holds the qualitative fields produced by the judgment service
// over the full turn history.
type Narrative struct {
	OverallImpression   string   `json:"overallImpression,omitempty"`
	Strengths           []string `json:"strengths,omitempty"`
	AreasForImprovement []string `json:"areasForImprovement,omitempty"`
	NextSteps           []string `json:"nextSteps,omitempty"`
}

// Report is the final interview report, created exactly once at finalize.
type Report struct {
	FinalScore      int      `json:"finalScore"`
	ContentScore    *float64 `json:"contentScore,omitempty"`
	BehavioralScore float64  `json:"behavioralScore"`

	// WeightBreakdown exposes each component's raw score, fixed weight,
	// and weighted contribution.
	WeightBreakdown Breakdown `json:"weightBreakdown"`

	// BehavioralOnly is set when no turn was gradeable and the final
	// score fell back to the behavioral score alone.
	BehavioralOnly bool `json:"behavioralOnly,omitempty"`

	OverallImpression   string             `json:"overallImpression,omitempty"`
	Strengths           []string           `json:"strengths,omitempty"`
	AreasForImprovement []string           `json:"areasForImprovement,omitempty"`
	QuestionFeedback    []QuestionFeedback `json:"questionFeedback,omitempty"`
	NextSteps           []string           `json:"nextSteps,omitempty"`

	// NarrativeError is set when the qualitative judge call failed; the
	// numeric scores above are still valid.
	NarrativeError string `json:"narrativeError,omitempty"`

	TurnCount int `json:"turnCount"`
}

// Compute builds the report from stored turns and the behavioral score.
// narrative may be nil when the qualitative judge call failed; narrativeErr
// then records why.
func Compute(turns []Turn, behavioralScore float64, narrative *Narrative, narrativeErr error) Report {
	behavioralScore = clamp(behavioralScore, 0, 100)

	var sum float64
	var graded int
	for _, t := range turns {
		if t.Gradeable() {
			sum += float64(t.ContentScore)
			graded++
		}
	}

	report := Report{
		BehavioralScore: behavioralScore,
		TurnCount:       len(turns),
		WeightBreakdown: Breakdown{
			Behavioral: BreakdownComponent{
				Score:        behavioralScore,
				Weight:       BehavioralWeight,
				Contribution: round1(BehavioralWeight * behavioralScore),
			},
		},
	}

	if graded == 0 {
		report.BehavioralOnly = true
		report.FinalScore = int(math.Round(behavioralScore))
	} else {
		content := sum / float64(graded)
		report.ContentScore = &content
		report.WeightBreakdown.Content = &BreakdownComponent{
			Score:        round1(content),
			Weight:       ContentWeight,
			Contribution: round1(ContentWeight * content),
		}
		report.FinalScore = int(math.Round(ContentWeight*content + BehavioralWeight*behavioralScore))
	}

	for _, t := range turns {
		entry := QuestionFeedback{
			Question:   t.Question,
			TurnNumber: t.Number,
			Feedback:   t.Feedback,
		}
		if t.Gradeable() {
			score := t.ContentScore
			entry.Score = &score
		}
		report.QuestionFeedback = append(report.QuestionFeedback, entry)
	}

	if narrative != nil {
		report.OverallImpression = narrative.OverallImpression
		report.Strengths = narrative.Strengths
		report.AreasForImprovement = narrative.AreasForImprovement
		report.NextSteps = narrative.NextSteps
	}
	if narrativeErr != nil {
		report.NarrativeError = narrativeErr.Error()
	}

	return report
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
