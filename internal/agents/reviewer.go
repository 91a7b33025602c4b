package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
)

// Reviewer scores a draft against its source and produces structured
// feedback for the revise loop.
type Reviewer struct {
	client *Client
}

func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

const reviewPromptFormat = `You are an exacting literary reviewer. Compare the transformed content against the original source and judge how well the transformation preserves meaning while improving the prose.

**TITLE:** %s

**ORIGINAL SOURCE:**
%s

**TRANSFORMED CONTENT:**
%s

**INSTRUCTIONS:**
Evaluate fidelity to the source, prose quality, narrative flow, and consistency of tone. Respond with only a JSON object in exactly this shape, no other text:
{"overall_score": <number 0-10>, "feedback": "<your assessment>", "suggested_changes": "<concrete revision requests, empty string if none>"}`

type reviewPayload struct {
	OverallScore     float64 `json:"overall_score"`
	Feedback         string  `json:"feedback"`
	SuggestedChanges string  `json:"suggested_changes"`
}

func (r *Reviewer) Review(ctx context.Context, content, original, title string) (pipeline.Verdict, error) {
	prompt := fmt.Sprintf(reviewPromptFormat, title, original, content)
	text, err := r.client.Generate(ctx, prompt, GenerationConfig{
		Temperature:     0.2,
		MaxOutputTokens: 2000,
	})
	if err != nil {
		return pipeline.Verdict{}, err
	}

	payload, err := parseReviewPayload(text)
	if err != nil {
		// A malformed completion is worth one more round trip.
		return pipeline.Verdict{}, pipeline.Transient("review", err)
	}

	score := payload.OverallScore
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}

	return pipeline.Verdict{
		Score:            score,
		Feedback:         payload.Feedback,
		SuggestedChanges: payload.SuggestedChanges,
	}, nil
}

// parseReviewPayload tolerates markdown code fences and leading prose
// around the JSON object.
func parseReviewPayload(text string) (reviewPayload, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return reviewPayload{}, fmt.Errorf("no JSON object in review completion")
	}

	var payload reviewPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return reviewPayload{}, fmt.Errorf("decode review completion: %w", err)
	}
	return payload, nil
}
