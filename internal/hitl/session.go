// Package hitl is the console human-review session: it shows a draft and
// collects an approve/revise/reject decision with a rating and feedback.
package hitl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
	"github.com/Chhavidabla/BookPublisherAI/internal/review"
)

const contentPreviewLimit = 2000

// Session reads decisions from in and writes prompts to out. ReviewerID is
// recorded on every submitted feedback.
type Session struct {
	in         *bufio.Reader
	out        io.Writer
	ReviewerID string
}

func New(in io.Reader, out io.Writer, reviewerID string) *Session {
	if reviewerID == "" {
		reviewerID = "human"
	}
	return &Session{
		in:         bufio.NewReader(in),
		out:        out,
		ReviewerID: reviewerID,
	}
}

// Decide presents one review item and collects a decision. Input prompts
// repeat until the answer is valid; EOF aborts the session.
func (s *Session) Decide(ctx context.Context, item pipeline.ReviewItem) (pipeline.HumanDecision, error) {
	fmt.Fprintln(s.out, strings.Repeat("=", 72))
	fmt.Fprintf(s.out, "HUMAN REVIEW - %s\n", item.EntityID)
	fmt.Fprintln(s.out, strings.Repeat("=", 72))
	fmt.Fprintf(s.out, "Request: %s\n", item.RequestID)
	fmt.Fprintf(s.out, "Title:   %s\n\n", item.Title)
	fmt.Fprintln(s.out, preview(item.Content))
	fmt.Fprintln(s.out, strings.Repeat("=", 72))

	action, err := s.promptAction(ctx)
	if err != nil {
		return pipeline.HumanDecision{}, err
	}
	feedback, err := s.promptLine(ctx, "General feedback: ")
	if err != nil {
		return pipeline.HumanDecision{}, err
	}
	suggested, err := s.promptLine(ctx, "Suggested changes (if any): ")
	if err != nil {
		return pipeline.HumanDecision{}, err
	}
	rating, err := s.promptRating(ctx)
	if err != nil {
		return pipeline.HumanDecision{}, err
	}

	fmt.Fprintf(s.out, "Recorded: %s, rating %d/10\n", action, rating)
	return pipeline.HumanDecision{
		ReviewerID:       s.ReviewerID,
		Action:           action,
		Rating:           rating,
		Feedback:         feedback,
		SuggestedChanges: suggested,
	}, nil
}

func (s *Session) promptAction(ctx context.Context) (review.Action, error) {
	for {
		answer, err := s.promptLine(ctx, "Action (approve/revise/reject): ")
		if err != nil {
			return "", err
		}
		switch review.Action(strings.ToLower(answer)) {
		case review.ActionApprove:
			return review.ActionApprove, nil
		case review.ActionRevise:
			return review.ActionRevise, nil
		case review.ActionReject:
			return review.ActionReject, nil
		}
		fmt.Fprintln(s.out, "Please enter 'approve', 'revise', or 'reject'")
	}
}

func (s *Session) promptRating(ctx context.Context) (int, error) {
	for {
		answer, err := s.promptLine(ctx, "Quality rating (1-10): ")
		if err != nil {
			return 0, err
		}
		rating, err := strconv.Atoi(answer)
		if err == nil && rating >= 1 && rating <= 10 {
			return rating, nil
		}
		fmt.Fprintln(s.out, "Rating must be a number between 1 and 10")
	}
}

func (s *Session) promptLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(s.out, prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read review input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func preview(content string) string {
	if len(content) <= contentPreviewLimit {
		return content
	}
	return content[:contentPreviewLimit] + "\n[... truncated ...]"
}
