package pipeline

import (
	"context"

	"github.com/Chhavidabla/BookPublisherAI/internal/review"
)

// Page is the raw material a scraper extracts from one source URL.
type Page struct {
	Title    string
	Content  string
	Metadata map[string]any
}

// Scraper fetches source text. Implementations wrap a headless browser or
// a plain HTTP fetch; the coordinator only needs stable text and a title.
type Scraper interface {
	Scrape(ctx context.Context, url string) (Page, error)
}

// Draft is a writer's transformation of source content.
type Draft struct {
	Content  string
	Metadata map[string]any
}

// WriterAgent rewrites source content. guidance carries reviewer feedback
// on revise loops and is empty on the first pass.
type WriterAgent interface {
	Transform(ctx context.Context, content, title, guidance string) (Draft, error)
}

// Verdict is an automated reviewer's judgement of a draft.
type Verdict struct {
	Score            float64 // 0-10
	Feedback         string
	SuggestedChanges string
}

// AIReviewerAgent scores a draft against the original source text.
type AIReviewerAgent interface {
	Review(ctx context.Context, content, original, title string) (Verdict, error)
}

// Edit is an editor's final polish of approved content.
type Edit struct {
	Content     string
	ChangesMade string
}

type EditorAgent interface {
	Edit(ctx context.Context, content, title string) (Edit, error)
}

// ReviewItem is what a human reviewer sees for one pending decision.
type ReviewItem struct {
	RequestID string
	EntityID  string
	Title     string
	Content   string
}

// HumanDecision is a human reviewer's answer for one item.
type HumanDecision struct {
	ReviewerID       string
	Action           review.Action
	Rating           int
	Feedback         string
	SuggestedChanges string
}

// HumanReviewSession collects a decision for a review item. When the
// coordinator has no session, it still opens the review request and waits;
// feedback may then arrive from any other ledger client.
type HumanReviewSession interface {
	Decide(ctx context.Context, item ReviewItem) (HumanDecision, error)
}

// Publisher receives the final text of a completed item.
type Publisher interface {
	Publish(ctx context.Context, projectID, entityID, title, content string) error
}
