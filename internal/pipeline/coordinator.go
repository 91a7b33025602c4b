package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Chhavidabla/BookPublisherAI/internal/review"
	"github.com/Chhavidabla/BookPublisherAI/internal/store"
	"github.com/Chhavidabla/BookPublisherAI/internal/util"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// versionStore is the slice of the content store the coordinator uses.
type versionStore interface {
	CreateVersion(ctx context.Context, entityID, content string, stage store.Stage, metadata map[string]any, parentVersion *int) (store.ContentSnapshot, error)
	CreateProject(ctx context.Context, project store.Project) error
	UpdateProjectStatus(ctx context.Context, projectID, status, stage, lastError string) error
	UpsertPipelineItem(ctx context.Context, item store.PipelineItem) error
}

// reviewLedger is the slice of the review ledger the coordinator uses.
type reviewLedger interface {
	SubmitForReview(ctx context.Context, targetVersion string, kind review.Kind, priority int) (review.Request, error)
	SubmitFeedback(ctx context.Context, requestID string, action review.Action, rating int, reviewerID, feedbackText, suggestedChanges string) (review.Feedback, error)
	AwaitFeedback(ctx context.Context, requestID string, timeout time.Duration) (review.Feedback, error)
}

// Options bound the coordinator's retry and review behavior.
type Options struct {
	MaxRevisions    int           // revise loops per gate before escalating
	MaxRetries      int           // attempts per collaborator call
	RetryBaseDelay  time.Duration // doubles per retry
	ReviewTimeout   time.Duration // human feedback wait
	ReviewThreshold float64       // AI score at or above which a draft passes
}

func (o Options) withDefaults() Options {
	if o.MaxRevisions <= 0 {
		o.MaxRevisions = 3
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.ReviewTimeout <= 0 {
		o.ReviewTimeout = time.Hour
	}
	if o.ReviewThreshold <= 0 {
		o.ReviewThreshold = 7.0
	}
	return o
}

// Coordinator sequences each source URL through
// scrape -> write -> AI review -> human gate -> edit -> publish, committing
// an immutable version after every completed stage. Different entities run
// in parallel; one entity is strictly sequential.
type Coordinator struct {
	store     versionStore
	ledger    reviewLedger
	scraper   Scraper
	writer    WriterAgent
	reviewer  AIReviewerAgent
	editor    EditorAgent
	humans    HumanReviewSession
	publisher Publisher
	opts      Options
}

func New(versions versionStore, ledger reviewLedger, scraper Scraper, writer WriterAgent, reviewer AIReviewerAgent, editor EditorAgent, opts Options) *Coordinator {
	return &Coordinator{
		store:    versions,
		ledger:   ledger,
		scraper:  scraper,
		writer:   writer,
		reviewer: reviewer,
		editor:   editor,
		opts:     opts.withDefaults(),
	}
}

// WithHumanSession attaches an interactive reviewer. Without one the
// coordinator still opens human review requests and waits for feedback
// submitted through any other ledger client.
func (c *Coordinator) WithHumanSession(session HumanReviewSession) *Coordinator {
	c.humans = session
	return c
}

// WithPublisher enables the published stage. Without one, items finish at
// final_edited.
func (c *Coordinator) WithPublisher(publisher Publisher) *Coordinator {
	c.publisher = publisher
	return c
}

// ItemResult is the final state of one pipeline item.
type ItemResult struct {
	EntityID    string
	SourceURL   string
	Status      string
	Stage       store.Stage
	LastVersion int
	Err         error
}

// RunSummary reports the outcome of one pipeline run.
type RunSummary struct {
	ProjectID string
	Completed int
	Failed    int
	Items     []ItemResult
}

// Run processes every source URL of a project. One item's failure never
// aborts the batch; the summary carries per-item outcomes.
func (c *Coordinator) Run(ctx context.Context, name string, urls []string) (RunSummary, error) {
	if len(urls) == 0 {
		return RunSummary{}, fmt.Errorf("run %q: no source urls", name)
	}

	projectID := util.NewID("proj")
	project := store.Project{
		ID:         projectID,
		Name:       name,
		SourceURLs: urls,
		Status:     StatusRunning,
	}
	if err := c.store.CreateProject(ctx, project); err != nil {
		return RunSummary{}, fmt.Errorf("create project: %w", err)
	}

	results := make([]ItemResult, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		entityID := fmt.Sprintf("ch%d", i+1)
		wg.Add(1)
		go func(i int, entityID, url string) {
			defer wg.Done()
			results[i] = c.processItem(ctx, projectID, entityID, url)
		}(i, entityID, url)
	}
	wg.Wait()

	summary := RunSummary{ProjectID: projectID, Items: results}
	var lastErr string
	for _, item := range results {
		if item.Status == StatusCompleted {
			summary.Completed++
		} else {
			summary.Failed++
			if item.Err != nil {
				lastErr = item.Err.Error()
			}
		}
	}

	status := StatusCompleted
	if summary.Completed == 0 {
		status = StatusFailed
	} else if summary.Failed > 0 {
		status = "completed_with_errors"
	}
	if err := c.store.UpdateProjectStatus(ctx, projectID, status, "", lastErr); err != nil {
		log.Printf("pipeline: update project %s: %v", projectID, err)
	}

	return summary, nil
}

func (c *Coordinator) processItem(ctx context.Context, projectID, entityID, url string) ItemResult {
	result := ItemResult{EntityID: entityID, SourceURL: url, Status: StatusFailed}

	fail := func(stage store.Stage, err error) ItemResult {
		result.Err = err
		log.Printf("pipeline: %s failed at %s: %v", entityID, stage, err)
		c.recordItem(ctx, projectID, &result, StatusFailed, stage, result.LastVersion, err)
		return result
	}

	// Stage 1: scrape.
	c.recordItem(ctx, projectID, &result, StatusRunning, store.StageScraped, 0, nil)
	var page Page
	err := c.withRetry(ctx, entityID+" scrape", func() error {
		var err error
		page, err = c.scraper.Scrape(ctx, url)
		return err
	})
	if err != nil {
		return fail(store.StageScraped, err)
	}

	scraped, err := c.store.CreateVersion(ctx, entityID, page.Content, store.StageScraped,
		mergeMetadata(page.Metadata, map[string]any{
			"source_url": url,
			"title":      page.Title,
			"word_count": wordCount(page.Content),
		}), nil)
	if err != nil {
		return fail(store.StageScraped, err)
	}
	result.LastVersion = scraped.Version
	c.recordItem(ctx, projectID, &result, StatusRunning, store.StageScraped, scraped.Version, nil)

	// Stages 2-4: draft, AI gate, human gate. A revise verdict from either
	// gate loops back to the writer with the feedback as guidance.
	draft := scraped
	guidance := ""
	revisions := 0
	for {
		draft, err = c.writeDraft(ctx, entityID, page, scraped, draft, guidance)
		if err != nil {
			return fail(store.StageAIWritten, err)
		}
		result.LastVersion = draft.Version
		c.recordItem(ctx, projectID, &result, StatusRunning, store.StageAIWritten, draft.Version, nil)

		verdict, err := c.reviewDraft(ctx, entityID, page, scraped, draft)
		if err != nil {
			return fail(store.StageAIReviewed, err)
		}
		if verdict.Action == review.ActionRevise && revisions < c.opts.MaxRevisions {
			revisions++
			guidance = joinGuidance(verdict.Feedback, verdict.SuggestedChanges)
			continue
		}
		// Past the revision budget the draft goes to the human gate as-is;
		// a human can still send it back.

		decision, err := c.humanGate(ctx, entityID, page, draft)
		if err != nil {
			return fail(store.StageHumanApproved, err)
		}
		switch decision.Action {
		case review.ActionApprove:
		case review.ActionRevise:
			if revisions >= c.opts.MaxRevisions {
				return fail(store.StageHumanApproved,
					fmt.Errorf("%s: revision budget exhausted after human revise", entityID))
			}
			revisions++
			guidance = joinGuidance(decision.FeedbackText, decision.SuggestedChanges)
			continue
		default:
			return fail(store.StageHumanApproved,
				fmt.Errorf("%s: human review rejected draft: %s", entityID, decision.FeedbackText))
		}

		approved, err := c.store.CreateVersion(ctx, entityID, draft.Content, store.StageHumanApproved,
			map[string]any{
				"reviewer_id": decision.ReviewerID,
				"rating":      decision.Rating,
				"word_count":  wordCount(draft.Content),
			}, intPtr(draft.Version))
		if err != nil {
			return fail(store.StageHumanApproved, err)
		}
		draft = approved
		result.LastVersion = approved.Version
		c.recordItem(ctx, projectID, &result, StatusRunning, store.StageHumanApproved, approved.Version, nil)
		break
	}

	// Stage 5: edit.
	var polished Edit
	err = c.withRetry(ctx, entityID+" edit", func() error {
		var err error
		polished, err = c.editor.Edit(ctx, draft.Content, page.Title)
		return err
	})
	if err != nil {
		return fail(store.StageFinalEdited, err)
	}

	edited, err := c.store.CreateVersion(ctx, entityID, polished.Content, store.StageFinalEdited,
		map[string]any{
			"changes_made": polished.ChangesMade,
			"word_count":   wordCount(polished.Content),
		}, intPtr(draft.Version))
	if err != nil {
		return fail(store.StageFinalEdited, err)
	}
	result.LastVersion = edited.Version
	result.Stage = store.StageFinalEdited
	c.recordItem(ctx, projectID, &result, StatusRunning, store.StageFinalEdited, edited.Version, nil)

	// Stage 6: publish, when a publisher is wired.
	if c.publisher != nil {
		err = c.withRetry(ctx, entityID+" publish", func() error {
			return c.publisher.Publish(ctx, projectID, entityID, page.Title, edited.Content)
		})
		if err != nil {
			return fail(store.StagePublished, err)
		}

		published, err := c.store.CreateVersion(ctx, entityID, edited.Content, store.StagePublished,
			map[string]any{"published_at": time.Now().UTC().Format(time.RFC3339)},
			intPtr(edited.Version))
		if err != nil {
			return fail(store.StagePublished, err)
		}
		result.LastVersion = published.Version
		result.Stage = store.StagePublished
	}

	result.Status = StatusCompleted
	result.Err = nil
	c.recordItem(ctx, projectID, &result, StatusCompleted, result.Stage, result.LastVersion, nil)
	return result
}

// writeDraft runs the writer against the scraped source and commits the
// draft as a new ai_written version whose parent is the latest version.
func (c *Coordinator) writeDraft(ctx context.Context, entityID string, page Page, scraped, prev store.ContentSnapshot, guidance string) (store.ContentSnapshot, error) {
	var draft Draft
	err := c.withRetry(ctx, entityID+" write", func() error {
		var err error
		draft, err = c.writer.Transform(ctx, scraped.Content, page.Title, guidance)
		return err
	})
	if err != nil {
		return store.ContentSnapshot{}, err
	}

	metadata := mergeMetadata(draft.Metadata, map[string]any{
		"word_count": wordCount(draft.Content),
	})
	if guidance != "" {
		metadata["revision_guidance"] = guidance
	}
	return c.store.CreateVersion(ctx, entityID, draft.Content, store.StageAIWritten, metadata, intPtr(prev.Version))
}

// aiVerdict is the ledger-backed outcome of an automated review.
type aiVerdict struct {
	Action           review.Action
	Feedback         string
	SuggestedChanges string
}

// reviewDraft scores the draft, then records the verdict as a completed
// ai-kind review request so the ledger holds the full decision trail.
func (c *Coordinator) reviewDraft(ctx context.Context, entityID string, page Page, scraped, draft store.ContentSnapshot) (aiVerdict, error) {
	var verdict Verdict
	err := c.withRetry(ctx, entityID+" review", func() error {
		var err error
		verdict, err = c.reviewer.Review(ctx, draft.Content, scraped.Content, page.Title)
		return err
	})
	if err != nil {
		return aiVerdict{}, err
	}

	action := review.ActionRevise
	if verdict.Score >= c.opts.ReviewThreshold {
		action = review.ActionApprove
	}

	request, err := c.ledger.SubmitForReview(ctx, draft.ID, review.KindAI, 3)
	if err != nil {
		return aiVerdict{}, fmt.Errorf("open ai review: %w", err)
	}
	if _, err := c.ledger.SubmitFeedback(ctx, request.ID, action, ratingFromScore(verdict.Score),
		"ai-reviewer", verdict.Feedback, verdict.SuggestedChanges); err != nil {
		return aiVerdict{}, fmt.Errorf("record ai verdict: %w", err)
	}

	return aiVerdict{Action: action, Feedback: verdict.Feedback, SuggestedChanges: verdict.SuggestedChanges}, nil
}

// humanDecision is the resolved outcome of the human gate.
type humanDecision struct {
	Action           review.Action
	Rating           int
	ReviewerID       string
	FeedbackText     string
	SuggestedChanges string
}

// humanGate opens a human review request for the draft and waits for
// feedback. A configured session answers in the background; either way the
// decision is read back from the ledger so every outcome is audited.
func (c *Coordinator) humanGate(ctx context.Context, entityID string, page Page, draft store.ContentSnapshot) (humanDecision, error) {
	request, err := c.ledger.SubmitForReview(ctx, draft.ID, review.KindHuman, 3)
	if err != nil {
		return humanDecision{}, fmt.Errorf("open human review: %w", err)
	}

	if c.humans != nil {
		go func() {
			decision, err := c.humans.Decide(ctx, ReviewItem{
				RequestID: request.ID,
				EntityID:  entityID,
				Title:     page.Title,
				Content:   draft.Content,
			})
			if err != nil {
				log.Printf("pipeline: human session for %s: %v", request.ID, err)
				return
			}
			reviewerID := decision.ReviewerID
			if reviewerID == "" {
				reviewerID = "human"
			}
			if _, err := c.ledger.SubmitFeedback(ctx, request.ID, decision.Action, decision.Rating,
				reviewerID, decision.Feedback, decision.SuggestedChanges); err != nil {
				log.Printf("pipeline: submit human feedback for %s: %v", request.ID, err)
			}
		}()
	}

	feedback, err := c.ledger.AwaitFeedback(ctx, request.ID, c.opts.ReviewTimeout)
	if errors.Is(err, review.ErrFeedbackTimeout) {
		return humanDecision{}, fmt.Errorf("%s: human review timed out: %w", entityID, err)
	}
	if err != nil {
		return humanDecision{}, fmt.Errorf("await human feedback: %w", err)
	}

	return humanDecision{
		Action:           feedback.Action,
		Rating:           feedback.Rating,
		ReviewerID:       feedback.ReviewerID,
		FeedbackText:     feedback.FeedbackText,
		SuggestedChanges: feedback.SuggestedChanges,
	}, nil
}

// withRetry runs fn, retrying transient collaborator failures with doubling
// backoff until the attempt budget runs out.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := c.opts.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= c.opts.MaxRetries {
			return err
		}
		log.Printf("pipeline: %s attempt %d: %v (retrying in %v)", op, attempt, err, delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Coordinator) recordItem(ctx context.Context, projectID string, result *ItemResult, status string, stage store.Stage, version int, itemErr error) {
	lastError := ""
	if itemErr != nil {
		lastError = itemErr.Error()
	}
	err := c.store.UpsertPipelineItem(ctx, store.PipelineItem{
		ProjectID:   projectID,
		EntityID:    result.EntityID,
		SourceURL:   result.SourceURL,
		Status:      status,
		Stage:       string(stage),
		LastVersion: version,
		LastError:   lastError,
	})
	if err != nil {
		log.Printf("pipeline: record item %s: %v", result.EntityID, err)
	}
	result.Status = status
	if stage != "" {
		result.Stage = stage
	}
}

func ratingFromScore(score float64) int {
	rating := int(math.Round(score))
	if rating < 1 {
		return 1
	}
	if rating > 10 {
		return 10
	}
	return rating
}

func joinGuidance(feedback, suggestions string) string {
	parts := make([]string, 0, 2)
	if feedback != "" {
		parts = append(parts, feedback)
	}
	if suggestions != "" {
		parts = append(parts, "Suggested changes: "+suggestions)
	}
	return strings.Join(parts, "\n")
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func wordCount(content string) int {
	return len(strings.Fields(content))
}

func intPtr(v int) *int {
	return &v
}
