package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Chhavidabla/BookPublisherAI/internal/util"
)

const defaultPollInterval = 500 * time.Millisecond

// Ledger owns review requests and feedback. Requests for different ids may
// be completed concurrently; completion of one request is serialized by a
// row lock so the pending -> completed transition happens exactly once.
type Ledger struct {
	db        *sql.DB
	notifier  *Notifier
	pollEvery time.Duration
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, pollEvery: defaultPollInterval}
}

// WithNotifier attaches the Redis wakeup channel used by AwaitFeedback.
func (l *Ledger) WithNotifier(notifier *Notifier) *Ledger {
	l.notifier = notifier
	return l
}

// WithPollInterval overrides the AwaitFeedback poll interval.
func (l *Ledger) WithPollInterval(interval time.Duration) *Ledger {
	if interval > 0 {
		l.pollEvery = interval
	}
	return l
}

// SubmitForReview opens a pending request for a snapshot. Priority is
// clamped to 1..5; zero means the default of 3.
func (l *Ledger) SubmitForReview(ctx context.Context, targetVersion string, kind Kind, priority int) (Request, error) {
	if kind != KindAI && kind != KindHuman {
		return Request{}, &ValidationError{Field: "reviewer_kind", Message: fmt.Sprintf("unknown kind %q", kind)}
	}
	if targetVersion == "" {
		return Request{}, &ValidationError{Field: "target_version", Message: "required"}
	}

	request := Request{
		ID:            util.NewID("rev"),
		TargetVersion: targetVersion,
		Kind:          kind,
		Priority:      clampPriority(priority),
		Status:        StatusPending,
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO review_requests (id, target_version, reviewer_kind, priority, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, request.ID, request.TargetVersion, string(request.Kind), request.Priority, request.Status).Scan(&request.CreatedAt)
	if err != nil {
		return Request{}, fmt.Errorf("insert review request: %w", err)
	}
	return request, nil
}

// ListPending returns open requests, highest priority first, FIFO within a
// priority so no request starves. kind may be empty to include both kinds.
func (l *Ledger) ListPending(ctx context.Context, kind Kind, minPriority int) ([]Request, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, target_version, reviewer_kind, priority, status, created_at
		FROM review_requests
		WHERE status='pending'
		  AND ($1='' OR reviewer_kind=$1)
		  AND priority >= $2
		ORDER BY priority DESC, created_at ASC
	`, string(kind), minPriority)
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Request, 0)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review request: %w", err)
		}
		items = append(items, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review requests: %w", err)
	}
	return items, nil
}

func (l *Ledger) GetRequest(ctx context.Context, requestID string) (Request, error) {
	request, err := scanRequest(l.db.QueryRowContext(ctx, `
		SELECT id, target_version, reviewer_kind, priority, status, created_at
		FROM review_requests
		WHERE id=$1
	`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return Request{}, fmt.Errorf("get review request: %w", err)
	}
	return request, nil
}

// SubmitFeedback validates the input, transitions the request to completed
// and stores the feedback in one transaction. A completed request can never
// exist without feedback, and feedback is never attached twice.
func (l *Ledger) SubmitFeedback(ctx context.Context, requestID string, action Action, rating int, reviewerID, feedbackText, suggestedChanges string) (Feedback, error) {
	if err := validateFeedback(action, rating); err != nil {
		return Feedback{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Feedback{}, fmt.Errorf("begin feedback tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM review_requests WHERE id=$1 FOR UPDATE
	`, requestID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return Feedback{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return Feedback{}, fmt.Errorf("lock review request: %w", err)
	}
	if status == StatusCompleted {
		return Feedback{}, fmt.Errorf("request %s: %w", requestID, ErrAlreadyCompleted)
	}

	feedback := Feedback{
		RequestID:        requestID,
		ReviewerID:       reviewerID,
		Action:           action,
		Rating:           rating,
		FeedbackText:     feedbackText,
		SuggestedChanges: suggestedChanges,
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO review_feedback (request_id, reviewer_id, action, rating, feedback_text, suggested_changes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, feedback.RequestID, feedback.ReviewerID, string(feedback.Action), feedback.Rating,
		feedback.FeedbackText, feedback.SuggestedChanges,
	).Scan(&feedback.CreatedAt); err != nil {
		return Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE review_requests SET status='completed' WHERE id=$1
	`, requestID); err != nil {
		return Feedback{}, fmt.Errorf("complete review request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Feedback{}, fmt.Errorf("commit feedback: %w", err)
	}

	if l.notifier != nil {
		if err := l.notifier.Publish(ctx, requestID); err != nil {
			log.Printf("review: notify %s: %v", requestID, err)
		}
	}

	return feedback, nil
}

// GetFeedback returns the feedback for a completed request, or ErrNotFound
// while the request is still pending.
func (l *Ledger) GetFeedback(ctx context.Context, requestID string) (Feedback, error) {
	var feedback Feedback
	var action string
	err := l.db.QueryRowContext(ctx, `
		SELECT request_id, reviewer_id, action, rating, feedback_text, suggested_changes, created_at
		FROM review_feedback
		WHERE request_id=$1
	`, requestID).Scan(
		&feedback.RequestID,
		&feedback.ReviewerID,
		&action,
		&feedback.Rating,
		&feedback.FeedbackText,
		&feedback.SuggestedChanges,
		&feedback.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Feedback{}, fmt.Errorf("feedback for %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return Feedback{}, fmt.Errorf("get feedback: %w", err)
	}
	feedback.Action = Action(action)
	return feedback, nil
}

// AwaitFeedback suspends until feedback exists for the request or timeout
// elapses, returning ErrFeedbackTimeout in the latter case. A zero or
// negative timeout checks once and returns immediately. The wait combines a
// fixed-interval poll with Redis wakeups when a notifier is configured;
// it never spins without yielding.
func (l *Ledger) AwaitFeedback(ctx context.Context, requestID string, timeout time.Duration) (Feedback, error) {
	feedback, err := l.GetFeedback(ctx, requestID)
	if err == nil {
		return feedback, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Feedback{}, err
	}
	if timeout <= 0 {
		return Feedback{}, fmt.Errorf("request %s: %w", requestID, ErrFeedbackTimeout)
	}

	var wake <-chan struct{}
	if l.notifier != nil {
		signals, stop := l.notifier.Subscribe(ctx, requestID)
		defer stop()
		wake = signals

		// Re-check after subscribing: feedback may have landed between the
		// first check and the subscription.
		if feedback, err := l.GetFeedback(ctx, requestID); err == nil {
			return feedback, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Feedback{}, err
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Feedback{}, fmt.Errorf("await feedback for %s: %w", requestID, ctx.Err())
		case <-deadline.C:
			return Feedback{}, fmt.Errorf("request %s: %w", requestID, ErrFeedbackTimeout)
		case <-wake:
		case <-ticker.C:
		}

		feedback, err := l.GetFeedback(ctx, requestID)
		if err == nil {
			return feedback, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Feedback{}, err
		}
	}
}

// Summary aggregates ledger state: average rating and action counts over
// completed requests, approval rate, and the pending backlog.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	summary := Summary{ActionCounts: make(map[Action]int)}

	rows, err := l.db.QueryContext(ctx, `
		SELECT action, COUNT(*)::int, COALESCE(AVG(rating), 0)
		FROM review_feedback
		GROUP BY action
	`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize feedback: %w", err)
	}
	defer rows.Close()

	var ratingWeighted float64
	for rows.Next() {
		var action string
		var count int
		var avgRating float64
		if err := rows.Scan(&action, &count, &avgRating); err != nil {
			return Summary{}, fmt.Errorf("scan feedback summary: %w", err)
		}
		summary.ActionCounts[Action(action)] = count
		summary.CompletedCount += count
		ratingWeighted += avgRating * float64(count)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate feedback summary: %w", err)
	}

	if summary.CompletedCount > 0 {
		summary.AverageRating = ratingWeighted / float64(summary.CompletedCount)
		summary.ApprovalRate = float64(summary.ActionCounts[ActionApprove]) / float64(summary.CompletedCount)
	}

	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM review_requests WHERE status='pending'
	`).Scan(&summary.PendingCount); err != nil {
		return Summary{}, fmt.Errorf("count pending requests: %w", err)
	}

	return summary, nil
}

func validateFeedback(action Action, rating int) error {
	switch action {
	case ActionApprove, ActionRevise, ActionReject:
	default:
		return &ValidationError{Field: "action", Message: fmt.Sprintf("must be approve, revise or reject, got %q", action)}
	}
	if rating < 1 || rating > 10 {
		return &ValidationError{Field: "rating", Message: fmt.Sprintf("must be between 1 and 10, got %d", rating)}
	}
	return nil
}

func clampPriority(priority int) int {
	if priority == 0 {
		return 3
	}
	if priority < 1 {
		return 1
	}
	if priority > 5 {
		return 5
	}
	return priority
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var request Request
	var kind string
	if err := row.Scan(
		&request.ID,
		&request.TargetVersion,
		&kind,
		&request.Priority,
		&request.Status,
		&request.CreatedAt,
	); err != nil {
		return Request{}, err
	}
	request.Kind = Kind(kind)
	return request, nil
}
