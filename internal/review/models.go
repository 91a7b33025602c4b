// Package review tracks review requests and their feedback as a one-way
// state machine: a request starts pending and completes exactly once, at
// which point its feedback is attached permanently.
package review

import "time"

type Kind string

const (
	KindAI    Kind = "ai"
	KindHuman Kind = "human"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionRevise  Action = "revise"
	ActionReject  Action = "reject"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Request is a unit of work awaiting a decision. TargetVersion is the
// snapshot id under review; the ledger never holds a live reference into the
// version store.
type Request struct {
	ID            string
	TargetVersion string
	Kind          Kind
	Priority      int
	Status        string
	CreatedAt     time.Time
}

// Feedback is the outcome of a completed request. Exactly one feedback
// exists per completed request and it is never rewritten.
type Feedback struct {
	RequestID        string
	ReviewerID       string
	Action           Action
	Rating           int
	FeedbackText     string
	SuggestedChanges string
	CreatedAt        time.Time
}

// Summary aggregates the ledger's completed and pending work.
type Summary struct {
	AverageRating  float64
	ActionCounts   map[Action]int
	ApprovalRate   float64
	CompletedCount int
	PendingCount   int
}
