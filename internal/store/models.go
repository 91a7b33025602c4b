package store

import "time"

// Stage tags a snapshot with the pipeline phase that produced it.
type Stage string

const (
	StageScraped       Stage = "scraped"
	StageAIWritten     Stage = "ai_written"
	StageAIReviewed    Stage = "ai_reviewed"
	StageHumanApproved Stage = "human_approved"
	StageFinalEdited   Stage = "final_edited"
	StagePublished     Stage = "published"
)

// stageTransitions is the allowed-transition table. The key "" covers
// root snapshots with no parent. ai_written loops back to itself because a
// revise verdict regenerates the draft from the previous draft.
var stageTransitions = map[Stage][]Stage{
	"":                 {StageScraped},
	StageScraped:       {StageAIWritten},
	StageAIWritten:     {StageAIWritten, StageAIReviewed, StageHumanApproved},
	StageAIReviewed:    {StageAIWritten, StageHumanApproved},
	StageHumanApproved: {StageFinalEdited},
	StageFinalEdited:   {StagePublished},
	StagePublished:     nil,
}

func (s Stage) Valid() bool {
	switch s {
	case StageScraped, StageAIWritten, StageAIReviewed, StageHumanApproved, StageFinalEdited, StagePublished:
		return true
	}
	return false
}

// CanAdvanceTo reports whether next is a legal successor of s.
func (s Stage) CanAdvanceTo(next Stage) bool {
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ContentSnapshot is one immutable stored version of an entity's content.
// Rows are never updated; every write creates a new snapshot.
type ContentSnapshot struct {
	ID            string
	EntityID      string
	Version       int
	Content       string
	ContentHash   string
	ParentVersion *int
	Stage         Stage
	Duplicate     bool
	Metadata      map[string]any
	CreatedAt     time.Time
}

type Project struct {
	ID              string
	Name            string
	SourceURLs      []string
	Status          string
	CurrentStage    string
	StagesCompleted []string
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PipelineItem struct {
	ProjectID   string
	EntityID    string
	SourceURL   string
	Status      string
	Stage       string
	LastVersion int
	LastError   string
	UpdatedAt   time.Time
}

// ContentStats is the aggregate view over all stored snapshots.
type ContentStats struct {
	TotalSnapshots int
	UniqueEntities int
	TotalWords     int
}
