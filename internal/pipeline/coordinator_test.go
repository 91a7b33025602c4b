package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Chhavidabla/BookPublisherAI/internal/review"
	"github.com/Chhavidabla/BookPublisherAI/internal/store"
)

type fakeVersions struct {
	mu        sync.Mutex
	snapshots map[string][]store.ContentSnapshot
	projects  []store.Project
	items     map[string]store.PipelineItem
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		snapshots: make(map[string][]store.ContentSnapshot),
		items:     make(map[string]store.PipelineItem),
	}
}

func (f *fakeVersions) CreateVersion(_ context.Context, entityID, content string, stage store.Stage, metadata map[string]any, parentVersion *int) (store.ContentSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	version := len(f.snapshots[entityID]) + 1
	snapshot := store.ContentSnapshot{
		ID:            fmt.Sprintf("%s_v%d", entityID, version),
		EntityID:      entityID,
		Version:       version,
		Content:       content,
		ParentVersion: parentVersion,
		Stage:         stage,
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	}
	f.snapshots[entityID] = append(f.snapshots[entityID], snapshot)
	return snapshot, nil
}

func (f *fakeVersions) CreateProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, project)
	return nil
}

func (f *fakeVersions) UpdateProjectStatus(_ context.Context, projectID, status, stage, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.projects {
		if f.projects[i].ID == projectID {
			f.projects[i].Status = status
			f.projects[i].LastError = lastError
		}
	}
	return nil
}

func (f *fakeVersions) UpsertPipelineItem(_ context.Context, item store.PipelineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.EntityID] = item
	return nil
}

func (f *fakeVersions) versions(entityID string) []store.ContentSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ContentSnapshot(nil), f.snapshots[entityID]...)
}

type fakeLedger struct {
	mu       sync.Mutex
	nextID   int
	requests map[string]review.Request
	feedback map[string]review.Feedback
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		requests: make(map[string]review.Request),
		feedback: make(map[string]review.Feedback),
	}
}

func (f *fakeLedger) SubmitForReview(_ context.Context, targetVersion string, kind review.Kind, priority int) (review.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	request := review.Request{
		ID:            fmt.Sprintf("rev-%d", f.nextID),
		TargetVersion: targetVersion,
		Kind:          kind,
		Priority:      priority,
		Status:        review.StatusPending,
		CreatedAt:     time.Now(),
	}
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakeLedger) SubmitFeedback(_ context.Context, requestID string, action review.Action, rating int, reviewerID, feedbackText, suggestedChanges string) (review.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return review.Feedback{}, review.ErrNotFound
	}
	if request.Status == review.StatusCompleted {
		return review.Feedback{}, review.ErrAlreadyCompleted
	}
	request.Status = review.StatusCompleted
	f.requests[requestID] = request

	fb := review.Feedback{
		RequestID:        requestID,
		ReviewerID:       reviewerID,
		Action:           action,
		Rating:           rating,
		FeedbackText:     feedbackText,
		SuggestedChanges: suggestedChanges,
		CreatedAt:        time.Now(),
	}
	f.feedback[requestID] = fb
	return fb, nil
}

func (f *fakeLedger) AwaitFeedback(_ context.Context, requestID string, timeout time.Duration) (review.Feedback, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		fb, ok := f.feedback[requestID]
		f.mu.Unlock()
		if ok {
			return fb, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return review.Feedback{}, review.ErrFeedbackTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeLedger) requestsOfKind(kind review.Kind) []review.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []review.Request
	for _, r := range f.requests {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type scriptedScraper struct {
	mu        sync.Mutex
	pages     map[string]Page
	transient int // transient failures before the first success
	failURL   string
	calls     int
}

func (s *scriptedScraper) Scrape(_ context.Context, url string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if url == s.failURL {
		return Page{}, Fatal("scrape", errors.New("page gone"))
	}
	if s.transient > 0 {
		s.transient--
		return Page{}, Transient("scrape", errors.New("connection reset"))
	}
	page, ok := s.pages[url]
	if !ok {
		page = Page{Title: "Chapter", Content: "source text for " + url}
	}
	return page, nil
}

type scriptedWriter struct {
	mu    sync.Mutex
	calls int
}

func (w *scriptedWriter) Transform(_ context.Context, content, title, guidance string) (Draft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	text := fmt.Sprintf("draft %d of %s", w.calls, title)
	if guidance != "" {
		text += " (revised)"
	}
	return Draft{Content: text, Metadata: map[string]any{"style": "literary"}}, nil
}

type scriptedReviewer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (r *scriptedReviewer) Review(_ context.Context, content, original, title string) (Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	score := 9.0
	if r.calls < len(r.scores) {
		score = r.scores[r.calls]
	}
	r.calls++
	verdict := Verdict{Score: score}
	if score < 7 {
		verdict.Feedback = "pacing drags in the middle"
		verdict.SuggestedChanges = "tighten the second act"
	}
	return verdict, nil
}

type scriptedEditor struct{}

func (scriptedEditor) Edit(_ context.Context, content, title string) (Edit, error) {
	return Edit{Content: "edited: " + content, ChangesMade: "fixed typos"}, nil
}

type scriptedHuman struct {
	decision HumanDecision
}

func (h *scriptedHuman) Decide(_ context.Context, item ReviewItem) (HumanDecision, error) {
	return h.decision, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	entities []string
	content  map[string]string
}

func (p *recordingPublisher) Publish(_ context.Context, projectID, entityID, title, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entities = append(p.entities, entityID)
	if p.content == nil {
		p.content = make(map[string]string)
	}
	p.content[entityID] = content
	return nil
}

func testOptions() Options {
	return Options{
		MaxRevisions:    3,
		MaxRetries:      3,
		RetryBaseDelay:  time.Millisecond,
		ReviewTimeout:   2 * time.Second,
		ReviewThreshold: 7.0,
	}
}

func TestRunEndToEndWithReviseLoop(t *testing.T) {
	versions := newFakeVersions()
	ledger := newFakeLedger()
	scraper := &scriptedScraper{}
	writer := &scriptedWriter{}
	// First draft falls short, the revision passes.
	reviewer := &scriptedReviewer{scores: []float64{5.0, 9.0}}
	human := &scriptedHuman{decision: HumanDecision{Action: review.ActionApprove, Rating: 9, Feedback: "well done"}}

	coord := New(versions, ledger, scraper, writer, reviewer, scriptedEditor{}, testOptions()).
		WithHumanSession(human)

	summary, err := coord.Run(context.Background(), "demo book", []string{"https://example.org/ch1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 1 || summary.Failed != 0 {
		t.Fatalf("expected 1 completed, 0 failed, got %d/%d", summary.Completed, summary.Failed)
	}

	got := versions.versions("ch1")
	wantStages := []store.Stage{
		store.StageScraped,
		store.StageAIWritten,
		store.StageAIWritten,
		store.StageHumanApproved,
		store.StageFinalEdited,
	}
	if len(got) != len(wantStages) {
		t.Fatalf("expected %d versions, got %d", len(wantStages), len(got))
	}
	for i, snapshot := range got {
		if snapshot.Version != i+1 {
			t.Errorf("version %d: expected number %d, got %d", i, i+1, snapshot.Version)
		}
		if snapshot.Stage != wantStages[i] {
			t.Errorf("version %d: expected stage %s, got %s", i+1, wantStages[i], snapshot.Stage)
		}
		if i == 0 {
			if snapshot.ParentVersion != nil {
				t.Errorf("version 1: expected no parent, got %d", *snapshot.ParentVersion)
			}
		} else if snapshot.ParentVersion == nil || *snapshot.ParentVersion != i {
			t.Errorf("version %d: expected parent %d, got %v", i+1, i, snapshot.ParentVersion)
		}
	}

	// Both AI verdicts and the human approval went through the ledger.
	if ai := ledger.requestsOfKind(review.KindAI); len(ai) != 2 {
		t.Errorf("expected 2 ai review requests, got %d", len(ai))
	}
	if humans := ledger.requestsOfKind(review.KindHuman); len(humans) != 1 {
		t.Errorf("expected 1 human review request, got %d", len(humans))
	}
}

func TestRunPublishesWhenPublisherWired(t *testing.T) {
	versions := newFakeVersions()
	ledger := newFakeLedger()
	human := &scriptedHuman{decision: HumanDecision{Action: review.ActionApprove, Rating: 8}}
	publisher := &recordingPublisher{}

	coord := New(versions, ledger, &scriptedScraper{}, &scriptedWriter{}, &scriptedReviewer{}, scriptedEditor{}, testOptions()).
		WithHumanSession(human).
		WithPublisher(publisher)

	summary, err := coord.Run(context.Background(), "demo book", []string{"https://example.org/ch1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected completed run, got %+v", summary)
	}

	got := versions.versions("ch1")
	last := got[len(got)-1]
	if last.Stage != store.StagePublished {
		t.Errorf("expected final stage published, got %s", last.Stage)
	}
	if len(publisher.entities) != 1 || publisher.entities[0] != "ch1" {
		t.Errorf("expected one publish for ch1, got %v", publisher.entities)
	}
	if publisher.content["ch1"] != last.Content {
		t.Error("published content does not match the final version")
	}
}

func TestRunRetriesTransientScrapeFailure(t *testing.T) {
	versions := newFakeVersions()
	ledger := newFakeLedger()
	scraper := &scriptedScraper{transient: 2}
	human := &scriptedHuman{decision: HumanDecision{Action: review.ActionApprove, Rating: 8}}

	coord := New(versions, ledger, scraper, &scriptedWriter{}, &scriptedReviewer{}, scriptedEditor{}, testOptions()).
		WithHumanSession(human)

	summary, err := coord.Run(context.Background(), "demo book", []string{"https://example.org/ch1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected item to recover, got %+v", summary.Items[0])
	}
	if scraper.calls != 3 {
		t.Errorf("expected 3 scrape attempts, got %d", scraper.calls)
	}
}

func TestRunFatalFailureDoesNotAbortBatch(t *testing.T) {
	versions := newFakeVersions()
	ledger := newFakeLedger()
	scraper := &scriptedScraper{failURL: "https://example.org/ch2"}
	human := &scriptedHuman{decision: HumanDecision{Action: review.ActionApprove, Rating: 8}}

	coord := New(versions, ledger, scraper, &scriptedWriter{}, &scriptedReviewer{}, scriptedEditor{}, testOptions()).
		WithHumanSession(human)

	summary, err := coord.Run(context.Background(), "demo book",
		[]string{"https://example.org/ch1", "https://example.org/ch2"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Completed != 1 || summary.Failed != 1 {
		t.Fatalf("expected 1 completed and 1 failed, got %d/%d", summary.Completed, summary.Failed)
	}
	if got := versions.versions("ch1"); len(got) == 0 {
		t.Error("healthy item produced no versions")
	}
	if got := versions.versions("ch2"); len(got) != 0 {
		t.Errorf("failed scrape must not create versions, got %d", len(got))
	}
	for _, item := range summary.Items {
		if item.EntityID == "ch2" {
			if item.Status != StatusFailed {
				t.Errorf("expected ch2 failed, got %s", item.Status)
			}
			if item.Err == nil {
				t.Error("expected recorded error for ch2")
			}
		}
	}
}

func TestRunHumanRejectFailsItem(t *testing.T) {
	versions := newFakeVersions()
	ledger := newFakeLedger()
	human := &scriptedHuman{decision: HumanDecision{Action: review.ActionReject, Rating: 2, Feedback: "off topic"}}

	coord := New(versions, ledger, &scriptedScraper{}, &scriptedWriter{}, &scriptedReviewer{}, scriptedEditor{}, testOptions()).
		WithHumanSession(human)

	summary, err := coord.Run(context.Background(), "demo book", []string{"https://example.org/ch1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected rejected item to fail, got %+v", summary.Items[0])
	}

	// The store keeps the last good versions; nothing past the draft exists.
	got := versions.versions("ch1")
	last := got[len(got)-1]
	if last.Stage != store.StageAIWritten {
		t.Errorf("expected last stage ai_written after reject, got %s", last.Stage)
	}
}

func TestRunHumanReviewTimeoutFailsItem(t *testing.T) {
	versions := newFakeVersions()
	ledger := newFakeLedger()

	opts := testOptions()
	opts.ReviewTimeout = 20 * time.Millisecond

	// No human session: nobody ever answers the request.
	coord := New(versions, ledger, &scriptedScraper{}, &scriptedWriter{}, &scriptedReviewer{}, scriptedEditor{}, opts)

	summary, err := coord.Run(context.Background(), "demo book", []string{"https://example.org/ch1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected timed-out item to fail, got %+v", summary.Items[0])
	}
	if !errors.Is(summary.Items[0].Err, review.ErrFeedbackTimeout) {
		t.Errorf("expected feedback timeout in error chain, got %v", summary.Items[0].Err)
	}
}

func TestRunRejectsEmptyURLList(t *testing.T) {
	coord := New(newFakeVersions(), newFakeLedger(), &scriptedScraper{}, &scriptedWriter{}, &scriptedReviewer{}, scriptedEditor{}, testOptions())
	if _, err := coord.Run(context.Background(), "demo book", nil); err == nil {
		t.Error("expected error for empty url list, got nil")
	}
}
