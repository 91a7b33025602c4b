package search

import (
	"context"
	"testing"

	"github.com/Chhavidabla/BookPublisherAI/internal/store"
)

func testSnapshot() store.ContentSnapshot {
	return store.ContentSnapshot{
		ID:       "ch1_v1_abcd1234",
		EntityID: "ch1",
		Version:  1,
		Stage:    store.StageScraped,
		Content:  "Elena stepped through the ancient gates.",
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tc := range cases {
		if got := clampScore(tc.in); got != tc.want {
			t.Errorf("clampScore(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSearchWithNoBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil)

	hits := svc.Search(context.Background(), "ancient gates mystery", 5)
	if hits == nil {
		t.Fatal("search must return an empty slice, not nil")
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestIndexSnapshotWithoutMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, nil)
	if err := svc.IndexSnapshot(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("IndexSnapshot() error = %v", err)
	}
	if err := svc.RemoveSnapshot(context.Background(), "ch1_v1_abcd1234"); err != nil {
		t.Fatalf("RemoveSnapshot() error = %v", err)
	}
}

func TestSortByScoreDescending(t *testing.T) {
	hits := sortByScore([]Hit{
		{SnapshotID: "a", Score: 0.2},
		{SnapshotID: "b", Score: 0.9},
		{SnapshotID: "c", Score: 0.5},
	})
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if hits[i].SnapshotID != id {
			t.Fatalf("position %d = %s, want %s", i, hits[i].SnapshotID, id)
		}
	}
}
