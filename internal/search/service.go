package search

import (
	"context"
	"log"
	"sort"

	"github.com/Chhavidabla/BookPublisherAI/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres FTS. It satisfies store.Indexer, so every stored snapshot becomes
// searchable as a side effect of the write.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates the search facade. meili may be nil when Meilisearch is
// not configured; pgfts may be nil in tests.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// IndexSnapshot pushes a snapshot into Meilisearch. With no Meilisearch
// configured this is a no-op: the Postgres fallback indexes through a
// generated column, so the snapshot is still discoverable.
func (s *Service) IndexSnapshot(ctx context.Context, snapshot store.ContentSnapshot) error {
	if s.meili == nil {
		return nil
	}
	return s.meili.Index(SnapshotRecord{
		ID:       snapshot.ID,
		EntityID: snapshot.EntityID,
		Version:  snapshot.Version,
		Stage:    string(snapshot.Stage),
		Content:  snapshot.Content,
	})
}

// RemoveSnapshot drops a deleted snapshot from Meilisearch.
func (s *Service) RemoveSnapshot(ctx context.Context, id string) error {
	if s.meili == nil {
		return nil
	}
	return s.meili.Remove(id)
}

// Search returns snapshots similar to queryText, best first, scores in
// [0,1]. An empty or unmatched query yields an empty slice, never an error.
func (s *Service) Search(ctx context.Context, queryText string, limit int) []Hit {
	if s.meili != nil && s.meili.Healthy() {
		hits, err := s.meili.Search(queryText, limit)
		if err == nil {
			return sortByScore(nonNil(hits))
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return []Hit{}
	}
	hits, err := s.pgfts.SearchContext(ctx, queryText, limit)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return []Hit{}
	}
	return sortByScore(nonNil(hits))
}

// Close stops background work on the configured backends.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(hits []Hit) []Hit {
	if hits == nil {
		return []Hit{}
	}
	return hits
}

func sortByScore(hits []Hit) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits
}
