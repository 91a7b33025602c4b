package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// snapshots table as a fallback. The fts column is generated from content,
// so no explicit indexing step is needed.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(query string, limit int) ([]Hit, error) {
	return p.SearchContext(context.Background(), query, limit)
}

func (p *PgFTS) SearchContext(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entity_id, version, stage,
			ts_headline('english', content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(fts, plainto_tsquery('english', $1)) AS rank
		FROM snapshots
		WHERE fts @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0)
	for rows.Next() {
		var hit Hit
		var rank float64
		if err := rows.Scan(&hit.SnapshotID, &hit.EntityID, &hit.Version, &hit.Stage, &hit.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scan pgfts hit: %w", err)
		}
		hit.Score = clampScore(rank)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pgfts hits: %w", err)
	}
	return hits, nil
}
