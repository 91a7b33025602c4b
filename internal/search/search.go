package search

// Hit is a single similarity match. Score is normalized to [0,1], higher
// meaning more similar, regardless of which backend produced it.
type Hit struct {
	SnapshotID string  `json:"snapshotId"`
	EntityID   string  `json:"entityId"`
	Version    int     `json:"version"`
	Stage      string  `json:"stage"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// SnapshotRecord is the document pushed into the similarity index.
type SnapshotRecord struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	Version  int    `json:"version"`
	Stage    string `json:"stage"`
	Content  string `json:"content"`
}

// Searcher executes a similarity query against one backend.
type Searcher interface {
	Search(query string, limit int) ([]Hit, error)
	Healthy() bool
}

// clampScore pins a backend's native score into [0,1]. Backends that report
// distance rather than similarity convert with 1-distance before calling.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
