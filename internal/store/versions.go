package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Chhavidabla/BookPublisherAI/internal/util"
)

// Indexer pushes snapshots into the semantic search index. Indexing is a side
// effect of CreateVersion and must never fail the write.
type Indexer interface {
	IndexSnapshot(ctx context.Context, snapshot ContentSnapshot) error
	RemoveSnapshot(ctx context.Context, id string) error
}

// BlobArchive persists raw content payloads keyed by content hash.
type BlobArchive interface {
	Put(ctx context.Context, contentHash, content string) error
}

// Store is the append-only version ledger over Postgres. Snapshots are
// immutable once written; the only destructive operation is the explicit
// Delete.
type Store struct {
	db    *sql.DB
	locks *entityLocks
	index Indexer
	blobs BlobArchive
}

func New(db *sql.DB) *Store {
	return &Store{db: db, locks: newEntityLocks()}
}

// WithIndexer attaches the semantic index updated on every CreateVersion.
func (s *Store) WithIndexer(index Indexer) *Store {
	s.index = index
	return s
}

// WithBlobArchive attaches the content-addressed payload archive.
func (s *Store) WithBlobArchive(blobs BlobArchive) *Store {
	s.blobs = blobs
	return s
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateVersion appends a new snapshot for entityID, assigning the next
// version number. Callers never supply version numbers: the sequence is
// derived under a per-entity lock so it stays gap-free and monotonic even
// when different entities are written concurrently.
//
// Byte-identical content already stored under the same entity is flagged as a
// duplicate but stored anyway, keeping the audit trail complete.
func (s *Store) CreateVersion(ctx context.Context, entityID, content string, stage Stage, metadata map[string]any, parentVersion *int) (ContentSnapshot, error) {
	if strings.TrimSpace(entityID) == "" {
		return ContentSnapshot{}, fmt.Errorf("create version: entity id required")
	}
	if !stage.Valid() {
		return ContentSnapshot{}, fmt.Errorf("create version: unknown stage %q", stage)
	}

	lock := s.locks.get(entityID)
	lock.Lock()
	defer lock.Unlock()

	contentHash := HashContent(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ContentSnapshot{}, fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Advisory lock guards the max+1 computation against writers in other
	// processes; the in-process mutex already covers this one.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entityID); err != nil {
		return ContentSnapshot{}, fmt.Errorf("acquire entity lock: %w", err)
	}

	var maxVersion int
	var parentStage Stage
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM snapshots WHERE entity_id=$1
	`, entityID).Scan(&maxVersion); err != nil {
		return ContentSnapshot{}, fmt.Errorf("read max version: %w", err)
	}

	if parentVersion != nil {
		err := tx.QueryRowContext(ctx, `
			SELECT stage FROM snapshots WHERE entity_id=$1 AND version=$2
		`, entityID, *parentVersion).Scan(&parentStage)
		if errors.Is(err, sql.ErrNoRows) {
			return ContentSnapshot{}, fmt.Errorf("parent version %d for entity %s: %w", *parentVersion, entityID, ErrNotFound)
		}
		if err != nil {
			return ContentSnapshot{}, fmt.Errorf("read parent stage: %w", err)
		}
	}
	if !parentStage.CanAdvanceTo(stage) {
		return ContentSnapshot{}, &StageTransitionError{From: parentStage, To: stage}
	}

	var duplicate bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM snapshots WHERE entity_id=$1 AND content_hash=$2)
	`, entityID, contentHash).Scan(&duplicate); err != nil {
		return ContentSnapshot{}, fmt.Errorf("check duplicate content: %w", err)
	}
	if duplicate {
		dup := &DuplicateContentError{EntityID: entityID, ContentHash: contentHash}
		log.Printf("store: %v (storing anyway)", dup)
	}

	snapshot := ContentSnapshot{
		ID:            util.SnapshotID(entityID, maxVersion+1),
		EntityID:      entityID,
		Version:       maxVersion + 1,
		Content:       content,
		ContentHash:   contentHash,
		ParentVersion: parentVersion,
		Stage:         stage,
		Duplicate:     duplicate,
		Metadata:      metadata,
	}

	encodedMetadata, err := encodeMetadata(metadata)
	if err != nil {
		return ContentSnapshot{}, err
	}

	var parent sql.NullInt64
	if parentVersion != nil {
		parent = sql.NullInt64{Int64: int64(*parentVersion), Valid: true}
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO snapshots (id, entity_id, version, content, content_hash, parent_version, stage, duplicate, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		RETURNING created_at
	`, snapshot.ID, snapshot.EntityID, snapshot.Version, snapshot.Content, snapshot.ContentHash,
		parent, string(snapshot.Stage), snapshot.Duplicate, encodedMetadata,
	).Scan(&snapshot.CreatedAt); err != nil {
		return ContentSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ContentSnapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}

	s.indexSnapshot(ctx, snapshot)
	s.archiveContent(snapshot)

	return snapshot, nil
}

// indexSnapshot pushes the snapshot into the search index, retrying once. A
// second failure degrades search for this snapshot but never fails the write.
func (s *Store) indexSnapshot(ctx context.Context, snapshot ContentSnapshot) {
	if s.index == nil {
		return
	}
	err := s.index.IndexSnapshot(ctx, snapshot)
	if err == nil {
		return
	}
	log.Printf("store: index snapshot %s failed, retrying: %v", snapshot.ID, err)
	if err := s.index.IndexSnapshot(ctx, snapshot); err != nil {
		log.Printf("store: index snapshot %s failed again, search degraded for this version: %v", snapshot.ID, err)
	}
}

func (s *Store) archiveContent(snapshot ContentSnapshot) {
	if s.blobs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.blobs.Put(ctx, snapshot.ContentHash, snapshot.Content); err != nil {
			log.Printf("store: archive blob %s: %v", snapshot.ContentHash, err)
		}
	}()
}

// GetVersion returns one snapshot. A nil version selects the highest version
// stored for the entity.
func (s *Store) GetVersion(ctx context.Context, entityID string, version *int) (ContentSnapshot, error) {
	query := `
		SELECT id, entity_id, version, content, content_hash, parent_version, stage, duplicate, metadata, created_at
		FROM snapshots
		WHERE entity_id=$1
	`
	args := []any{entityID}
	if version != nil {
		query += ` AND version=$2`
		args = append(args, *version)
	} else {
		query += ` ORDER BY version DESC LIMIT 1`
	}

	snapshot, err := scanSnapshot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		if version != nil {
			return ContentSnapshot{}, fmt.Errorf("entity %s version %d: %w", entityID, *version, ErrNotFound)
		}
		return ContentSnapshot{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return ContentSnapshot{}, fmt.Errorf("get version: %w", err)
	}
	return snapshot, nil
}

// ListVersions returns every snapshot for the entity in ascending version
// order. An unknown entity yields an empty slice.
func (s *Store) ListVersions(ctx context.Context, entityID string) ([]ContentSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, version, content, content_hash, parent_version, stage, duplicate, metadata, created_at
		FROM snapshots
		WHERE entity_id=$1
		ORDER BY version ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]ContentSnapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

// Delete removes one version, or every version when version is nil. It
// reports whether anything was deleted. This is the only destructive
// operation on snapshots and is never triggered implicitly.
func (s *Store) Delete(ctx context.Context, entityID string, version *int) (bool, error) {
	lock := s.locks.get(entityID)
	lock.Lock()
	defer lock.Unlock()

	query := `DELETE FROM snapshots WHERE entity_id=$1`
	args := []any{entityID}
	if version != nil {
		query += ` AND version=$2`
		args = append(args, *version)
	}
	query += ` RETURNING id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete snapshots: %w", err)
	}
	defer rows.Close()

	var deletedIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return false, fmt.Errorf("scan deleted id: %w", err)
		}
		deletedIDs = append(deletedIDs, id)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate deleted ids: %w", err)
	}

	if s.index != nil {
		for _, id := range deletedIDs {
			if err := s.index.RemoveSnapshot(ctx, id); err != nil {
				log.Printf("store: remove snapshot %s from index: %v", id, err)
			}
		}
	}

	return len(deletedIDs) > 0, nil
}

// Stats summarizes the stored corpus.
func (s *Store) Stats(ctx context.Context) (ContentStats, error) {
	var stats ContentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(DISTINCT entity_id),
			COALESCE(SUM(array_length(regexp_split_to_array(trim(content), '\s+'), 1)), 0)
		FROM snapshots
	`).Scan(&stats.TotalSnapshots, &stats.UniqueEntities, &stats.TotalWords)
	if err != nil {
		return ContentStats{}, fmt.Errorf("content stats: %w", err)
	}
	return stats, nil
}

// Ping verifies the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (ContentSnapshot, error) {
	var snapshot ContentSnapshot
	var parent sql.NullInt64
	var stage string
	var rawMetadata []byte
	if err := row.Scan(
		&snapshot.ID,
		&snapshot.EntityID,
		&snapshot.Version,
		&snapshot.Content,
		&snapshot.ContentHash,
		&parent,
		&stage,
		&snapshot.Duplicate,
		&rawMetadata,
		&snapshot.CreatedAt,
	); err != nil {
		return ContentSnapshot{}, err
	}
	snapshot.Stage = Stage(stage)
	if parent.Valid {
		value := int(parent.Int64)
		snapshot.ParentVersion = &value
	}
	if len(rawMetadata) > 0 {
		if err := json.Unmarshal(rawMetadata, &snapshot.Metadata); err != nil {
			return ContentSnapshot{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return snapshot, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(encoded), nil
}
