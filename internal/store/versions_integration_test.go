package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "bookpub")
	pass := getenv("POSTGRES_PASSWORD", "bookpub")
	dbname := getenv("POSTGRES_DB", "bookpub_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return New(db)
}

func testEntityID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestCreateVersionSequencing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := testEntityID("ch")

	first, err := s.CreateVersion(ctx, entity, "chapter one, scraped", StageScraped, nil, nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("first version = %d, want 1", first.Version)
	}
	if first.ParentVersion != nil {
		t.Fatalf("first version should have no parent, got %v", *first.ParentVersion)
	}

	second, err := s.CreateVersion(ctx, entity, "chapter one, rewritten", StageAIWritten, map[string]any{"style": "literary"}, &first.Version)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("second version = %d, want 2", second.Version)
	}
	if second.ParentVersion == nil || *second.ParentVersion != 1 {
		t.Fatalf("second parent = %v, want 1", second.ParentVersion)
	}

	latest, err := s.GetVersion(ctx, entity, nil)
	if err != nil {
		t.Fatalf("GetVersion(latest) error = %v", err)
	}
	if latest.Version != 2 {
		t.Fatalf("latest = %d, want 2", latest.Version)
	}
	if latest.Metadata["style"] != "literary" {
		t.Fatalf("metadata not returned verbatim: %+v", latest.Metadata)
	}
}

func TestCreateVersionConcurrentSameEntity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := testEntityID("conc")

	if _, err := s.CreateVersion(ctx, entity, "base", StageScraped, nil, nil); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			one := 1
			_, err := s.CreateVersion(ctx, entity, fmt.Sprintf("draft %d", n), StageAIWritten, nil, &one)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent CreateVersion: %v", err)
		}
	}

	versions, err := s.ListVersions(ctx, entity)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != workers+1 {
		t.Fatalf("got %d versions, want %d", len(versions), workers+1)
	}
	for i, snapshot := range versions {
		if snapshot.Version != i+1 {
			t.Fatalf("version sequence has a gap or duplicate at index %d: %d", i, snapshot.Version)
		}
	}
}

func TestCreateVersionDuplicateContentFlagged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := testEntityID("dup")

	first, err := s.CreateVersion(ctx, entity, "same words", StageScraped, nil, nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if first.Duplicate {
		t.Fatal("first store of content flagged as duplicate")
	}

	second, err := s.CreateVersion(ctx, entity, "same words", StageAIWritten, nil, &first.Version)
	if err != nil {
		t.Fatalf("duplicate store must still succeed: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("identical content under same entity not flagged as duplicate")
	}
	if second.Version != 2 {
		t.Fatalf("duplicate must still get a distinct version, got %d", second.Version)
	}
	if second.ContentHash != first.ContentHash {
		t.Fatal("identical content produced different hashes")
	}

	// Same content under a different entity is not a duplicate.
	other, err := s.CreateVersion(ctx, testEntityID("dup"), "same words", StageScraped, nil, nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if other.Duplicate {
		t.Fatal("content under a different entity wrongly flagged")
	}
}

func TestGetVersionNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetVersion(ctx, testEntityID("missing"), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	entity := testEntityID("partial")
	if _, err := s.CreateVersion(ctx, entity, "v1", StageScraped, nil, nil); err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	missing := 9
	if _, err := s.GetVersion(ctx, entity, &missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing version, got %v", err)
	}
}

func TestCreateVersionRejectsIllegalStageJump(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := testEntityID("jump")

	if _, err := s.CreateVersion(ctx, entity, "v1", StagePublished, nil, nil); err == nil {
		t.Fatal("published is not a legal root stage")
	}

	first, err := s.CreateVersion(ctx, entity, "v1", StageScraped, nil, nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	_, err = s.CreateVersion(ctx, entity, "v2", StagePublished, nil, &first.Version)
	var transitionErr *StageTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected StageTransitionError, got %v", err)
	}
}

func TestDeleteVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entity := testEntityID("del")

	first, err := s.CreateVersion(ctx, entity, "v1", StageScraped, nil, nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if _, err := s.CreateVersion(ctx, entity, "v2", StageAIWritten, nil, &first.Version); err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}

	one := 1
	deleted, err := s.Delete(ctx, entity, &one)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !deleted {
		t.Fatal("expected version 1 to be deleted")
	}

	versions, err := s.ListVersions(ctx, entity)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 2 {
		t.Fatalf("unexpected versions after delete: %+v", versions)
	}

	deleted, err = s.Delete(ctx, entity, nil)
	if err != nil {
		t.Fatalf("Delete(all) error = %v", err)
	}
	if !deleted {
		t.Fatal("expected remaining versions to be deleted")
	}

	deleted, err = s.Delete(ctx, entity, nil)
	if err != nil {
		t.Fatalf("Delete(empty) error = %v", err)
	}
	if deleted {
		t.Fatal("delete on empty entity must report false")
	}
}
