package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) CreateProject(ctx context.Context, project Project) error {
	urls, err := json.Marshal(nonNilStrings(project.SourceURLs))
	if err != nil {
		return fmt.Errorf("marshal source urls: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, source_urls, status, current_stage)
		VALUES ($1, $2, $3::jsonb, $4, $5)
	`, project.ID, project.Name, string(urls), project.Status, project.CurrentStage)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	var rawURLs, rawStages []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_urls, status, current_stage, stages_completed, last_error, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(
		&project.ID,
		&project.Name,
		&rawURLs,
		&project.Status,
		&project.CurrentStage,
		&rawStages,
		&project.LastError,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	_ = json.Unmarshal(rawURLs, &project.SourceURLs)
	_ = json.Unmarshal(rawStages, &project.StagesCompleted)
	return project, nil
}

// UpdateProjectStatus advances the project record and appends stage to its
// completed list if not already present.
func (s *Store) UpdateProjectStatus(ctx context.Context, projectID, status, stage, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET status=$2,
			current_stage=CASE WHEN $3 <> '' THEN $3 ELSE current_stage END,
			stages_completed=CASE
				WHEN $3 <> '' AND NOT stages_completed ? $3 THEN stages_completed || to_jsonb($3::text)
				ELSE stages_completed
			END,
			last_error=$4,
			updated_at=NOW()
		WHERE id=$1
	`, projectID, status, stage, lastError)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_urls, status, current_stage, stages_completed, last_error, created_at, updated_at
		FROM projects
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var project Project
		var rawURLs, rawStages []byte
		if err := rows.Scan(
			&project.ID,
			&project.Name,
			&rawURLs,
			&project.Status,
			&project.CurrentStage,
			&rawStages,
			&project.LastError,
			&project.CreatedAt,
			&project.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		_ = json.Unmarshal(rawURLs, &project.SourceURLs)
		_ = json.Unmarshal(rawStages, &project.StagesCompleted)
		items = append(items, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// UpsertPipelineItem records per-item progress: last good version, current
// stage, and failure details. Failures are recorded against the unchanged
// last version so nothing partial is ever visible.
func (s *Store) UpsertPipelineItem(ctx context.Context, item PipelineItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_items (project_id, entity_id, source_url, status, stage, last_version, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, entity_id) DO UPDATE SET
			source_url=EXCLUDED.source_url,
			status=EXCLUDED.status,
			stage=EXCLUDED.stage,
			last_version=EXCLUDED.last_version,
			last_error=EXCLUDED.last_error,
			updated_at=NOW()
	`, item.ProjectID, item.EntityID, item.SourceURL, item.Status, item.Stage, item.LastVersion, item.LastError)
	if err != nil {
		return fmt.Errorf("upsert pipeline item: %w", err)
	}
	return nil
}

func (s *Store) ListPipelineItems(ctx context.Context, projectID string) ([]PipelineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, entity_id, source_url, status, stage, last_version, last_error, updated_at
		FROM pipeline_items
		WHERE project_id=$1
		ORDER BY entity_id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pipeline items: %w", err)
	}
	defer rows.Close()

	items := make([]PipelineItem, 0)
	for rows.Next() {
		var item PipelineItem
		if err := rows.Scan(
			&item.ProjectID,
			&item.EntityID,
			&item.SourceURL,
			&item.Status,
			&item.Stage,
			&item.LastVersion,
			&item.LastError,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline items: %w", err)
	}
	return items, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
