package postgres

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ProjectStorage implements the ProjectStorage interface for Postgres
type ProjectStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewProjectStorage creates a new ProjectStorage instance
func NewProjectStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{db: db, logger: logger}
}

func (s *ProjectStorage) CreateProjectIfAbsent(ctx context.Context, project *models.Project) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO projects (id, company_name, source_url, exchange, status, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.CompanyName, project.SourceURL, project.Exchange,
		project.Status, project.ErrorMessage, project.CreatedAt,
	)
	return mapError(err, "project not found")
}

func (s *ProjectStorage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT id, company_name, source_url, exchange, status, error_message, created_at
		 FROM projects WHERE id = $1`, id)

	p := &models.Project{}
	err := row.Scan(&p.ID, &p.CompanyName, &p.SourceURL, &p.Exchange, &p.Status, &p.ErrorMessage, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, "project not found")
	}
	return p, nil
}

func (s *ProjectStorage) ListProjects(ctx context.Context, skip, limit int) ([]*models.Project, int, error) {
	var total int
	if err := s.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, mapError(err, "project not found")
	}

	rows, err := s.db.pool.Query(ctx,
		`SELECT id, company_name, source_url, exchange, status, error_message, created_at
		 FROM projects ORDER BY created_at DESC OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, 0, mapError(err, "project not found")
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.CompanyName, &p.SourceURL, &p.Exchange, &p.Status, &p.ErrorMessage, &p.CreatedAt); err != nil {
			return nil, 0, mapError(err, "project not found")
		}
		projects = append(projects, p)
	}
	return projects, total, mapError(rows.Err(), "project not found")
}

func (s *ProjectStorage) UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus, errorMessage string) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE projects SET status = $2, error_message = $3 WHERE id = $1`,
		id, status, errorMessage)
	if err != nil {
		return mapError(err, "project not found")
	}
	if tag.RowsAffected() == 0 {
		return common.E(common.KindNotFound, "project not found")
	}
	return nil
}

func (s *ProjectStorage) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "project not found")
	}
	if tag.RowsAffected() == 0 {
		return common.E(common.KindNotFound, "project not found")
	}
	s.logger.Debug().Str("project_id", id).Msg("Project deleted")
	return nil
}
