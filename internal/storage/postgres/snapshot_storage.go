package postgres

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// SnapshotStorage implements the SnapshotStorage interface for Postgres
type SnapshotStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewSnapshotStorage creates a new SnapshotStorage instance
func NewSnapshotStorage(db *PostgresDB, logger arbor.ILogger) interfaces.SnapshotStorage {
	return &SnapshotStorage{db: db, logger: logger}
}

func (s *SnapshotStorage) GetLatestSnapshot(ctx context.Context, projectID string) (*models.CompanySnapshot, error) {
	sn := &models.CompanySnapshot{}
	err := s.db.pool.QueryRow(ctx,
		`SELECT id, project_id, snapshot_data, version, generated_at
		 FROM company_snapshots
		 WHERE project_id = $1
		 ORDER BY version DESC
		 LIMIT 1`, projectID).
		Scan(&sn.ID, &sn.ProjectID, &sn.Data, &sn.Version, &sn.GeneratedAt)
	if err != nil {
		return nil, mapError(err, "no snapshot for project")
	}
	return sn, nil
}

// InsertSnapshot writes a new version on top of whatever exists. Earlier
// versions are kept; readers always take the highest.
func (s *SnapshotStorage) InsertSnapshot(ctx context.Context, projectID string, data *models.SnapshotData) (*models.CompanySnapshot, error) {
	if data == nil {
		return nil, common.E(common.KindValidation, "snapshot data is required")
	}

	sn := &models.CompanySnapshot{}
	err := s.db.pool.QueryRow(ctx,
		`INSERT INTO company_snapshots (id, project_id, snapshot_data, version, generated_at)
		 SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, now()
		 FROM company_snapshots WHERE project_id = $2
		 RETURNING id, project_id, snapshot_data, version, generated_at`,
		common.NewID(), projectID, data).
		Scan(&sn.ID, &sn.ProjectID, &sn.Data, &sn.Version, &sn.GeneratedAt)
	if err != nil {
		return nil, mapError(err, "project not found")
	}

	s.logger.Debug().
		Str("project_id", projectID).
		Int("version", sn.Version).
		Msg("Snapshot stored")
	return sn, nil
}
