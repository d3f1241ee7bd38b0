package storage

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/storage/postgres"
)

// Manager implements the StorageManager interface. Relational data lives in
// Postgres; job run logs live in the embedded Badger store so chatty append
// traffic never competes with pipeline transactions.
type Manager struct {
	pg        *postgres.PostgresDB
	badgerDB  *badger.BadgerDB
	projects  interfaces.ProjectStorage
	documents interfaces.DocumentStorage
	jobs      interfaces.JobStorage
	chats     interfaces.ChatStorage
	snapshots interfaces.SnapshotStorage
	jobLogs   interfaces.JobLogStorage
	logger    arbor.ILogger
}

// NewManager connects both stores and wires the storage implementations
func NewManager(ctx context.Context, logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	pg, err := postgres.NewPostgresDB(ctx, logger, &config.Postgres)
	if err != nil {
		return nil, err
	}

	badgerDB, err := badger.NewBadgerDB(logger, &config.Badger)
	if err != nil {
		pg.Close()
		return nil, err
	}

	return &Manager{
		pg:        pg,
		badgerDB:  badgerDB,
		projects:  postgres.NewProjectStorage(pg, logger),
		documents: postgres.NewDocumentStorage(pg, logger),
		jobs:      postgres.NewJobStorage(pg, logger),
		chats:     postgres.NewChatStorage(pg, logger),
		snapshots: postgres.NewSnapshotStorage(pg, logger),
		jobLogs:   badger.NewJobLogStorage(badgerDB, logger),
		logger:    logger,
	}, nil
}

// Projects returns the project storage interface
func (m *Manager) Projects() interfaces.ProjectStorage {
	return m.projects
}

// Documents returns the document storage interface
func (m *Manager) Documents() interfaces.DocumentStorage {
	return m.documents
}

// Jobs returns the job storage interface
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// Chats returns the chat storage interface
func (m *Manager) Chats() interfaces.ChatStorage {
	return m.chats
}

// Snapshots returns the snapshot storage interface
func (m *Manager) Snapshots() interfaces.SnapshotStorage {
	return m.snapshots
}

// JobLogs returns the job log storage interface
func (m *Manager) JobLogs() interfaces.JobLogStorage {
	return m.jobLogs
}

// Ping verifies the transactional store is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.pg.Ping(ctx)
}

// Close closes both stores, Badger first since nothing flows into it once
// the pipeline stops.
func (m *Manager) Close() error {
	var errs []error
	if m.badgerDB != nil {
		if err := m.badgerDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.pg != nil {
		if err := m.pg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
