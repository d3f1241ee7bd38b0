package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// ProjectStorage - project rows and their coarse lifecycle
type ProjectStorage interface {
	// CreateProjectIfAbsent inserts the project; a duplicate source URL
	// surfaces as a Conflict-kinded error.
	CreateProjectIfAbsent(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	// ListProjects returns a page (most recent first) plus the total count.
	ListProjects(ctx context.Context, skip, limit int) ([]*models.Project, int, error)
	UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus, errorMessage string) error
	// DeleteProject cascades to documents, pages, chunks, embeddings,
	// extraction results, snapshots and jobs.
	DeleteProject(ctx context.Context, id string) error
}

// DocumentStorage - stored filings and everything derived from them
type DocumentStorage interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error)

	// Page operations
	ListPages(ctx context.Context, documentID string) ([]*models.DocumentPage, error)
	CountPages(ctx context.Context, documentID string) (int, error)

	// Chunk/embedding presence, used by resume-skip checks
	CountChunks(ctx context.Context, documentID string) (int, error)
	CountEmbeddings(ctx context.Context, documentID string) (int, error)

	// Extraction rows
	ListExtractions(ctx context.Context, projectID string) ([]*models.ExtractionResult, error)

	// KNN runs the cosine nearest-neighbour search scoped to projectIDs,
	// ordered by ascending distance with chunk id as tiebreaker. An empty
	// project set is a ValidationFailed error, never an unscoped scan.
	KNN(ctx context.Context, vector []float32, projectIDs []string, k int) ([]*models.ScoredChunk, error)
}

// StepCommit is the unit of work persisted atomically when a pipeline step
// completes: the job row (resume payload + cursor metadata) plus whatever
// rows the step produced. The job UPDATE is guarded on status=running, so a
// concurrent cancel wins and the commit reports Conflict.
type StepCommit struct {
	Job           *models.Job
	ProjectStatus models.ProjectStatus // optional coarse lifecycle update, "" = leave
	Documents     []*models.Document
	Pages         []*models.DocumentPage
	Extractions   []*models.ExtractionResult
	Chunks        []*models.TextChunk
	Embeddings    []*models.Embedding
	Snapshot      *models.SnapshotData // inserted as version = latest+1
}

// JobStorage - the job slot, FSM transitions and step commits
type JobStorage interface {
	// AcquireJobSlot inserts a pending job. The partial unique index on
	// (project_id) WHERE status IN ('pending','running') makes a second
	// active job a Conflict.
	AcquireJobSlot(ctx context.Context, job *models.Job) error

	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetLatestJob(ctx context.Context, projectID string) (*models.Job, error)
	GetActiveJob(ctx context.Context, projectID string) (*models.Job, error)

	// UpdateJob writes the full job row. With fromStatuses set the UPDATE is
	// guarded (WHERE status = ANY(...)); a guard miss is a Conflict so FSM
	// races resolve in SQL rather than in callers.
	UpdateJob(ctx context.Context, job *models.Job, fromStatuses ...models.JobStatus) error

	// CancelActiveJob durably cancels the project's pending/running job in a
	// single guarded statement and returns the updated row. NotFound when no
	// active job exists.
	CancelActiveJob(ctx context.Context, projectID string) (*models.Job, error)

	// CommitStep persists one step's outputs in a single transaction.
	CommitStep(ctx context.Context, commit *StepCommit) error
}

// ChatStorage - chat sessions and their messages
type ChatStorage interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChats(ctx context.Context) ([]*models.Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns the chat's messages in chronological order.
	ListMessages(ctx context.Context, chatID string) ([]*models.Message, error)
}

// SnapshotStorage - versioned company snapshots
type SnapshotStorage interface {
	// GetLatestSnapshot returns the highest version for the project;
	// NotFound until the first generation.
	GetLatestSnapshot(ctx context.Context, projectID string) (*models.CompanySnapshot, error)
	// InsertSnapshot writes version = latest+1, leaving prior rows untouched.
	InsertSnapshot(ctx context.Context, projectID string, data *models.SnapshotData) (*models.CompanySnapshot, error)
}

// JobLogStorage - operational run logs in the embedded store
type JobLogStorage interface {
	AppendLog(ctx context.Context, entry models.JobLogEntry) error
	// GetLogs returns the newest entries first.
	GetLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLogEntry, error)
	CountLogs(ctx context.Context, jobID string) (int, error)
	DeleteLogs(ctx context.Context, jobID string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	Projects() ProjectStorage
	Documents() DocumentStorage
	Jobs() JobStorage
	Chats() ChatStorage
	Snapshots() SnapshotStorage
	JobLogs() JobLogStorage
	Ping(ctx context.Context) error
	Close() error
}
