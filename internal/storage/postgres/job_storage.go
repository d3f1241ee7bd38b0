package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const jobColumns = `id, ref, project_id, status, current_step, current_step_index, total_steps,
	last_successful_step, failed_step, error_message, can_resume, resume_data,
	documents_processed, embeddings_created, retry_count, max_retries,
	started_at, updated_at, completed_at, cancelled_at`

// JobStorage implements the JobStorage interface for Postgres
type JobStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *PostgresDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

// AcquireJobSlot inserts the pending job. The partial unique index on
// (project_id) WHERE status IN ('pending','running') turns a concurrent
// second start into a Conflict here instead of a race in the executor.
func (s *JobStorage) AcquireJobSlot(ctx context.Context, job *models.Job) error {
	resumeData, err := models.EncodeResumeData(job.ResumeData)
	if err != nil {
		return common.WrapErr(common.KindInternal, err, "failed to encode resume data")
	}

	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		job.ID, job.Ref, job.ProjectID, job.Status, job.CurrentStep, job.CurrentStepIndex, job.TotalSteps,
		job.LastSuccessfulStep, job.FailedStep, job.ErrorMessage, job.CanResume, resumeData,
		job.DocumentsProcessed, job.EmbeddingsCreated, job.RetryCount, job.MaxRetries,
		job.StartedAt, job.UpdatedAt, job.CompletedAt, job.CancelledAt)
	if err != nil {
		return mapError(err, "job not found")
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("project_id", job.ProjectID).
		Msg("Job slot acquired")
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *JobStorage) GetLatestJob(ctx context.Context, projectID string) (*models.Job, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE project_id = $1
		 ORDER BY started_at DESC
		 LIMIT 1`, projectID)
	return scanJob(row)
}

func (s *JobStorage) GetActiveJob(ctx context.Context, projectID string) (*models.Job, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE project_id = $1 AND status IN ('pending', 'running')`, projectID)
	return scanJob(row)
}

// UpdateJob writes the mutable job columns. With fromStatuses the update is
// guarded, and a guard miss reports Conflict: the row moved under us (a
// cancel, usually) and the caller's transition loses.
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job, fromStatuses ...models.JobStatus) error {
	resumeData, err := models.EncodeResumeData(job.ResumeData)
	if err != nil {
		return common.WrapErr(common.KindInternal, err, "failed to encode resume data")
	}

	query := updateJobSQL
	args := updateJobArgs(job, resumeData)
	if len(fromStatuses) > 0 {
		query += ` AND status = ANY($16)`
		args = append(args, statusStrings(fromStatuses))
	}

	tag, err := s.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "job not found")
	}
	if tag.RowsAffected() == 0 {
		if len(fromStatuses) > 0 {
			return common.E(common.KindConflict, "job state changed concurrently")
		}
		return common.E(common.KindNotFound, "job not found")
	}
	return nil
}

// CancelActiveJob is the cancel write path: one guarded UPDATE that either
// claims the project's active job or affects nothing. Everything the HTTP
// handler needs back (ref, step, counters) rides on RETURNING.
func (s *JobStorage) CancelActiveJob(ctx context.Context, projectID string) (*models.Job, error) {
	row := s.db.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'cancelled', can_resume = TRUE, updated_at = now(), cancelled_at = now()
		 WHERE project_id = $1 AND status IN ('pending', 'running')
		 RETURNING `+jobColumns, projectID)

	job, err := scanJob(row)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.E(common.KindNotFound, "no active job to cancel")
		}
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("project_id", projectID).
		Msg("Active job cancelled")
	return job, nil
}

// CommitStep persists one step's outputs atomically. The job row update is
// guarded on status='running': if a cancel landed since the step began, zero
// rows match, the transaction rolls back and the executor sees Conflict.
func (s *JobStorage) CommitStep(ctx context.Context, commit *interfaces.StepCommit) error {
	if commit == nil || commit.Job == nil {
		return common.E(common.KindValidation, "step commit requires a job")
	}

	resumeData, err := models.EncodeResumeData(commit.Job.ResumeData)
	if err != nil {
		return common.WrapErr(common.KindInternal, err, "failed to encode resume data")
	}

	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return mapError(err, "job not found")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateJobSQL+` AND status = 'running'`,
		updateJobArgs(commit.Job, resumeData)...)
	if err != nil {
		return mapError(err, "job not found")
	}
	if tag.RowsAffected() == 0 {
		return common.E(common.KindConflict, "job is no longer running")
	}

	if commit.ProjectStatus != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE projects SET status = $2 WHERE id = $1`,
			commit.Job.ProjectID, commit.ProjectStatus); err != nil {
			return mapError(err, "project not found")
		}
	}

	batch := &pgx.Batch{}
	for _, d := range commit.Documents {
		batch.Queue(
			`INSERT INTO documents (id, project_id, document_type, fiscal_year, label, file_url, original_url, page_count, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			d.ID, d.ProjectID, d.DocumentType, d.FiscalYear, d.Label, d.FileURL, d.OriginalURL, d.PageCount, d.CreatedAt)
	}
	for _, p := range commit.Pages {
		batch.Queue(
			`INSERT INTO document_pages (id, document_id, page_number, page_text)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (document_id, page_number) DO UPDATE SET page_text = EXCLUDED.page_text`,
			p.ID, p.DocumentID, p.PageNumber, p.PageText)
	}
	for _, e := range commit.Extractions {
		batch.Queue(
			`INSERT INTO extraction_results (id, document_id, extracted_data, extraction_metadata, company_name, fiscal_year, revenue, net_profit, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.DocumentID, e.Data, e.Metadata, e.CompanyName, e.FiscalYear, e.Revenue, e.NetProfit, e.CreatedAt)
	}
	for _, c := range commit.Chunks {
		batch.Queue(
			`INSERT INTO text_chunks (id, page_id, chunk_index, content, field)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (page_id, chunk_index) DO UPDATE SET content = EXCLUDED.content, field = EXCLUDED.field`,
			c.ID, c.PageID, c.ChunkIndex, c.Content, c.Field)
	}
	for _, em := range commit.Embeddings {
		batch.Queue(
			`INSERT INTO embeddings (id, chunk_id, embedding)
			 VALUES ($1, $2, $3::vector)
			 ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
			em.ID, em.ChunkID, vectorLiteral(em.Vector))
	}
	if commit.Snapshot != nil {
		batch.Queue(
			`INSERT INTO company_snapshots (id, project_id, snapshot_data, version, generated_at)
			 SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, now()
			 FROM company_snapshots WHERE project_id = $2`,
			common.NewID(), commit.Job.ProjectID, commit.Snapshot)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return mapError(err, "job not found")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "job not found")
	}

	s.logger.Debug().
		Str("job_id", commit.Job.ID).
		Str("step", string(commit.Job.CurrentStep)).
		Int("documents", len(commit.Documents)).
		Int("pages", len(commit.Pages)).
		Int("chunks", len(commit.Chunks)).
		Int("embeddings", len(commit.Embeddings)).
		Msg("Step committed")
	return nil
}

const updateJobSQL = `UPDATE jobs SET
	status = $2, current_step = $3, current_step_index = $4,
	last_successful_step = $5, failed_step = $6, error_message = $7,
	can_resume = $8, resume_data = $9, documents_processed = $10,
	embeddings_created = $11, retry_count = $12, updated_at = $13,
	completed_at = $14, cancelled_at = $15
	WHERE id = $1`

func updateJobArgs(job *models.Job, resumeData []byte) []any {
	return []any{
		job.ID, job.Status, job.CurrentStep, job.CurrentStepIndex,
		job.LastSuccessfulStep, job.FailedStep, job.ErrorMessage,
		job.CanResume, resumeData, job.DocumentsProcessed,
		job.EmbeddingsCreated, job.RetryCount, job.UpdatedAt,
		job.CompletedAt, job.CancelledAt,
	}
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func scanJob(row pgx.Row) (*models.Job, error) {
	j := &models.Job{}
	var resumeData []byte
	err := row.Scan(&j.ID, &j.Ref, &j.ProjectID, &j.Status, &j.CurrentStep, &j.CurrentStepIndex,
		&j.TotalSteps, &j.LastSuccessfulStep, &j.FailedStep, &j.ErrorMessage, &j.CanResume, &resumeData,
		&j.DocumentsProcessed, &j.EmbeddingsCreated, &j.RetryCount, &j.MaxRetries,
		&j.StartedAt, &j.UpdatedAt, &j.CompletedAt, &j.CancelledAt)
	if err != nil {
		return nil, mapError(err, "job not found")
	}

	rd, err := models.DecodeResumeData(resumeData)
	if err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "failed to decode resume data")
	}
	j.ResumeData = rd
	return j, nil
}
