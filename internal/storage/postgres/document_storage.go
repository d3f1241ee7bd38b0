package postgres

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// DocumentStorage implements the DocumentStorage interface for Postgres
type DocumentStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *PostgresDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{db: db, logger: logger}
}

func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT id, project_id, document_type, fiscal_year, label, file_url, original_url, page_count, created_at
		 FROM documents WHERE id = $1`, id)

	d := &models.Document{}
	err := row.Scan(&d.ID, &d.ProjectID, &d.DocumentType, &d.FiscalYear, &d.Label,
		&d.FileURL, &d.OriginalURL, &d.PageCount, &d.CreatedAt)
	if err != nil {
		return nil, mapError(err, "document not found")
	}
	return d, nil
}

func (s *DocumentStorage) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, project_id, document_type, fiscal_year, label, file_url, original_url, page_count, created_at
		 FROM documents WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, mapError(err, "document not found")
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		d := &models.Document{}
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DocumentType, &d.FiscalYear, &d.Label,
			&d.FileURL, &d.OriginalURL, &d.PageCount, &d.CreatedAt); err != nil {
			return nil, mapError(err, "document not found")
		}
		docs = append(docs, d)
	}
	return docs, mapError(rows.Err(), "document not found")
}

func (s *DocumentStorage) ListPages(ctx context.Context, documentID string) ([]*models.DocumentPage, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, document_id, page_number, page_text
		 FROM document_pages WHERE document_id = $1 ORDER BY page_number`, documentID)
	if err != nil {
		return nil, mapError(err, "document page not found")
	}
	defer rows.Close()

	pages := make([]*models.DocumentPage, 0)
	for rows.Next() {
		p := &models.DocumentPage{}
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.PageText); err != nil {
			return nil, mapError(err, "document page not found")
		}
		pages = append(pages, p)
	}
	return pages, mapError(rows.Err(), "document page not found")
}

func (s *DocumentStorage) CountPages(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_pages WHERE document_id = $1`, documentID).Scan(&count)
	return count, mapError(err, "document not found")
}

func (s *DocumentStorage) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM text_chunks tc
		 JOIN document_pages dp ON dp.id = tc.page_id
		 WHERE dp.document_id = $1`, documentID).Scan(&count)
	return count, mapError(err, "document not found")
}

func (s *DocumentStorage) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM embeddings e
		 JOIN text_chunks tc ON tc.id = e.chunk_id
		 JOIN document_pages dp ON dp.id = tc.page_id
		 WHERE dp.document_id = $1`, documentID).Scan(&count)
	return count, mapError(err, "document not found")
}

func (s *DocumentStorage) ListExtractions(ctx context.Context, projectID string) ([]*models.ExtractionResult, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT er.id, er.document_id, er.extracted_data, er.extraction_metadata,
		        er.company_name, er.fiscal_year, er.revenue, er.net_profit, er.created_at
		 FROM extraction_results er
		 JOIN documents d ON d.id = er.document_id
		 WHERE d.project_id = $1
		 ORDER BY er.fiscal_year DESC, er.created_at DESC`, projectID)
	if err != nil {
		return nil, mapError(err, "extraction result not found")
	}
	defer rows.Close()

	results := make([]*models.ExtractionResult, 0)
	for rows.Next() {
		r := &models.ExtractionResult{}
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Data, &r.Metadata,
			&r.CompanyName, &r.FiscalYear, &r.Revenue, &r.NetProfit, &r.CreatedAt); err != nil {
			return nil, mapError(err, "extraction result not found")
		}
		results = append(results, r)
	}
	return results, mapError(rows.Err(), "extraction result not found")
}

// KNN joins chunk -> page -> document -> project so the prompt builder gets
// document context with each hit. Cosine distance; chunk_id breaks ties so
// the order is total. The halfvec cast must match the index expression or
// the planner falls back to a sequential scan.
func (s *DocumentStorage) KNN(ctx context.Context, vector []float32, projectIDs []string, k int) ([]*models.ScoredChunk, error) {
	if len(projectIDs) == 0 {
		return nil, common.E(common.KindValidation, "at least one project must be selected")
	}
	if err := checkDimension(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.pool.Query(ctx,
		`SELECT tc.id, tc.content, tc.field, dp.page_number,
		        d.id, d.document_type, d.fiscal_year,
		        p.company_name, p.id,
		        e.embedding::halfvec(3072) <=> $1::halfvec(3072) AS distance
		 FROM embeddings e
		 JOIN text_chunks tc ON tc.id = e.chunk_id
		 JOIN document_pages dp ON dp.id = tc.page_id
		 JOIN documents d ON d.id = dp.document_id
		 JOIN projects p ON p.id = d.project_id
		 WHERE p.id = ANY($2)
		 ORDER BY e.embedding::halfvec(3072) <=> $1::halfvec(3072), tc.id
		 LIMIT $3`,
		vectorLiteral(vector), projectIDs, k)
	if err != nil {
		return nil, mapError(err, "chunk not found")
	}
	defer rows.Close()

	chunks := make([]*models.ScoredChunk, 0, k)
	for rows.Next() {
		c := &models.ScoredChunk{}
		if err := rows.Scan(&c.ChunkID, &c.Content, &c.Field, &c.PageNumber,
			&c.DocumentID, &c.DocumentType, &c.FiscalYear,
			&c.CompanyName, &c.ProjectID, &c.Distance); err != nil {
			return nil, mapError(err, "chunk not found")
		}
		chunks = append(chunks, c)
	}
	return chunks, mapError(rows.Err(), "chunk not found")
}
