package models

// EmbeddingDim is the vector dimension of the embedding model and the
// `vector(N)` column width. It is a build-time constant: changing it requires
// a migration and re-embedding every chunk, so it is deliberately not
// configuration.
const EmbeddingDim = 3072

// TextChunk is one embeddable slice of a document page. Field is empty for
// plain page-text chunks and names the extraction field ("risk_factors",
// "outlook", ...) for chunks derived from structured extraction output.
type TextChunk struct {
	ID         string `json:"id"`
	PageID     string `json:"page_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Field      string `json:"field,omitempty"`
}

// Embedding pairs a chunk with its vector. One embedding per chunk.
type Embedding struct {
	ID      string    `json:"id"`
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"-"`
}

// ScoredChunk is a KNN result row: the chunk plus the document context the
// prompt builder needs, ordered by ascending cosine distance.
type ScoredChunk struct {
	ChunkID      string  `json:"chunk_id"`
	Content      string  `json:"content"`
	Field        string  `json:"field,omitempty"`
	PageNumber   int     `json:"page_number"`
	DocumentID   string  `json:"document_id"`
	DocumentType string  `json:"document_type"`
	FiscalYear   string  `json:"fiscal_year,omitempty"`
	CompanyName  string  `json:"company_name"`
	ProjectID    string  `json:"project_id"`
	Distance     float64 `json:"distance"`
}
