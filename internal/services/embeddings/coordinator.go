// -----------------------------------------------------------------------
// Embedding Coordinator - chunks a document and embeds every chunk
// -----------------------------------------------------------------------

package embeddings

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// embedBatchSize caps texts per provider request. Well under the provider's
// ceiling; keeps request bodies small enough that one quota backoff does not
// stall the whole document.
const embedBatchSize = 64

// BatchProgress is invoked after each embedded batch. Returning an error
// aborts the remaining batches; the coordinator passes it through unchanged,
// which is how the executor's cancellation check reaches into the loop.
type BatchProgress func(done, total int) error

// Coordinator turns a document's pages and extraction output into the chunk
// and embedding rows of one step commit. It never writes storage itself; the
// caller owns the transaction.
type Coordinator struct {
	chunker  *Chunker
	embedder interfaces.Embedder
	logger   arbor.ILogger
}

// NewCoordinator creates an embedding coordinator.
func NewCoordinator(chunker *Chunker, embedder interfaces.Embedder, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		chunker:  chunker,
		embedder: embedder,
		logger:   logger,
	}
}

// BuildDocumentEmbeddings chunks every page, appends extraction-field chunks
// to the first page's sequence, and embeds the lot in batches. Both slices
// come back aligned: embeddings[i] belongs to chunks[i].
func (c *Coordinator) BuildDocumentEmbeddings(ctx context.Context, pages []*models.DocumentPage, extraction *models.ExtractedData, onBatch BatchProgress) ([]*models.TextChunk, []*models.Embedding, error) {
	chunks := make([]*models.TextChunk, 0, len(pages))
	var firstPageID string
	firstPageCount := 0

	for _, page := range pages {
		pageChunks, err := c.chunker.SplitPage(page)
		if err != nil {
			return nil, nil, err
		}
		if firstPageID == "" {
			firstPageID = page.ID
			firstPageCount = len(pageChunks)
		}
		chunks = append(chunks, pageChunks...)
	}

	// Field chunks ride on the first page so they satisfy the page FK; their
	// indexes continue that page's sequence.
	if extraction != nil && firstPageID != "" {
		chunks = append(chunks, c.chunker.FieldChunks(firstPageID, firstPageCount, extraction)...)
	}

	if len(chunks) == 0 {
		return nil, nil, nil
	}

	embeddings := make([]*models.Embedding, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Content)
		}

		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
		if len(vectors) != len(texts) {
			return nil, nil, common.Ef(common.KindInternal,
				"embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}

		for i, vector := range vectors {
			embeddings = append(embeddings, &models.Embedding{
				ID:      common.NewID(),
				ChunkID: chunks[start+i].ID,
				Vector:  vector,
			})
		}

		if onBatch != nil {
			if err := onBatch(end, len(chunks)); err != nil {
				return nil, nil, err
			}
		}
	}

	c.logger.Debug().
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Int("embeddings", len(embeddings)).
		Msg("Document embeddings built")

	return chunks, embeddings, nil
}
