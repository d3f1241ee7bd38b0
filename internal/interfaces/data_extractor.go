// -----------------------------------------------------------------------
// Data Extractor Interface - structured financial data from page text
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// DataExtractor produces structured financial data for one document from
// its extracted page text.
type DataExtractor interface {
	// Extract assembles a bounded prompt over the document's pages and
	// decodes the model's JSON answer. companyName fills in fields the
	// report itself does not state.
	Extract(ctx context.Context, companyName string, doc *models.Document, pages []*models.DocumentPage) (*models.ExtractedData, error)
}
