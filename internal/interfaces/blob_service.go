package interfaces

import "context"

// BlobStore persists filing PDFs in object storage and hands back a public
// URL for each object.
type BlobStore interface {
	// UploadPDF stores raw PDF bytes under a deterministic key derived from
	// the company slug, fiscal year and source URL, and returns the public
	// URL of the stored object.
	UploadPDF(ctx context.Context, companySlug, fiscalYear, sourceURL string, raw []byte) (string, error)

	// HealthCheck verifies the bucket is reachable.
	HealthCheck(ctx context.Context) error
}
