package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Scraper finds qualifying annual-report rows on a registrar filings page.
// The page is JS-rendered, so implementations drive a headless browser and
// parse the rendered DOM. A page with no qualifying rows is an error (the
// caller classifies it fatal).
type Scraper interface {
	ScrapeAnnualReports(ctx context.Context, pageURL string) ([]models.ScrapedReport, error)
}

// Downloader fetches one PDF by URL, enforcing the minimum-size check.
type Downloader interface {
	DownloadPDF(ctx context.Context, url string) ([]byte, error)
}
