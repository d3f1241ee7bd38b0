package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	// How long to wait for the script-rendered report table before falling
	// back to a fixed settle delay.
	linkWaitTimeout = 20 * time.Second
	settleDelay     = 8 * time.Second
)

// Service fetches the registrar filings page with a headless browser and
// extracts qualifying annual-report rows from the rendered DOM.
type Service struct {
	config *common.ScraperConfig
	logger arbor.ILogger
}

// NewService creates a new scraper service
func NewService(config *common.ScraperConfig, logger arbor.ILogger) interfaces.Scraper {
	return &Service{config: config, logger: logger}
}

func (s *Service) ScrapeAnnualReports(ctx context.Context, pageURL string) ([]models.ScrapedReport, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.config.UserAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, s.config.ScrapeDeadline())
	defer cancelRun()

	s.logger.Debug().Str("url", pageURL).Msg("Navigating to filings page")
	// The registrar serves region-gated content; a bare headless profile with
	// no language header gets an interstitial instead of the filings table.
	if err := chromedp.Run(runCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(pageURL),
	); err != nil {
		return nil, scrapeErr(err, "failed to load filings page")
	}

	// The reports table is script-rendered; wait for PDF anchors, then give
	// slow pages one settle delay before reading whatever is there.
	waitCtx, cancelWait := context.WithTimeout(runCtx, linkWaitTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(`a[href*=".pdf"]`, chromedp.ByQuery))
	cancelWait()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, scrapeErr(err, "filings page did not render in time")
		}
		s.logger.Warn().Str("url", pageURL).Msg("PDF links not visible yet, settling before extraction")
		if err := chromedp.Run(runCtx, chromedp.Sleep(settleDelay)); err != nil {
			return nil, scrapeErr(err, "filings page did not render in time")
		}
	}

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, scrapeErr(err, "failed to read rendered filings page")
	}

	reports, err := ParseAnnualReports(html, pageURL)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, common.E(common.KindValidation, "no annual report PDFs found on the filings page")
	}

	s.logger.Info().
		Str("url", pageURL).
		Int("reports", len(reports)).
		Msg("Filings page scraped")
	return reports, nil
}

// scrapeErr keeps caller cancellation distinguishable from source-site
// trouble.
func scrapeErr(err error, msg string) error {
	if errors.Is(err, context.Canceled) {
		return common.WrapErr(common.KindCancelled, err, "scrape cancelled")
	}
	return common.WrapErr(common.KindUnavailable, err, msg)
}
