package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"golang.org/x/time/rate"
)

// minPDFSize rejects error pages and truncated responses masquerading as
// PDFs.
const minPDFSize = 1024

// Downloader fetches report PDFs from the registrar, pacing requests so the
// source site never sees a burst.
type Downloader struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    arbor.ILogger
}

// NewDownloader creates a rate-limited PDF downloader. perSecond bounds the
// request rate against the source site.
func NewDownloader(config *common.Config, logger arbor.ILogger) interfaces.Downloader {
	perSecond := config.Pipeline.DownloadPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Downloader{
		client:    &http.Client{Timeout: config.Pipeline.DownloadDeadline()},
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		userAgent: config.Scraper.UserAgent,
		logger:    logger,
	}
}

func (d *Downloader) DownloadPDF(ctx context.Context, url string) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, common.WrapErr(common.KindCancelled, err, "download cancelled")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.WrapErr(common.KindValidation, err, "invalid PDF URL")
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, common.WrapErr(common.KindCancelled, err, "download cancelled")
		}
		return nil, common.WrapErr(common.KindUnavailable, err, "failed to download PDF")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, common.Ef(common.KindUnavailable, "PDF download returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, common.WrapErr(common.KindCancelled, err, "download cancelled")
		}
		return nil, common.WrapErr(common.KindUnavailable, err, "failed to read PDF body")
	}

	if len(raw) < minPDFSize {
		return nil, common.Ef(common.KindValidation, "downloaded file is too small to be a report PDF (%d bytes)", len(raw))
	}

	d.logger.Debug().
		Str("url", url).
		Str("size", fmt.Sprintf("%.2f MB", float64(len(raw))/1024/1024)).
		Msg("PDF downloaded")
	return raw, nil
}
