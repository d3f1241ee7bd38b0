// -----------------------------------------------------------------------
// Pipeline Steps - the eight ordered stages of project ingestion
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// stepFunc executes one pipeline stage. Multi-document stages persist each
// finished document through commitSubStep as they go; whatever a stage
// leaves on run.commit rides the step-completion commit.
type stepFunc func(ctx context.Context, run *jobRun) error

// jobRun carries one run's working state through the step table.
type jobRun struct {
	job     *models.Job
	project *models.Project
	source  *common.SourcePage
	commit  *interfaces.StepCommit
}

func (s *Service) stepTable() [models.TotalSteps]stepFunc {
	return [models.TotalSteps]stepFunc{
		s.stepValidateURL,
		s.stepScrapePage,
		s.stepDownloadPDFs,
		s.stepUploadToCloud,
		s.stepExtractText,
		s.stepExtractData,
		s.stepCreateEmbeddings,
		s.stepGenerateSnapshot,
	}
}

// stepValidateURL checks the source URL shape and host policy. Any failure
// here is fatal: the URL is wrong and no retry will fix it.
func (s *Service) stepValidateURL(ctx context.Context, run *jobRun) error {
	source, err := common.ParseSourceURL(run.project.SourceURL)
	if err != nil {
		return err
	}
	if !s.config.AllowTestURLs() && isTestHost(source.URL) {
		return common.Ef(common.KindValidation, "test URLs are not accepted in %s", s.config.Environment)
	}
	run.source = source
	s.publishProgress(run, fmt.Sprintf("Validated filings URL for %s", source.CompanyName))
	return nil
}

// stepScrapePage renders the filings page and collects annual report links.
// The results ride the step-completion commit so a crash before it leaves
// nothing behind.
func (s *Service) stepScrapePage(ctx context.Context, run *jobRun) error {
	payload := run.job.ResumeData
	if len(payload.ScrapeResults) > 0 {
		s.publishProgress(run, fmt.Sprintf("%d report(s) already scraped, skipping", len(payload.ScrapeResults)))
		return nil
	}

	s.publishProgress(run, "Connecting to the filings page")
	reports, err := s.scraper.ScrapeAnnualReports(ctx, run.source.URL)
	if err != nil {
		return err
	}
	s.publishProgress(run, fmt.Sprintf("Found %d annual report(s)", len(reports)))

	payload.ScrapeResults = reports
	payload.PDFInfo = &models.PDFInfo{
		CompanyName: run.source.CompanyName,
		Exchange:    run.source.Exchange,
		ReportCount: len(reports),
	}
	return nil
}

// stepDownloadPDFs fetches each report PDF into the resume payload, one
// commit per report so finished downloads survive a failure.
func (s *Service) stepDownloadPDFs(ctx context.Context, run *jobRun) error {
	payload := run.job.ResumeData
	reports := payload.ScrapeResults
	if len(reports) == 0 {
		return common.E(common.KindInternal, "no scraped reports in the resume payload")
	}

	for i, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := payload.PDFBuffer(report.Key); ok {
			s.publishProgress(run, fmt.Sprintf("Already downloaded %s (%d/%d)", report.Label, i+1, len(reports)))
			continue
		}

		raw, err := s.downloader.DownloadPDF(ctx, report.PDFURL)
		if err != nil {
			return fmt.Errorf("download %s: %w", report.Label, err)
		}
		payload.SetPDFBuffer(report.Key, raw)
		if payload.PDFInfo != nil {
			payload.PDFInfo.Downloaded++
		}

		if err := s.commitSubStep(ctx, run, &interfaces.StepCommit{}); err != nil {
			return err
		}
		s.publishProgress(run, fmt.Sprintf("Downloaded %s (%d/%d)", report.Label, i+1, len(reports)))
	}
	return nil
}

// stepUploadToCloud pushes each buffered PDF to blob storage and creates its
// document row. The row and the payload entry commit together per report.
func (s *Service) stepUploadToCloud(ctx context.Context, run *jobRun) error {
	payload := run.job.ResumeData
	reports := payload.ScrapeResults
	total := len(reports)

	for i, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		if uploaded, ok := payload.UploadedDocFor(report.Key); ok {
			s.logger.Debug().
				Str("job_id", run.job.ID).
				Str("document_id", uploaded.DocumentID).
				Msg("Report already uploaded, skipping")
			continue
		}
		raw, ok := payload.PDFBuffer(report.Key)
		if !ok {
			return common.Ef(common.KindInternal, "pdf buffer missing for %s", report.Label)
		}

		fileURL, err := s.blobs.UploadPDF(ctx, run.source.CompanySlug, report.FiscalYear, report.PDFURL, raw)
		if err != nil {
			return fmt.Errorf("upload %s: %w", report.Label, err)
		}

		pageCount, err := s.pdf.PageCount(ctx, raw)
		if err != nil {
			s.logger.Warn().
				Str("job_id", run.job.ID).
				Str("label", report.Label).
				Err(err).
				Msg("Page count failed, storing document without it")
			pageCount = 0
		}

		document := &models.Document{
			ID:           common.NewID(),
			ProjectID:    run.project.ID,
			DocumentType: report.DocumentType,
			FiscalYear:   report.FiscalYear,
			Label:        report.Label,
			FileURL:      fileURL,
			OriginalURL:  report.PDFURL,
			PageCount:    pageCount,
			CreatedAt:    time.Now().UTC(),
		}
		payload.SetUploadedDoc(report.Key, models.UploadedDoc{DocumentID: document.ID, FileURL: fileURL})

		if err := s.commitSubStep(ctx, run, &interfaces.StepCommit{Documents: []*models.Document{document}}); err != nil {
			return err
		}
		s.publishProgress(run, fmt.Sprintf("Uploaded %s (%d/%d)", report.Label, i+1, total))
	}
	return nil
}

// stepExtractText pulls per-page text out of each buffered PDF. A document
// whose pages already exist is skipped, which keeps replays idempotent. The
// PDF buffers are released with the step-completion commit, once every
// document's pages are durable.
func (s *Service) stepExtractText(ctx context.Context, run *jobRun) error {
	payload := run.job.ResumeData
	reports := payload.ScrapeResults
	total := len(reports)

	for i, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		uploaded, ok := payload.UploadedDocFor(report.Key)
		if !ok {
			return common.Ef(common.KindInternal, "no uploaded document recorded for %s", report.Label)
		}
		count, err := s.store.Documents().CountPages(ctx, uploaded.DocumentID)
		if err != nil {
			return err
		}
		if count > 0 {
			s.publishProgress(run, fmt.Sprintf("Page text already extracted for %s (%d/%d)", report.Label, i+1, total))
			continue
		}
		raw, ok := payload.PDFBuffer(report.Key)
		if !ok {
			return common.Ef(common.KindInternal, "pdf buffer missing for %s", report.Label)
		}

		contents, err := s.pdf.ExtractPages(ctx, raw)
		if err != nil {
			return fmt.Errorf("extract pages from %s: %w", report.Label, err)
		}
		pages := make([]*models.DocumentPage, 0, len(contents))
		for _, content := range contents {
			pages = append(pages, &models.DocumentPage{
				ID:         common.NewID(),
				DocumentID: uploaded.DocumentID,
				PageNumber: content.PageNumber,
				PageText:   content.Text,
			})
		}

		if err := s.commitSubStep(ctx, run, &interfaces.StepCommit{Pages: pages}); err != nil {
			return err
		}
		s.publishProgress(run, fmt.Sprintf("Extracted %d page(s) from %s (%d/%d)", len(pages), report.Label, i+1, total))
	}

	payload.DropPDFBuffers()
	return nil
}

// stepExtractData runs the language-model extraction over each document's
// pages. Results land in an extraction row and the resume payload, one
// commit per document.
func (s *Service) stepExtractData(ctx context.Context, run *jobRun) error {
	payload := run.job.ResumeData
	reports := payload.ScrapeResults
	total := len(reports)

	for i, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		uploaded, ok := payload.UploadedDocFor(report.Key)
		if !ok {
			return common.Ef(common.KindInternal, "no uploaded document recorded for %s", report.Label)
		}
		if _, ok := payload.ExtractionFor(uploaded.DocumentID); ok {
			s.publishProgress(run, fmt.Sprintf("Data already extracted for %s (%d/%d)", report.Label, i+1, total))
			continue
		}

		document, err := s.store.Documents().GetDocument(ctx, uploaded.DocumentID)
		if err != nil {
			return err
		}
		pages, err := s.store.Documents().ListPages(ctx, uploaded.DocumentID)
		if err != nil {
			return err
		}

		s.publishProgress(run, fmt.Sprintf("Extracting financial data from %s, this can take a minute (%d/%d)", report.Label, i+1, total))
		data, err := s.extractor.Extract(ctx, run.source.CompanyName, document, pages)
		if err != nil {
			return fmt.Errorf("extract data from %s: %w", report.Label, err)
		}

		metadata := map[string]string{
			"provider": "anthropic",
			"model":    s.config.Claude.Model,
		}
		extraction := &models.ExtractionResult{
			ID:          common.NewID(),
			DocumentID:  uploaded.DocumentID,
			Data:        data,
			Metadata:    metadata,
			CompanyName: data.CompanyName,
			FiscalYear:  data.FiscalYear,
			Revenue:     data.Revenue,
			NetProfit:   data.NetProfit,
			CreatedAt:   time.Now().UTC(),
		}
		payload.SetExtraction(uploaded.DocumentID, models.ExtractionPayload{Data: data, Metadata: metadata})

		if err := s.commitSubStep(ctx, run, &interfaces.StepCommit{Extractions: []*models.ExtractionResult{extraction}}); err != nil {
			return err
		}
		s.publishProgress(run, fmt.Sprintf("Extracted data from %s (%d/%d)", report.Label, i+1, total))
	}
	return nil
}

// stepCreateEmbeddings chunks each document's pages and extraction summary
// and embeds them. A document with chunks already stored is skipped; the
// chunks, vectors and job counters commit together per document.
func (s *Service) stepCreateEmbeddings(ctx context.Context, run *jobRun) error {
	payload := run.job.ResumeData
	reports := payload.ScrapeResults
	total := len(reports)

	for i, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		uploaded, ok := payload.UploadedDocFor(report.Key)
		if !ok {
			return common.Ef(common.KindInternal, "no uploaded document recorded for %s", report.Label)
		}
		existing, err := s.store.Documents().CountChunks(ctx, uploaded.DocumentID)
		if err != nil {
			return err
		}
		if existing > 0 {
			s.publishProgress(run, fmt.Sprintf("Embeddings already created for %s (%d/%d)", report.Label, i+1, total))
			continue
		}

		pages, err := s.store.Documents().ListPages(ctx, uploaded.DocumentID)
		if err != nil {
			return err
		}
		var extracted *models.ExtractedData
		if extraction, ok := payload.ExtractionFor(uploaded.DocumentID); ok {
			extracted = extraction.Data
		}

		label := report.Label
		chunks, vectors, err := s.embedder.BuildDocumentEmbeddings(ctx, pages, extracted, func(done, totalChunks int) error {
			s.publishProgress(run, fmt.Sprintf("Embedded %d/%d chunks for %s", done, totalChunks, label))
			return ctx.Err()
		})
		if err != nil {
			return fmt.Errorf("embed %s: %w", report.Label, err)
		}
		if len(chunks) == 0 {
			// Nothing indexable, typically a scanned PDF without a text
			// layer. The document stays queryable through its snapshot data.
			s.logger.Warn().
				Str("job_id", run.job.ID).
				Str("document_id", uploaded.DocumentID).
				Str("label", report.Label).
				Msg("Document produced no chunks")
			continue
		}

		run.job.DocumentsProcessed++
		run.job.EmbeddingsCreated += len(vectors)
		if err := s.commitSubStep(ctx, run, &interfaces.StepCommit{Chunks: chunks, Embeddings: vectors}); err != nil {
			return err
		}
		s.publishProgress(run, fmt.Sprintf("Saved %d embeddings for %s (%d/%d)", len(vectors), report.Label, i+1, total))
	}
	return nil
}

// stepGenerateSnapshot aggregates the run's extraction results into a new
// snapshot version. The snapshot row rides the final commit together with
// the job and project completion states.
func (s *Service) stepGenerateSnapshot(ctx context.Context, run *jobRun) error {
	if s.config.Pipeline.SnapshotSkipIfPresent {
		snap, err := s.store.Snapshots().GetLatestSnapshot(ctx, run.project.ID)
		if err == nil {
			s.publishProgress(run, fmt.Sprintf("Snapshot v%d already present, skipping regeneration", snap.Version))
			return nil
		}
		if !common.IsKind(err, common.KindNotFound) {
			return err
		}
	}

	payload := run.job.ResumeData
	extractions := make([]*models.ExtractionResult, 0, len(payload.ExtractionResults))
	for documentID, entry := range payload.ExtractionResults {
		extractions = append(extractions, &models.ExtractionResult{
			DocumentID: documentID,
			Data:       entry.Data,
			Metadata:   entry.Metadata,
		})
	}
	documents, err := s.store.Documents().ListDocuments(ctx, run.project.ID)
	if err != nil {
		return err
	}

	s.publishProgress(run, "Aggregating extraction results into the company snapshot")
	run.commit.Snapshot = s.snapshots.Build(run.project, extractions, documents)
	return nil
}

// stepTitle renders a step name for human-facing messages.
func stepTitle(step models.Step) string {
	switch step {
	case models.StepValidateURL:
		return "Validate URL"
	case models.StepScrapePage:
		return "Scrape Page"
	case models.StepDownloadPDFs:
		return "Download PDFs"
	case models.StepUploadToCloud:
		return "Upload to Cloud"
	case models.StepExtractText:
		return "Extract Text"
	case models.StepExtractData:
		return "Extract Data"
	case models.StepCreateEmbeddings:
		return "Create Embeddings"
	case models.StepGenerateSnapshot:
		return "Generate Snapshot"
	default:
		return string(step)
	}
}

// isTestHost reports whether the URL points at a loopback host. Production
// rejects these; development keeps them for fixture servers.
func isTestHost(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" || host == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}
