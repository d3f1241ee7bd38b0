// -----------------------------------------------------------------------
// Resume payload - intermediate pipeline outputs carried across steps
// -----------------------------------------------------------------------

package models

import (
	"encoding/base64"
	"encoding/json"
)

// ResumeData is the typed payload persisted on the job row after every step.
// Each step reads the outputs of its predecessors from here and writes its
// own before the step commit, so a resumed job picks up mid-pipeline without
// re-doing finished work.
//
// Buffers key by report (documents don't exist until upload_to_cloud);
// UploadedDocs carries the report->document mapping forward from there.
type ResumeData struct {
	ScrapeResults     []ScrapedReport              `json:"scrape_results,omitempty"`
	PDFBuffers        map[string]string            `json:"pdf_buffers,omitempty"` // report key -> base64 PDF bytes
	PDFInfo           *PDFInfo                     `json:"pdf_info,omitempty"`
	UploadedDocs      map[string]UploadedDoc       `json:"uploaded_docs,omitempty"`      // report key -> stored document
	ExtractionResults map[string]ExtractionPayload `json:"extraction_results,omitempty"` // document id -> extraction
}

// PDFInfo is the scrape/download bookkeeping shown in job detail responses.
type PDFInfo struct {
	CompanyName string `json:"company_name"`
	Exchange    string `json:"exchange"`
	ReportCount int    `json:"report_count"`
	Downloaded  int    `json:"downloaded"`
}

// UploadedDoc links a scraped report to the document row created for it.
type UploadedDoc struct {
	DocumentID string `json:"document_id"`
	FileURL    string `json:"file_url"`
}

// ExtractionPayload is one document's structured extraction carried in the
// payload so create_embeddings and generate_snapshot can run without
// re-calling the model.
type ExtractionPayload struct {
	Data     *ExtractedData    `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SetPDFBuffer stores raw PDF bytes under a report key, base64-encoded for
// the jsonb column.
func (r *ResumeData) SetPDFBuffer(key string, raw []byte) {
	if r.PDFBuffers == nil {
		r.PDFBuffers = make(map[string]string)
	}
	r.PDFBuffers[key] = base64.StdEncoding.EncodeToString(raw)
}

// PDFBuffer returns the decoded PDF bytes for a report key. ok is false when
// the key is absent or the stored value is not valid base64.
func (r *ResumeData) PDFBuffer(key string) ([]byte, bool) {
	if r == nil || r.PDFBuffers == nil {
		return nil, false
	}
	enc, found := r.PDFBuffers[key]
	if !found {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// DropPDFBuffers releases the buffered PDF content once every document's page
// text is durable (extract_text is the last consumer). The payload otherwise
// carries the full PDFs through every later step commit.
func (r *ResumeData) DropPDFBuffers() {
	r.PDFBuffers = nil
}

// UploadedDocFor returns the stored document for a report key, if any.
func (r *ResumeData) UploadedDocFor(key string) (UploadedDoc, bool) {
	if r == nil || r.UploadedDocs == nil {
		return UploadedDoc{}, false
	}
	doc, ok := r.UploadedDocs[key]
	return doc, ok
}

// SetUploadedDoc records the document created for a report key.
func (r *ResumeData) SetUploadedDoc(key string, doc UploadedDoc) {
	if r.UploadedDocs == nil {
		r.UploadedDocs = make(map[string]UploadedDoc)
	}
	r.UploadedDocs[key] = doc
}

// ExtractionFor returns the stored extraction for a document id, if any.
func (r *ResumeData) ExtractionFor(documentID string) (ExtractionPayload, bool) {
	if r == nil || r.ExtractionResults == nil {
		return ExtractionPayload{}, false
	}
	p, ok := r.ExtractionResults[documentID]
	return p, ok
}

// SetExtraction records a document's extraction output.
func (r *ResumeData) SetExtraction(documentID string, p ExtractionPayload) {
	if r.ExtractionResults == nil {
		r.ExtractionResults = make(map[string]ExtractionPayload)
	}
	r.ExtractionResults[documentID] = p
}

// EncodeResumeData serializes the payload for the jsonb column. A nil payload
// encodes as an empty object so the column stays non-null.
func EncodeResumeData(r *ResumeData) ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

// DecodeResumeData parses a jsonb payload. Empty and NULL both decode to a
// fresh payload rather than an error: jobs created before a payload field
// existed must still resume.
func DecodeResumeData(raw []byte) (*ResumeData, error) {
	r := &ResumeData{}
	if len(raw) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, err
	}
	return r, nil
}
