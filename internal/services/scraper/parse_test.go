package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/models"
)

const filingsPage = `<html><body>
<table>
<tr><td>2024-25</td><td><a href="https://www.bseindia.com/bseplus/AnnualReport/500325/RIL_2025.pdf">Download</a></td></tr>
<tr><td>2023-24</td><td><a href="/xml-data/AttachHis/RIL_2024.pdf">Download</a></td></tr>
<tr><td>2023-24 (Revised)</td><td><a href="/xml-data/AttachHis/RIL_2024_rev.pdf">Download</a></td></tr>
<tr><td>Notice</td><td><a href="/other/notice_2024.pdf">Download</a></td></tr>
</table>
</body></html>`

func TestParseAnnualReports(t *testing.T) {
	reports, err := ParseAnnualReports(filingsPage, "https://www.bseindia.com/stock-share-price/x/500325/page/")
	require.NoError(t, err)
	require.Len(t, reports, 3) // the notice link has no AttachHis/AnnualReport marker

	// Latest year first; the row's first year token names the fiscal year,
	// so "2024-25" is FY2024.
	assert.Equal(t, 2024, reports[0].Year)
	assert.Equal(t, "FY2024", reports[0].FiscalYear)
	assert.Equal(t, "2024-25", reports[0].Label)
	assert.Equal(t, "https://www.bseindia.com/bseplus/AnnualReport/500325/RIL_2025.pdf", reports[0].PDFURL)
	assert.Equal(t, models.DocumentTypeAnnualReport, reports[0].DocumentType)
	assert.Equal(t, models.ReportKey(reports[0].PDFURL), reports[0].Key)

	// Relative hrefs resolve against the page URL
	assert.Equal(t, "https://www.bseindia.com/xml-data/AttachHis/RIL_2024.pdf", reports[1].PDFURL)
	assert.Equal(t, 2023, reports[1].Year)
	assert.Equal(t, 2023, reports[2].Year)
	assert.Equal(t, "2023-24 (Revised)", reports[2].Label)
}

func TestParseDeduplicatesByURL(t *testing.T) {
	page := `<html><body><table>
<tr><td>2024-25</td><td><a href="/AttachHis/same.pdf">one</a></td></tr>
<tr><td>2024-25 again</td><td><a href="/AttachHis/same.pdf">two</a></td></tr>
</table></body></html>`

	reports, err := ParseAnnualReports(page, "https://www.bseindia.com/")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "2024-25", reports[0].Label)
}

func TestParseSkipsRowsWithoutYear(t *testing.T) {
	page := `<html><body><table>
<tr><td>No year here</td><td><a href="/AttachHis/x.pdf">dl</a></td></tr>
<tr><td>2019-20</td><td><a href="/AttachHis/y.pdf">dl</a></td></tr>
</table></body></html>`

	reports, err := ParseAnnualReports(page, "https://www.bseindia.com/")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 2019, reports[0].Year)
}

func TestParseFallbackFirstPDF(t *testing.T) {
	// No qualifying rows, but PDF links exist: take the first one.
	page := `<html><body>
<a href="https://www.bseindia.com/docs/report.pdf">Annual document</a>
<a href="https://www.bseindia.com/docs/other.pdf">Other</a>
</body></html>`

	reports, err := ParseAnnualReports(page, "https://www.bseindia.com/")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "https://www.bseindia.com/docs/report.pdf", reports[0].PDFURL)
	assert.Zero(t, reports[0].Year)
	assert.Equal(t, "unknown", reports[0].Label)
}

func TestParseEmptyPage(t *testing.T) {
	reports, err := ParseAnnualReports("<html><body><p>nothing here</p></body></html>", "https://www.bseindia.com/")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestParseLabelFallsBackToYear(t *testing.T) {
	page := `<html><body><table>
<tr><td></td><td>text 2022-23 <a href="/AttachHis/z.pdf">dl</a></td></tr>
</table></body></html>`

	reports, err := ParseAnnualReports(page, "https://www.bseindia.com/")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Year 2022", reports[0].Label)
}
