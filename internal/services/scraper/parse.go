package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// yearPattern matches the fiscal year in a report row ("2024-25" → 2024).
var yearPattern = regexp.MustCompile(`20(\d{2})`)

// ParseAnnualReports extracts qualifying annual-report rows from the rendered
// filings page. A row qualifies when its PDF link points at an annual-report
// attachment and its text carries a year. Results are de-duplicated by URL
// and ordered latest year first; row order breaks ties.
func ParseAnnualReports(html, pageURL string) ([]models.ScrapedReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "failed to parse filings page")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	reports := make([]models.ScrapedReport, 0)
	seen := make(map[string]struct{})

	doc.Find(`a[href*=".pdf"]`).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		pdfURL := resolveURL(base, href)
		if pdfURL == "" {
			return
		}
		if !strings.Contains(pdfURL, "AttachHis") && !strings.Contains(pdfURL, "AnnualReport") {
			return
		}

		row := a.Closest("tr")
		if row.Length() == 0 {
			return
		}
		match := yearPattern.FindString(row.Text())
		if match == "" {
			return
		}
		year, _ := strconv.Atoi(match)

		if _, dup := seen[pdfURL]; dup {
			return
		}
		seen[pdfURL] = struct{}{}

		label := strings.TrimSpace(row.Find("td").First().Text())
		if label == "" {
			label = fmt.Sprintf("Year %d", year)
		}

		reports = append(reports, models.ScrapedReport{
			Label:        label,
			PDFURL:       pdfURL,
			FiscalYear:   fmt.Sprintf("FY%d", year),
			Year:         year,
			DocumentType: models.DocumentTypeAnnualReport,
			Key:          models.ReportKey(pdfURL),
		})
	})

	// Some pages render their PDF links without the usual table metadata.
	// Take the first link rather than nothing; the year stays unknown.
	if len(reports) == 0 {
		if first := firstPDFLink(doc, base); first != nil {
			reports = append(reports, *first)
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Year > reports[j].Year
	})
	return reports, nil
}

func firstPDFLink(doc *goquery.Document, base *url.URL) *models.ScrapedReport {
	a := doc.Find(`a[href*=".pdf"]`).First()
	href, ok := a.Attr("href")
	if !ok {
		return nil
	}
	pdfURL := resolveURL(base, href)
	if pdfURL == "" {
		return nil
	}

	label := strings.TrimSpace(a.Closest("tr").Find("td").First().Text())
	if label == "" {
		label = "unknown"
	}
	return &models.ScrapedReport{
		Label:        label,
		PDFURL:       pdfURL,
		DocumentType: models.DocumentTypeAnnualReport,
		Key:          models.ReportKey(pdfURL),
	}
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
