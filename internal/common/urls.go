package common

import (
	"net/url"
	"strings"
)

// Source pages follow the registrar's share-price layout:
//
//	https://<host>/stock-share-price/<company-slug>/<scrip-code>/<scrip-id>/financials-annual-reports/
//
// The trailing slash is optional. Everything the pipeline knows about the
// company before scraping is derived from this path.
const (
	sourcePrefix  = "stock-share-price"
	sourceSection = "financials-annual-reports"

	// ExchangeBSE tags projects sourced from the supported registrar layout
	ExchangeBSE = "BSE"
)

// SourcePage holds the identity derived from a validated source URL
type SourcePage struct {
	URL         string
	CompanySlug string
	CompanyName string
	ScripCode   string
	ScripID     string
	Exchange    string
}

// ParseSourceURL validates a project source URL and derives the company
// identity from it. Rejections carry KindValidation so handlers map them to
// 400 responses.
func ParseSourceURL(raw string) (*SourcePage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, E(KindValidation, "source URL is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, WrapErr(KindValidation, err, "source URL is not a valid URL")
	}
	if parsed.Scheme != "https" {
		return nil, Ef(KindValidation, "source URL must use https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, E(KindValidation, "source URL must include a host")
	}

	segments := splitPath(parsed.Path)
	if len(segments) != 5 || segments[0] != sourcePrefix || segments[4] != sourceSection {
		return nil, Ef(KindValidation,
			"source URL must match https://<host>/%s/<company>/<code>/<id>/%s/", sourcePrefix, sourceSection)
	}

	slug := segments[1]
	if slug == "" || segments[2] == "" || segments[3] == "" {
		return nil, E(KindValidation, "source URL path segments must not be empty")
	}

	return &SourcePage{
		URL:         trimmed,
		CompanySlug: slug,
		CompanyName: CompanyNameFromSlug(slug),
		ScripCode:   segments[2],
		ScripID:     segments[3],
		Exchange:    ExchangeBSE,
	}, nil
}

// CompanyNameFromSlug converts a URL slug into the display company name:
// hyphens become spaces and the result is upper-cased ("tata-motors-ltd" ->
// "TATA MOTORS LTD").
func CompanyNameFromSlug(slug string) string {
	return strings.ToUpper(strings.ReplaceAll(slug, "-", " "))
}

// Slugify converts a display name back into a path-safe slug for object keys
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

func splitPath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}
