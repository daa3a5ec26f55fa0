package tenders

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tenderwatch/lib/htmlutil"
	"tenderwatch/lib/retry"
	"tenderwatch/services/session"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrSessionExpired = errors.New("session expired while fetching detail page")
	ErrBreakerTripped = errors.New("enrichment halted after consecutive failures")
)

var primaryDocPattern = regexp.MustCompile(`downloadtenderDoc\(['"]([^'"]+)['"]`)

const breakerThreshold = 3

// EnrichResult carries every harvested record regardless of enrichment
// outcome. Records whose detail fetch failed keep their listing fields.
type EnrichResult struct {
	Tenders  []Tender
	Enriched int
	Failed   int

	// Err is set when enrichment stopped early, e.g. the breaker tripped.
	Err error
}

type EnricherConfig struct {
	// Attempts bounds detail fetch retries per record.
	Attempts int

	// BaseDelay seeds the exponential backoff between retries.
	BaseDelay time.Duration
}

// Enricher fills in detail-page fields for harvested records.
type Enricher struct {
	src  Source
	base *url.URL
	cfg  EnricherConfig
}

func NewEnricher(src Source, base *url.URL, cfg EnricherConfig) *Enricher {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Enricher{src: src, base: base, cfg: cfg}
}

// EnrichAll visits each record's detail page in order. A record without
// a navigation hint is skipped. After breakerThreshold consecutive
// failures the remaining records are passed through unenriched.
func (e *Enricher) EnrichAll(ctx context.Context, records []Tender) EnrichResult {
	ctx, span := tracer.Start(ctx, "EnrichAll")
	defer span.End()

	result := EnrichResult{Tenders: make([]Tender, 0, len(records))}
	consecutive := 0

	for i, record := range records {
		if record.Documents == nil {
			record.Documents = []Document{}
		}

		if result.Err != nil || record.DetailURL == "" {
			if record.DetailURL == "" {
				slog.WarnContext(ctx, "record has no detail navigation hint",
					"tender_no", record.TenderNo)
			}
			result.Tenders = append(result.Tenders, record)
			continue
		}

		enriched, err := e.enrichOne(ctx, record)
		if err != nil {
			result.Failed++
			consecutive++
			slog.ErrorContext(ctx, "detail enrichment failed",
				"tender_no", record.TenderNo, "err", err,
				"consecutive_failures", consecutive)
			span.RecordError(err)
			if errors.Is(err, ErrSessionExpired) {
				// the remaining pages would all serve the login screen
				result.Err = ErrSessionExpired
				span.SetStatus(codes.Error, "session expired during enrichment")
			} else if consecutive >= breakerThreshold {
				result.Err = ErrBreakerTripped
				span.SetStatus(codes.Error, "enrichment breaker tripped")
				slog.ErrorContext(ctx, "stopping enrichment, source looks unhealthy",
					"remaining", len(records)-i-1)
			}
			result.Tenders = append(result.Tenders, record)
			continue
		}

		consecutive = 0
		result.Enriched++
		result.Tenders = append(result.Tenders, enriched)
	}

	return result
}

func (e *Enricher) enrichOne(ctx context.Context, record Tender) (Tender, error) {
	var doc *goquery.Document
	err := retry.Do(ctx, e.cfg.Attempts, e.cfg.BaseDelay, func() error {
		d, err := e.src.DetailPage(ctx, record.DetailURL)
		if err != nil {
			return err
		}
		if strings.Contains(d.Text(), session.AuthMarker) {
			// retrying with the same dead cookies cannot succeed
			return retry.Permanent(ErrSessionExpired)
		}
		doc = d
		return nil
	})
	if err != nil {
		return Tender{}, err
	}

	e.applyDetailFields(ctx, &record, doc)
	record.Documents = e.extractDocuments(doc)
	record.DocDownloadURL = e.primaryDocURL(doc)

	if len(record.Documents) == 0 && record.DocDownloadURL == "" {
		slog.WarnContext(ctx, "EMPTY_DOCS: detail page exposed no documents",
			"tender_no", record.TenderNo)
	}
	return record, nil
}

// applyDetailFields resolves the labelled fields of the detail page.
// Values that fail plausibility checks are dropped rather than stored,
// since a wrong value poisons change detection downstream.
func (e *Enricher) applyDetailFields(ctx context.Context, record *Tender, doc *goquery.Document) {
	resolver := NewLabelResolver(doc)

	first := func(labels ...string) string {
		for _, label := range labels {
			if v := resolver.Resolve(label); v != "" {
				return v
			}
		}
		return ""
	}

	if v := first("Tender Type"); v != "" && v != record.Title {
		record.TenderType = v
	}
	record.DateOfIssue = first("Date Of Issue", "Date of Issue", "Publish Date")
	record.EstimatedValue = first("Estimated Value", "Advertised Value")
	record.EMDAmount = first("EMD Amount", "Earnest Money")
	record.DocumentCost = first("Document Cost", "Cost of Tender Document")
	record.ContactOfficer = first("Contact Officer", "Contact Person")
	record.Corrigendum = first("Corrigendum")

	if v := first("Closing Date", "Tender Closing Date"); strings.Contains(v, "/") {
		record.ClosingDate = v
	}
	if v := first("Brief Description", "Description"); v != "" && v != "Tender Details" {
		record.Description = v
	}
}

// extractDocuments reads the attachment table. Rows without a link are
// layout rows, not attachments.
func (e *Enricher) extractDocuments(doc *goquery.Document) []Document {
	docs := []Document{}
	doc.Find("#attach_docs tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href == "" || href == "#" || strings.HasPrefix(href, "javascript:") {
			return
		}

		cells := row.Find("td")
		d := Document{
			FileName: htmlutil.FlatText(link),
			FileURL:  e.resolveURL(href),
		}
		if d.FileName == "" && cells.Length() > 0 {
			d.FileName = htmlutil.FlatText(cells.Eq(0))
		}
		if cells.Length() > 1 {
			d.Description = htmlutil.FlatText(cells.Eq(1))
		}
		docs = append(docs, d)
	})
	return docs
}

// primaryDocURL locates the main tender document. The page exposes it
// through a script helper in most layouts and through a form post in
// older ones.
func (e *Enricher) primaryDocURL(doc *goquery.Document) string {
	found := ""
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		if m := primaryDocPattern.FindStringSubmatch(script.Text()); m != nil {
			found = e.resolveURL(m[1])
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	doc.Find("form[action]").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		action := form.AttrOr("action", "")
		if strings.Contains(action, "pdfdocs") {
			found = e.resolveURL(action)
			return false
		}
		return true
	})
	return found
}

func (e *Enricher) resolveURL(raw string) string {
	if e.base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return e.base.ResolveReference(ref).String()
}
