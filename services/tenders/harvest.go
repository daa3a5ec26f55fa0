package tenders

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"tenderwatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// listing table column order
const (
	colUnit = iota
	colTenderNo
	colTitle
	colStatus
	colWorkArea
	colDueDate
	colDueDays
	colActions
)

// non-data text that leaks into rows from form and header elements
var junkTenderNos = map[string]bool{
	"Tender No":             true,
	"tender no":             true,
	"Search Tender":         true,
	"Organization":          true,
	"Select Date":           true,
	"Tender Closing Date":   true,
	"Tender Uploading Date": true,
	"Deptt./Rly. Unit":      true,
	"Actions":               true,
}

var validStatuses = map[string]bool{
	"published": true,
	"active":    true,
	"closed":    true,
	"cancelled": true,
	"expired":   true,
}

var navHintPattern = regexp.MustCompile(`postRequestNewWindow\(['"]([^'"]+)['"]`)

type HarvesterConfig struct {
	// Category restricts harvesting to one work area, e.g. "Works".
	Category string

	// DevCap stops after this many records when positive.
	DevCap int

	// MinDelay/MaxDelay bound the randomized pause between listing pages.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Harvester walks the paginated listing and extracts candidate records.
type Harvester struct {
	src Source
	cfg HarvesterConfig
}

func NewHarvester(src Source, cfg HarvesterConfig) *Harvester {
	if cfg.MinDelay == 0 {
		cfg.MinDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay + 2*time.Second
	}
	return &Harvester{src: src, cfg: cfg}
}

// HarvestAll fetches every listing page and returns the accepted records.
func (h *Harvester) HarvestAll(ctx context.Context) ([]Tender, error) {
	ctx, span := tracer.Start(ctx, "HarvestAll")
	defer span.End()

	var all []Tender
	page := 1
	for {
		slog.InfoContext(ctx, "harvesting listing page", "page", page)

		doc, err := h.src.ListingPage(ctx, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "listing page fetch failed")
			return all, err
		}

		rows := h.extractRows(ctx, doc)
		slog.InfoContext(ctx, "extracted listing rows", "page", page, "accepted", len(rows))
		all = append(all, rows...)

		if h.cfg.DevCap > 0 && len(all) >= h.cfg.DevCap {
			all = all[:h.cfg.DevCap]
			slog.InfoContext(ctx, "development record cap reached", "cap", h.cfg.DevCap)
			break
		}

		if !hasNextPage(doc) {
			slog.InfoContext(ctx, "no more listing pages", "pages", page)
			break
		}
		page++

		if err := h.interPageDelay(ctx); err != nil {
			return all, err
		}
	}

	return all, nil
}

// interPageDelay sleeps a randomized interval so requests against the
// source are not perfectly periodic.
func (h *Harvester) interPageDelay(ctx context.Context) error {
	ms, err := random.IntRange(int(h.cfg.MinDelay.Milliseconds()), int(h.cfg.MaxDelay.Milliseconds()))
	if err != nil {
		ms = int(h.cfg.MinDelay.Milliseconds())
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// findListingTable picks the innermost table carrying the expected
// headers. The listing is nested inside an outer wrapper table that also
// holds the search form, so the first match would be the wrong one.
func findListingTable(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestLen := -1
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		text := table.Text()
		if !strings.Contains(text, "Tender No") || !strings.Contains(text, "Deptt") {
			return
		}
		if bestLen == -1 || len(text) < bestLen {
			bestLen = len(text)
			best = table
		}
	})
	return best
}

func (h *Harvester) extractRows(ctx context.Context, doc *goquery.Document) []Tender {
	table := findListingTable(doc)
	if table == nil {
		slog.WarnContext(ctx, "could not find the tender listing table")
		return nil
	}

	var out []Tender
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= colActions {
			return
		}
		tender, ok := h.parseRow(ctx, cells)
		if !ok {
			return
		}
		out = append(out, tender)
	})
	return out
}

func (h *Harvester) parseRow(ctx context.Context, cells *goquery.Selection) (Tender, bool) {
	tender := Tender{
		Unit:     htmlutil.FlatText(cells.Eq(colUnit)),
		TenderNo: htmlutil.CellText(cells.Eq(colTenderNo)),
		Title:    htmlutil.FlatText(cells.Eq(colTitle)),
		Status:   htmlutil.FlatText(cells.Eq(colStatus)),
		WorkArea: htmlutil.FlatText(cells.Eq(colWorkArea)),
		DueDate:  htmlutil.FlatText(cells.Eq(colDueDate)),
		DueDays:  htmlutil.FlatText(cells.Eq(colDueDays)),
	}

	// structural checks reject header fragments and page text captured as
	// row data
	if tender.TenderNo == "" {
		return Tender{}, false
	}
	if len(tender.TenderNo) > 50 || strings.Contains(tender.TenderNo, "\n") {
		return Tender{}, false
	}
	if junkTenderNos[tender.TenderNo] {
		return Tender{}, false
	}
	if tender.Status == "" || !validStatuses[strings.ToLower(tender.Status)] {
		return Tender{}, false
	}
	if !strings.EqualFold(tender.WorkArea, h.cfg.Category) {
		slog.DebugContext(ctx, "skipping record outside category",
			"tender_no", tender.TenderNo, "work_area", tender.WorkArea)
		return Tender{}, false
	}

	tender.DetailURL = extractNavHint(ctx, cells.Eq(colActions), tender.TenderNo)
	return tender, true
}

// extractNavHint locates the detail-view action control within the row.
// The action column carries a varying number of controls, so the control
// is found by its title rather than by position. A missing control is an
// extraction gap, not an error: the record proceeds with an empty hint.
func extractNavHint(ctx context.Context, actionCell *goquery.Selection, tenderNo string) string {
	icon := actionCell.Find(`img[title="View Tender Details"]`).First()
	if icon.Length() == 0 {
		slog.WarnContext(ctx, "detail-view control not found in actions column",
			"tender_no", tenderNo)
		return ""
	}
	link := icon.ParentsFiltered("a").First()
	if link.Length() == 0 {
		slog.WarnContext(ctx, "detail-view control has no enclosing anchor",
			"tender_no", tenderNo)
		return ""
	}

	if onclick := link.AttrOr("onclick", ""); onclick != "" {
		if m := navHintPattern.FindStringSubmatch(onclick); m != nil {
			return m[1]
		}
	}
	if href := strings.TrimSpace(link.AttrOr("href", "")); href != "" && href != "#" {
		return href
	}
	return ""
}

// hasNextPage reports whether the listing shows an enabled next-page
// control.
func hasNextPage(doc *goquery.Document) bool {
	next := false
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.TrimSpace(a.Text())
		if text != "Next" && text != "»" && text != ">" {
			return true
		}
		if strings.Contains(strings.ToLower(a.AttrOr("class", "")), "disabled") {
			return false
		}
		next = true
		return false
	})
	return next
}
