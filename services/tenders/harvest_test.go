package tenders

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"tenderwatch/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	pages    []string
	details  map[string]string
	detailFn func(nav string) (string, error)

	listCalls   int
	detailCalls map[string]int
}

func (f *fakeSource) ListingPage(ctx context.Context, page int) (*goquery.Document, error) {
	f.listCalls++
	if page < 1 || page > len(f.pages) {
		return nil, fmt.Errorf("no fixture for page %d", page)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(f.pages[page-1]))
}

func (f *fakeSource) DetailPage(ctx context.Context, nav string) (*goquery.Document, error) {
	if f.detailCalls == nil {
		f.detailCalls = map[string]int{}
	}
	f.detailCalls[nav]++
	if f.detailFn != nil {
		html, err := f.detailFn(nav)
		if err != nil {
			return nil, err
		}
		return goquery.NewDocumentFromReader(strings.NewReader(html))
	}
	html, ok := f.details[nav]
	if !ok {
		return nil, fmt.Errorf("no fixture for nav %q", nav)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func listingRow(unit, no, title, status, area, action string) string {
	return fmt.Sprintf(
		`<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>15/09/2026 15:00</td><td>16</td><td>%s</td></tr>`,
		unit, no, title, status, area, action)
}

func detailAction(nav string) string {
	return fmt.Sprintf(
		`<a href="#" onclick="postRequestNewWindow('%s'); return false;"><img title="View Tender Details" src="view.gif"/></a>`,
		nav)
}

func listingPage(hasNext bool, rows ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table><tr><td>Search Tender by Tender No or Deptt./Rly. Unit</td></tr><tr><td><table>`)
	b.WriteString(`<tr><td>Deptt./Rly. Unit</td><td>Tender No</td><td>Tender Title</td><td>Status</td><td>Work Area</td><td>Due Date</td><td>Due Days</td><td>Actions</td></tr>`)
	for _, row := range rows {
		b.WriteString(row)
	}
	b.WriteString(`</table></td></tr></table>`)
	if hasNext {
		b.WriteString(`<a href="#" onclick="gotoPage(2)">Next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func newTestHarvester(src Source) *Harvester {
	return NewHarvester(src, HarvesterConfig{
		Category: "Works",
		MinDelay: time.Millisecond,
		MaxDelay: 2 * time.Millisecond,
	})
}

func TestHarvestFiltersListingRows(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:tenders")
	defer cleanup()

	src := &fakeSource{pages: []string{listingPage(false,
		listingRow("NR HQ", "NR-2026-001", "Track renewal", "Published", "Works", detailAction("/epsn/tenderDetails.do?id=1")),
		listingRow("NR HQ", "NR-2026-002", "Signalling upgrade", "Active", "Works", detailAction("/epsn/tenderDetails.do?id=2")),
		listingRow("NR HQ", "NR-2026-003", "Stationery supply", "Published", "Goods", detailAction("/epsn/tenderDetails.do?id=3")),
		listingRow("NR HQ", "NR-2026-004", "Draft work", "Draft", "Works", detailAction("/epsn/tenderDetails.do?id=4")),
		listingRow("NR HQ", "Search Tender", "", "Published", "Works", ""),
		listingRow("NR HQ", strings.Repeat("x", 60), "Overlong id", "Published", "Works", ""),
	)}}

	got, err := newTestHarvester(src).HarvestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "NR-2026-001", got[0].TenderNo)
	require.Equal(t, "Published", got[0].Status)
	require.Equal(t, "/epsn/tenderDetails.do?id=1", got[0].DetailURL)
	require.Equal(t, "NR-2026-002", got[1].TenderNo)
	require.Equal(t, "/epsn/tenderDetails.do?id=2", got[1].DetailURL)
}

func TestHarvestHeaderRowRejected(t *testing.T) {
	// the header row has a full cell count, only the denylist catches it
	src := &fakeSource{pages: []string{listingPage(false)}}

	got, err := newTestHarvester(src).HarvestAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestHarvestFollowsPagination(t *testing.T) {
	src := &fakeSource{pages: []string{
		listingPage(true,
			listingRow("NR HQ", "NR-2026-001", "Track renewal", "Published", "Works", detailAction("/d?id=1"))),
		listingPage(false,
			listingRow("NR HQ", "NR-2026-002", "Bridge repair", "Closed", "Works", detailAction("/d?id=2"))),
	}}

	got, err := newTestHarvester(src).HarvestAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, src.listCalls)
	require.Len(t, got, 2)
	require.Equal(t, "NR-2026-002", got[1].TenderNo)
}

func TestHarvestDevCapStopsEarly(t *testing.T) {
	src := &fakeSource{pages: []string{
		listingPage(true,
			listingRow("NR HQ", "NR-2026-001", "Track renewal", "Published", "Works", detailAction("/d?id=1")),
			listingRow("NR HQ", "NR-2026-002", "Bridge repair", "Active", "Works", detailAction("/d?id=2"))),
		listingPage(false,
			listingRow("NR HQ", "NR-2026-003", "Culvert work", "Published", "Works", detailAction("/d?id=3"))),
	}}

	h := NewHarvester(src, HarvesterConfig{
		Category: "Works",
		DevCap:   1,
		MinDelay: time.Millisecond,
		MaxDelay: 2 * time.Millisecond,
	})
	got, err := h.HarvestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, src.listCalls)
}

func TestHarvestMissingDetailControl(t *testing.T) {
	src := &fakeSource{pages: []string{listingPage(false,
		listingRow("NR HQ", "NR-2026-001", "Track renewal", "Published", "Works", `<img src="print.gif"/>`),
	)}}

	got, err := newTestHarvester(src).HarvestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Empty(t, got[0].DetailURL)
}
