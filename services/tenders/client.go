package tenders

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/tenders")

const (
	searchPath = "/epsn/anonymSearch.do"
	activeTab  = "allActiveTenders"
)

// Source is the portal access the harvesting stages need. The concrete
// implementation rides the session manager's authenticated HTTP client;
// tests substitute canned documents.
type Source interface {
	// ListingPage fetches one page of the listing, 1-based.
	ListingPage(ctx context.Context, page int) (*goquery.Document, error)
	// DetailPage opens a tender's detail view through its navigation hint.
	DetailPage(ctx context.Context, nav string) (*goquery.Document, error)
}

type SiteClient struct {
	base *url.URL
	http *resty.Client
}

func NewSiteClient(base string, http *resty.Client) (*SiteClient, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	return &SiteClient{base: parsed, http: http}, nil
}

// Base exposes the portal root for resolving relative document links.
func (c *SiteClient) Base() *url.URL {
	return c.base
}

func (c *SiteClient) ListingPage(ctx context.Context, page int) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "ListingPage")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"searchType": activeTab,
			"pageNo":     strconv.Itoa(page),
		}).
		Post(searchPath)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse listing page %d: %w", page, err)
	}
	return doc, nil
}

// DetailPage resolves the navigation hint against the portal base and
// issues the POST the listing's action control would have triggered. A
// plain GET serves an anonymous view with the documents section missing.
func (c *SiteClient) DetailPage(ctx context.Context, nav string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "DetailPage")
	defer span.End()

	ref, err := url.Parse(nav)
	if err != nil {
		return nil, fmt.Errorf("bad navigation hint %q: %w", nav, err)
	}
	target := c.base.ResolveReference(ref)

	res, err := c.http.R().
		SetContext(ctx).
		Post(target.String())
	if err != nil {
		return nil, fmt.Errorf("fetch detail page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}
	return doc, nil
}
