package tenders

import (
	"strings"

	"tenderwatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// LabelResolver looks up a field value by the visible label next to it.
type LabelResolver interface {
	Resolve(label string) string
}

// docResolver resolves labels against a rendered detail page. Detail
// pages lay fields out as label/value cell pairs inside deeply nested
// tables, with no stable ids or classes to anchor on, so the label text
// itself is the only durable handle.
type docResolver struct {
	doc *goquery.Document
}

func NewLabelResolver(doc *goquery.Document) LabelResolver {
	return &docResolver{doc: doc}
}

func (r *docResolver) Resolve(label string) string {
	var value string
	r.doc.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := htmlutil.FlatText(cell)
		if !strings.Contains(text, label) {
			return true
		}
		if v := valueBesideCell(cell, text, label); v != "" {
			value = v
			return false
		}
		return true
	})
	return value
}

// valueBesideCell tries the cell after the label within the same row,
// then the label cell's own trailing text when label and value share a
// cell.
func valueBesideCell(cell *goquery.Selection, cellText, label string) string {
	next := cell.Next()
	for next.Length() > 0 {
		if v := cleanValue(htmlutil.CellText(next)); v != "" {
			return v
		}
		next = next.Next()
	}

	// "Label : value" packed into one cell
	if idx := strings.Index(cellText, label); idx >= 0 {
		rest := cellText[idx+len(label):]
		rest = strings.TrimLeft(rest, " : ")
		if v := cleanValue(rest); v != "" {
			return v
		}
	}
	return ""
}

// cleanValue discards text captured from script bodies and layout
// scaffolding rather than a field value.
func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Count(s, "\t") > 3 {
		return ""
	}
	if strings.Contains(s, "createOptorDpdw()") || strings.Contains(s, "document.getElementById") {
		return ""
	}
	if len(s) > 500 {
		return ""
	}
	return s
}
