package tracker

import (
	"sort"
	"time"

	"tenderwatch/services/tenders"
)

type Classification string

const (
	ClassNew           Classification = "NEW"
	ClassUpdated       Classification = "UPDATED"
	ClassStatusChanged Classification = "STATUS_CHANGED"
	ClassUnchanged     Classification = "UNCHANGED"
)

type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

type RecordReport struct {
	TenderNo       string         `json:"tender_no"`
	Classification Classification `json:"classification"`

	// Changes lists every differing field, including the status change
	// when the record is classified STATUS_CHANGED.
	Changes []FieldChange `json:"changes,omitempty"`
}

type Summary struct {
	New           int    `json:"new"`
	Updated       int    `json:"updated"`
	StatusChanged int    `json:"status_changed"`
	Unchanged     int    `json:"unchanged"`
	Total         int    `json:"total"`
	Timestamp     string `json:"timestamp"`
}

type Report struct {
	Records []RecordReport `json:"records"`
	Summary Summary        `json:"summary"`
}

// Detect classifies each record of the current run against the previous
// snapshot. A status change takes precedence over other field changes
// for classification, but all field changes are still reported.
func Detect(prev Snapshot, current []tenders.Tender) Report {
	report := Report{Records: make([]RecordReport, 0, len(current))}

	for _, record := range current {
		rec := RecordReport{TenderNo: record.TenderNo}

		old, seen := prev[record.TenderNo]
		if !seen {
			rec.Classification = ClassNew
			report.Summary.New++
			report.Records = append(report.Records, rec)
			continue
		}

		rec.Changes = diffFields(old.Tender, record)
		statusChanged := false
		for _, c := range rec.Changes {
			if c.Field == "status" {
				statusChanged = true
				break
			}
		}

		switch {
		case statusChanged:
			rec.Classification = ClassStatusChanged
			report.Summary.StatusChanged++
		case len(rec.Changes) > 0:
			rec.Classification = ClassUpdated
			report.Summary.Updated++
		default:
			rec.Classification = ClassUnchanged
			report.Summary.Unchanged++
		}
		report.Records = append(report.Records, rec)
	}

	report.Summary.Total = len(report.Records)
	report.Summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return report
}

func diffFields(prev, curr tenders.Tender) []FieldChange {
	oldFields := prev.Fields()
	newFields := curr.Fields()

	keys := make([]string, 0, len(newFields))
	for k := range newFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []FieldChange
	for _, k := range keys {
		if oldFields[k] != newFields[k] {
			changes = append(changes, FieldChange{Field: k, Old: oldFields[k], New: newFields[k]})
		}
	}
	return changes
}
