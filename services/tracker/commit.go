package tracker

import (
	"time"

	"tenderwatch/services/tenders"
)

// Commit folds the current run into the snapshot and returns the new
// snapshot. Records absent from the current run stay in the snapshot
// with their old last-seen stamp, so history survives a short listing.
func Commit(prev Snapshot, current []tenders.Tender, now time.Time) Snapshot {
	next := make(Snapshot, len(prev)+len(current))
	for k, v := range prev {
		next[k] = v
	}

	stamp := now.UTC().Format(time.RFC3339)
	for _, record := range current {
		record.DetailURL = ""

		if old, seen := next[record.TenderNo]; seen {
			record.Documents = mergeDocuments(old.Documents, record.Documents)
			// an enrichment gap must not erase a known download link
			if record.DocDownloadURL == "" {
				record.DocDownloadURL = old.DocDownloadURL
			}
		}
		if record.Documents == nil {
			record.Documents = []tenders.Document{}
		}

		next[record.TenderNo] = StoredTender{Tender: record, LastSeen: stamp}
	}
	return next
}

// mergeDocuments unions attachments by file URL. Known documents keep
// their position and new ones are appended. Documents are never dropped.
func mergeDocuments(old, incoming []tenders.Document) []tenders.Document {
	merged := make([]tenders.Document, 0, len(old)+len(incoming))
	seen := make(map[string]bool, len(old))
	for _, d := range old {
		merged = append(merged, d)
		seen[d.FileURL] = true
	}
	for _, d := range incoming {
		if seen[d.FileURL] {
			continue
		}
		merged = append(merged, d)
		seen[d.FileURL] = true
	}
	return merged
}
