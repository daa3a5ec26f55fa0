package tenders

import "strings"

// Document is one attachment referenced from a tender's detail page,
// keyed by its file URL.
type Document struct {
	FileName    string `json:"file_name"`
	FileURL     string `json:"file_url"`
	Description string `json:"description"`
}

// Tender is one harvested listing row, enriched with detail-page fields in
// the second phase. TenderNo is the immutable identity issued by the
// source; every other field is replaceable.
type Tender struct {
	Unit     string `json:"deptt_rly_unit"`
	TenderNo string `json:"tender_no"`
	Title    string `json:"tender_title"`
	Status   string `json:"status"`
	WorkArea string `json:"work_area"`
	DueDate  string `json:"due_date_time"`
	DueDays  string `json:"due_days"`

	TenderType     string `json:"tender_type"`
	DateOfIssue    string `json:"date_of_issue"`
	EstimatedValue string `json:"estimated_value"`
	EMDAmount      string `json:"emd_amount"`
	DocumentCost   string `json:"document_cost"`
	ContactOfficer string `json:"contact_officer"`
	Corrigendum    string `json:"corrigendum"`
	Description    string `json:"description"`
	ClosingDate    string `json:"closing_date"`

	DocDownloadURL string     `json:"tender_doc_download_url"`
	Documents      []Document `json:"attached_documents"`

	// DetailURL is used for navigation during a run only and is never
	// persisted or compared.
	DetailURL string `json:"-"`
}

// Fields returns the comparable fields as a flat name/value map for
// change detection. Values are trimmed; the navigation hint is excluded.
func (t Tender) Fields() map[string]string {
	docs := make([]string, len(t.Documents))
	for i, d := range t.Documents {
		docs[i] = d.FileURL
	}

	m := map[string]string{
		"deptt_rly_unit":          t.Unit,
		"tender_no":               t.TenderNo,
		"tender_title":            t.Title,
		"status":                  t.Status,
		"work_area":               t.WorkArea,
		"due_date_time":           t.DueDate,
		"due_days":                t.DueDays,
		"tender_type":             t.TenderType,
		"date_of_issue":           t.DateOfIssue,
		"estimated_value":         t.EstimatedValue,
		"emd_amount":              t.EMDAmount,
		"document_cost":           t.DocumentCost,
		"contact_officer":         t.ContactOfficer,
		"corrigendum":             t.Corrigendum,
		"description":             t.Description,
		"closing_date":            t.ClosingDate,
		"tender_doc_download_url": t.DocDownloadURL,
		"attached_documents":      strings.Join(docs, "\n"),
	}
	for k, v := range m {
		m[k] = strings.TrimSpace(v)
	}
	return m
}
