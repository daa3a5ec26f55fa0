package tracker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tenderwatch/services/tenders"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func tender(no, title, status string) tenders.Tender {
	return tenders.Tender{
		TenderNo: no,
		Title:    title,
		Status:   status,
		WorkArea: "Works",
	}
}

func TestDetectClassifications(t *testing.T) {
	t0 := time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)

	var snap Snapshot
	{
		// first run: everything is new
		run := []tenders.Tender{
			tender("NR-001", "Track renewal", "Published"),
			tender("NR-002", "Bridge repair", "Active"),
		}
		report := Detect(Snapshot{}, run)
		require.NotEmpty(t, report.Summary.Timestamp)
		report.Summary.Timestamp = ""
		require.Equal(t, Summary{New: 2, Total: 2}, report.Summary)
		snap = Commit(Snapshot{}, run, t0)
	}

	{
		// second run: one record changed status, one is brand new,
		// one vanished from the listing
		changed := tender("NR-002", "Bridge repair", "Closed")
		run := []tenders.Tender{
			changed,
			tender("NR-003", "Culvert work", "Published"),
		}
		report := Detect(snap, run)
		report.Summary.Timestamp = ""
		require.Equal(t, Summary{New: 1, StatusChanged: 1, Total: 2}, report.Summary)

		require.Equal(t, ClassStatusChanged, report.Records[0].Classification)
		require.Equal(t, []FieldChange{
			{Field: "status", Old: "Active", New: "Closed"},
		}, report.Records[0].Changes)
		require.Equal(t, ClassNew, report.Records[1].Classification)

		snap = Commit(snap, run, t0.Add(24*time.Hour))
	}

	// the vanished record is still in the snapshot with its old stamp
	require.Len(t, snap, 3)
	require.Equal(t, "2026-08-29T06:00:00Z", snap["NR-001"].LastSeen)
	require.Equal(t, "2026-08-30T06:00:00Z", snap["NR-002"].LastSeen)
	require.Equal(t, "Closed", snap["NR-002"].Status)
}

func TestDetectStatusPrecedenceKeepsAllChanges(t *testing.T) {
	prev := Commit(Snapshot{}, []tenders.Tender{
		{TenderNo: "NR-001", Status: "Published", ClosingDate: "01/09/2026"},
	}, time.Now())

	report := Detect(prev, []tenders.Tender{
		{TenderNo: "NR-001", Status: "Closed", ClosingDate: "15/09/2026"},
	})
	require.Equal(t, ClassStatusChanged, report.Records[0].Classification)
	require.Len(t, report.Records[0].Changes, 2)
	require.Zero(t, report.Summary.Updated)
}

func TestDetectUpdatedReportsExactDiff(t *testing.T) {
	prev := Commit(Snapshot{}, []tenders.Tender{
		{TenderNo: "NR-001", Status: "Published", ClosingDate: "01/09/2026", EMDAmount: "1,000"},
	}, time.Now())

	report := Detect(prev, []tenders.Tender{
		{TenderNo: "NR-001", Status: "Published", ClosingDate: "15/09/2026", EMDAmount: "1,000"},
	})
	require.Equal(t, ClassUpdated, report.Records[0].Classification)
	require.Equal(t, []FieldChange{
		{Field: "closing_date", Old: "01/09/2026", New: "15/09/2026"},
	}, report.Records[0].Changes)
	require.Equal(t, 1, report.Summary.Updated)
}

func TestDetectIgnoresWhitespaceDrift(t *testing.T) {
	prev := Commit(Snapshot{}, []tenders.Tender{
		{TenderNo: "NR-001", Title: "Track renewal", Status: "Published"},
	}, time.Now())

	report := Detect(prev, []tenders.Tender{
		{TenderNo: "NR-001", Title: "  Track renewal  ", Status: "Published"},
	})
	require.Equal(t, ClassUnchanged, report.Records[0].Classification)
}

func TestCommitMergesDocuments(t *testing.T) {
	docA := tenders.Document{FileName: "a.pdf", FileURL: "https://x/a.pdf"}
	docB := tenders.Document{FileName: "b.pdf", FileURL: "https://x/b.pdf"}

	first := tender("NR-001", "Track renewal", "Published")
	first.Documents = []tenders.Document{docA}
	first.DocDownloadURL = "https://x/main.pdf"
	snap := Commit(Snapshot{}, []tenders.Tender{first}, time.Now())

	{
		// enrichment gap: the record arrives without documents
		bare := tender("NR-001", "Track renewal", "Published")
		snap = Commit(snap, []tenders.Tender{bare}, time.Now())

		got := snap["NR-001"]
		require.Equal(t, []tenders.Document{docA}, got.Documents)
		require.Equal(t, "https://x/main.pdf", got.DocDownloadURL)
	}

	{
		// a later run adds an attachment, old ones keep their position
		withB := tender("NR-001", "Track renewal", "Published")
		withB.Documents = []tenders.Document{docB, docA}
		snap = Commit(snap, []tenders.Tender{withB}, time.Now())

		got := snap["NR-001"]
		require.Empty(t, cmp.Diff([]tenders.Document{docA, docB}, got.Documents))
	}

	// merging the same run again changes nothing
	again := tender("NR-001", "Track renewal", "Published")
	again.Documents = []tenders.Document{docA, docB}
	before := snap["NR-001"]
	snap = Commit(snap, []tenders.Tender{again}, time.Now())
	require.Empty(t, cmp.Diff(before.Documents, snap["NR-001"].Documents))
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &Store{Path: filepath.Join(t.TempDir(), "snapshot.json")}

	require.Empty(t, store.Load(ctx))

	snap := Commit(Snapshot{}, []tenders.Tender{
		tender("NR-001", "Track renewal & resurfacing", "Published"),
	}, time.Now())
	require.NoError(t, store.Save(ctx, snap))

	got := store.Load(ctx)
	require.Empty(t, cmp.Diff(snap, got))

	// html characters are stored verbatim
	data, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "renewal & resurfacing")
}

func TestStoreKeepsBackupOfPreviousState(t *testing.T) {
	ctx := context.Background()
	store := &Store{Path: filepath.Join(t.TempDir(), "snapshot.json")}

	first := Commit(Snapshot{}, []tenders.Tender{tender("NR-001", "Track renewal", "Published")}, time.Now())
	require.NoError(t, store.Save(ctx, first))

	second := Commit(first, []tenders.Tender{tender("NR-002", "Bridge repair", "Active")}, time.Now())
	require.NoError(t, store.Save(ctx, second))

	var backup Snapshot
	data, err := os.ReadFile(store.Path + ".bak")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &backup))
	require.Empty(t, cmp.Diff(first, backup))

	require.Len(t, store.Load(ctx), 2)
}

func TestCrashedWriteNeverCorruptsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := &Store{Path: filepath.Join(t.TempDir(), "snapshot.json")}

	first := Commit(Snapshot{}, []tenders.Tender{tender("NR-001", "Track renewal", "Published")}, time.Now())
	require.NoError(t, store.Save(ctx, first))

	// a writer that died between the temp write and the rename leaves a
	// stray temp file behind, the committed state must stay readable
	require.NoError(t, os.WriteFile(store.Path+".tmp", []byte(`{"NR-00`), 0o644))
	require.Empty(t, cmp.Diff(first, store.Load(ctx)))

	// the next save replaces the stray temp file and commits cleanly
	second := Commit(first, []tenders.Tender{tender("NR-002", "Bridge repair", "Active")}, time.Now())
	require.NoError(t, store.Save(ctx, second))
	require.Len(t, store.Load(ctx), 2)
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := &Store{Path: path}
	require.Empty(t, store.Load(ctx))
}
