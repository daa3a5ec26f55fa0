package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"tenderwatch/services/tenders"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/tracker")

// StoredTender is a snapshot record plus bookkeeping not present on the
// source.
type StoredTender struct {
	tenders.Tender
	LastSeen string `json:"_last_seen"`
}

// Snapshot is the persisted state of every record seen so far, keyed by
// tender number.
type Snapshot map[string]StoredTender

// Store persists snapshots to a single JSON file.
type Store struct {
	Path string
}

// Load reads the snapshot file. A missing or unreadable file yields an
// empty snapshot so a damaged state file degrades into a full re-baseline
// instead of a failed run.
func (s *Store) Load(ctx context.Context) Snapshot {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.InfoContext(ctx, "no snapshot file, starting from an empty baseline", "path", s.Path)
		return Snapshot{}
	}
	if err != nil {
		slog.WarnContext(ctx, "could not read snapshot file, starting fresh", "path", s.Path, "err", err)
		return Snapshot{}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.WarnContext(ctx, "snapshot file is corrupt, starting fresh", "path", s.Path, "err", err)
		return Snapshot{}
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap
}

// Save writes the snapshot atomically: the new state goes to a temp file
// first, the previous file becomes a .bak copy, then the temp file is
// renamed into place. A crash at any point leaves either the old state or
// the new state on disk, never a half-written file.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	ctx, span := tracer.Start(ctx, "Store.Save")
	defer span.End()

	tmp := s.Path + ".tmp"
	if err := writeSnapshotFile(tmp, snap); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}

	if _, err := os.Stat(s.Path); err == nil {
		if err := copyFile(s.Path, s.Path+".bak"); err != nil {
			slog.WarnContext(ctx, "could not back up previous snapshot", "err", err)
		}
	}

	if err := os.Rename(tmp, s.Path); err != nil {
		// rename can fail across filesystems, fall back to a copy
		if cerr := copyFile(tmp, s.Path); cerr != nil {
			return fmt.Errorf("replace snapshot: %w", cerr)
		}
		os.Remove(tmp)
	}

	slog.InfoContext(ctx, "snapshot saved", "path", s.Path, "records", len(snap))
	return nil
}

func writeSnapshotFile(path string, snap Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
