package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tenderwatch/services/tenders"
	"tenderwatch/services/tracker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/pipeline")

// ErrEmptyHarvest marks a run that produced no records at all. The
// snapshot is left untouched because an empty listing almost always
// means the source changed shape, not that every tender vanished.
var ErrEmptyHarvest = errors.New("harvest produced no records")

type SessionKeeper interface {
	EnsureSession(ctx context.Context) error
}

type Harvester interface {
	HarvestAll(ctx context.Context) ([]tenders.Tender, error)
}

type Enricher interface {
	EnrichAll(ctx context.Context, records []tenders.Tender) tenders.EnrichResult
}

type Pipeline struct {
	sessions SessionKeeper
	harvest  Harvester
	enrich   Enricher
	store    *tracker.Store
	notifier *Notifier
}

func New(sessions SessionKeeper, harvest Harvester, enrich Enricher, store *tracker.Store, notifier *Notifier) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		harvest:  harvest,
		enrich:   enrich,
		store:    store,
		notifier: notifier,
	}
}

type Result struct {
	Report       tracker.Report
	Harvested    int
	Enriched     int
	EnrichFailed int
	SnapshotSize int

	// Degraded is set when enrichment stopped early and some records
	// were committed with listing fields only.
	Degraded bool
}

// Run executes one full cycle: authenticate, harvest the listing,
// enrich details, classify against the snapshot and commit. Records
// whose enrichment failed are still committed, the snapshot merge
// keeps their previously known documents.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	if err := p.sessions.EnsureSession(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session establishment failed")
		p.notifier.Notify(ctx, "failure", fmt.Sprintf("session establishment failed: %v", err))
		return Result{}, fmt.Errorf("ensure session: %w", err)
	}

	records, err := p.harvest.HarvestAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest failed")
		p.notifier.Notify(ctx, "failure", fmt.Sprintf("harvest failed: %v", err))
		return Result{}, fmt.Errorf("harvest: %w", err)
	}
	if len(records) == 0 {
		span.SetStatus(codes.Error, ErrEmptyHarvest.Error())
		p.notifier.Notify(ctx, "failure", ErrEmptyHarvest.Error())
		return Result{}, ErrEmptyHarvest
	}
	span.SetAttributes(attribute.Int("harvested", len(records)))

	enriched := p.enrich.EnrichAll(ctx, records)
	if enriched.Err != nil {
		slog.WarnContext(ctx, "enrichment degraded, committing listing data only for the rest",
			"enriched", enriched.Enriched, "failed", enriched.Failed, "err", enriched.Err)
		span.RecordError(enriched.Err)
	}

	prev := p.store.Load(ctx)
	report := tracker.Detect(prev, enriched.Tenders)
	next := tracker.Commit(prev, enriched.Tenders, time.Now())
	if err := p.store.Save(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot save failed")
		p.notifier.Notify(ctx, "failure", fmt.Sprintf("snapshot save failed: %v", err))
		return Result{}, fmt.Errorf("save snapshot: %w", err)
	}

	result := Result{
		Report:       report,
		Harvested:    len(records),
		Enriched:     enriched.Enriched,
		EnrichFailed: enriched.Failed,
		SnapshotSize: len(next),
		Degraded:     enriched.Err != nil,
	}

	slog.InfoContext(ctx, "run complete",
		"harvested", result.Harvested,
		"enriched", result.Enriched,
		"enrich_failed", result.EnrichFailed,
		"new", report.Summary.New,
		"updated", report.Summary.Updated,
		"status_changed", report.Summary.StatusChanged,
		"unchanged", report.Summary.Unchanged)

	status := "success"
	if result.Degraded {
		status = "degraded"
	}
	p.notifier.Notify(ctx, status, fmt.Sprintf(
		"run complete: %d harvested, %d new, %d updated, %d status changes",
		result.Harvested, report.Summary.New, report.Summary.Updated, report.Summary.StatusChanged))

	return result, nil
}
