package commands

import (
	"os"

	"tenderwatch/lib/serviceutil"
	"tenderwatch/services/pipeline"
	"tenderwatch/services/tracker"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs one full cycle: login, harvest, enrich, classify and commit.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()

		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("read config", err)
		}

		mgr, err := buildSessionManager(ctx, cfg, false)
		if err != nil {
			serviceutil.Fatal("initialize session manager", err)
		}
		harvester, enricher, err := buildHarvestStages(mgr, cfg)
		if err != nil {
			serviceutil.Fatal("initialize harvest stages", err)
		}

		p := pipeline.New(mgr, harvester, enricher,
			&tracker.Store{Path: cfg.StateFile},
			pipeline.NewNotifier(cfg.WebhookURL))

		result, err := p.Run(ctx)
		if err != nil {
			serviceutil.Fatal("run pipeline", err)
		}

		renderReport(result)
		if result.Degraded {
			os.Exit(2)
		}
	},
}

func renderReport(result pipeline.Result) {
	summary := result.Report.Summary

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Harvested", "Enriched", "Failed", "New", "Updated", "Status Changed", "Unchanged"})
	t.AppendRow(table.Row{
		result.Harvested, result.Enriched, result.EnrichFailed,
		summary.New, summary.Updated, summary.StatusChanged, summary.Unchanged,
	})
	t.Render()

	changed := table.NewWriter()
	changed.SetOutputMirror(os.Stdout)
	changed.AppendHeader(table.Row{"Tender No", "Classification", "Field", "Old", "New"})
	rows := 0
	for _, rec := range result.Report.Records {
		switch rec.Classification {
		case tracker.ClassUnchanged:
			continue
		case tracker.ClassNew:
			changed.AppendRow(table.Row{rec.TenderNo, rec.Classification, "", "", ""})
			rows++
		default:
			for _, c := range rec.Changes {
				changed.AppendRow(table.Row{rec.TenderNo, rec.Classification, c.Field, c.Old, c.New})
				rows++
			}
		}
	}
	if rows > 0 {
		changed.Render()
	}
}
