package commands

import (
	"log/slog"

	"tenderwatch/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Establishes a portal session without harvesting, for diagnosing login problems.",
	Long: `Establishes a portal session without harvesting anything.

Runs interactively: if no verification code reaches the webhook in time
you are prompted to type one in by hand.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()

		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("read config", err)
		}

		mgr, err := buildSessionManager(ctx, cfg, true)
		if err != nil {
			serviceutil.Fatal("initialize session manager", err)
		}

		if err := mgr.EnsureSession(ctx); err != nil {
			serviceutil.Fatal("establish session", err)
		}
		slog.Info("session established", "session_file", cfg.SessionFile)
	},
}
