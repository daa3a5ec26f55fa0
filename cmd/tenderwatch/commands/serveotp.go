package commands

import (
	"log/slog"

	"tenderwatch/lib/serviceutil"
	"tenderwatch/services/otp"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveOtpCmd)
}

var serveOtpCmd = &cobra.Command{
	Use:   "serve-otp",
	Short: "Runs the verification code webhook on its own, for SMS forwarder setup.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()

		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("read config", err)
		}

		coord := otp.NewCoordinator()
		if err := otp.NewReceiver(coord, cfg.OtpPort).Start(ctx); err != nil {
			serviceutil.Fatal("start code receiver", err)
		}

		slog.Info("code receiver running", "port", cfg.OtpPort)
		<-ctx.Done()
	},
}
