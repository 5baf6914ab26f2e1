package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/callcapture/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API",
	Long: `Start the CallCapture control API so another process (for example a
chat client plugin) can start and stop sessions over HTTP.

Edits of the config file are followed while the server runs; toggling
recording.enabled takes effect for the next session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Server.Listen
		}

		svc, err := newService()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := svc.WatchConfig(ctx); err != nil {
				slog.Warn("Config watching disabled", "error", err)
			}
		}()

		slog.Info("CallCapture server starting", "listen", listen, "config", cfgFile)

		// Start server (this blocks)
		srvErr := server.New(svc, listen, slog.Default()).Start(ctx)

		// Stops and mixes a session left running
		if err := svc.Close(); err != nil {
			slog.Warn("Shutdown finished with errors", "error", err)
		}
		if srvErr != nil {
			return fmt.Errorf("server failed: %w", srvErr)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on (default from config, 127.0.0.1:8080)")
}
