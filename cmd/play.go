package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [call-name]",
	Short: "Play a mixed recording",
	Long: `Play a mixed recording through the default output device.
Files the audio backend cannot stream are handed to VLC, mpv, ffplay or aplay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Printf("Playing: %s\n", svc.ResolveOutput(args[0]))
		if err := svc.Play(ctx, args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
