package cmd

import (
	"fmt"

	"github.com/audiolibrelab/callcapture/internal/session"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [call-name]",
	Short: "Show resolved configuration and file paths for a call",
	Long:  `Display the output path a call name resolves to, the per-device file names and the mix format.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		rate, channels := cfg.MixFormat()
		sources := svc.Sources()

		// Display file paths
		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("output: %s\n", svc.ResolveOutput(args[0]))
		fmt.Printf("work_root: %s\n", cfg.Output.WorkDirectory)
		if sources.Loopback != nil {
			fmt.Printf("loopback_file: %s\n", cfg.Audio.LoopbackFile)
		}
		for i := range sources.Microphones {
			fmt.Printf("mic_file: %s\n", session.MicrophoneFileName(cfg.Audio.MicFile, i+1))
		}

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("\n[Recording]\n")
		fmt.Printf("enabled: %t\n", svc.RecordingEnabled())
		fmt.Printf("keep_alive: %t\n", cfg.Recording.KeepAlive)

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s\n", cfg.Audio.Backend)
		fmt.Printf("mix_format: %d Hz, 16 bit, %d channel(s)\n", rate, channels)
		fmt.Printf("period_ms: %d\n", cfg.Audio.PeriodMS)

		fmt.Printf("\n[Server]\n")
		fmt.Printf("listen: %s\n", cfg.Server.Listen)
		return nil
	},
}
