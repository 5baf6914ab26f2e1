package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/callcapture/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the devices a session would record",
	Long:  `List the loopback device and every microphone, with the format each one reports natively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		list := svc.Sources()

		fmt.Printf("Audio Sources (%s, %s backend)\n", runtime.GOOS, cfg.Audio.Backend)
		fmt.Printf("Available backends: %v\n", audio.GetAvailableBackends())
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("LOOPBACK:\n")
		if list.Loopback == nil {
			fmt.Printf("  none (only microphones will be recorded)\n")
		} else {
			fmt.Printf("  %s [%s] %s -> %s\n", list.Loopback.Name, list.Loopback.ID, list.Loopback.Format, cfg.Audio.LoopbackFile)
		}

		fmt.Printf("\nMICROPHONES (%d found):\n", len(list.Microphones))
		for i, mic := range list.Microphones {
			marker := ""
			if mic.Default {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s [%s] %s%s\n", i+1, mic.Name, mic.ID, mic.Format, marker)
		}
		fmt.Println()
		return nil
	},
}
