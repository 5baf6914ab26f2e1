package cmd

import (
	"fmt"

	"github.com/audiolibrelab/callcapture/internal/config"

	"github.com/spf13/cobra"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle [on|off]",
	Short: "Switch recording on or off",
	Long: `Flip recording.enabled in the configuration file, or set it with 'on' or 'off'.
A running 'callcapture serve' picks the change up for its next session.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := !cfg.Recording.Enabled
		if len(args) == 1 {
			enabled = args[0] == "on"
		}

		if err := config.SetRecordingEnabled(cfgFile, enabled); err != nil {
			return err
		}
		cfg.Recording.Enabled = enabled

		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("Recording %s (%s)\n", state, cfgFile)
		return nil
	},
}
