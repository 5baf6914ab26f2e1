package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/audiolibrelab/callcapture/internal/mix"

	"github.com/spf13/cobra"
)

var mixCmd = &cobra.Command{
	Use:   "mix [directory] [output]",
	Short: "Mix every audio file of a directory into one WAV file",
	Long: `Mix all WAV files found in a directory into a single 16-bit WAV file.
Each file is resampled to the mix sample rate and mapped to the mix channel
count before summing. Files that cannot be decoded are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, output := args[0], args[1]
		if filepath.Ext(output) == "" {
			output += ".wav"
		}

		// Get command line overrides
		if rate, _ := cmd.Flags().GetInt("rate"); rate > 0 {
			cfg.Audio.MixSampleRate = rate
		}
		if channels, _ := cmd.Flags().GetInt("channels"); channels > 0 {
			cfg.Audio.MixChannels = channels
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		inputs, err := mix.Discover(dir)
		if err != nil {
			return err
		}

		mixer := mix.New(cfg).WithLogger(slog.Default())
		rate, channels := mixer.Format()
		fmt.Printf("Mixing %d file(s) from %s at %d Hz, %d channel(s)\n", len(inputs), dir, rate, channels)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		res, err := mixer.Mix(ctx, mix.Job{Inputs: inputs, Output: output})
		if res != nil {
			for _, skipped := range res.Skipped {
				fmt.Printf("  skipped %s: %v\n", skipped.Path, skipped.Err)
			}
		}
		if err != nil {
			return fmt.Errorf("mixing failed: %w", err)
		}

		fmt.Printf("Mixed %d file(s) into %s (%s)\n", len(res.Mixed), res.Output, res.Duration())
		return nil
	},
}

func init() {
	mixCmd.Flags().Int("rate", 0, "mix sample rate in Hz (overrides config)")
	mixCmd.Flags().Int("channels", 0, "mix channel count (overrides config)")
}
