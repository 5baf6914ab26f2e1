package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/callcapture/internal/audio"
	"github.com/audiolibrelab/callcapture/internal/config"
	"github.com/audiolibrelab/callcapture/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "callcapture [call-name]",
	Short: "Record calls from every audio device and mix them into one file",
	Long: `CallCapture records the system audio output (loopback) and every
microphone at the same time, each into its own file at the device's
native format, and mixes them into a single 44.1 kHz stereo WAV file
when the session stops.

When a call name is provided, it acts as 'callcapture record [call-name]'.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Validate pipeline if provided
		return validatePipeline()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If a call name is provided, delegate to record command
		if len(args) == 1 {
			return recordCmd.RunE(cmd, args)
		}
		// Otherwise show help
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/callcapture.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipeline, "pipeline", "p", "", "steps to run after recording: r=record, p=play (e.g., 'rp')")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with source locations")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(mixCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(infoCmd)
}

// newService opens the configured audio backend and wraps it in a service.
// Callers must Close the service.
func newService() (*service.CallCaptureService, error) {
	backend, err := audio.NewBackend(cfg, slog.Default())
	if err != nil {
		return nil, err
	}
	slog.Debug("Audio backend ready", "type", backend.GetType())
	return service.New(cfg, cfgFile, backend, slog.Default()), nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
