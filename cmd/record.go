package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/callcapture/internal/service"
	"github.com/audiolibrelab/callcapture/internal/session"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [call-name]",
	Short: "Record loopback and microphones until interrupted",
	Long: `Record the system audio output and every microphone simultaneously.
Press Ctrl+C to stop; the recordings are then mixed into a single WAV file
in the output directory and the per-device files are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		callName := args[0]
		slog.Info("Record command started", "call_name", callName)

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := startRecording(svc, callName); err != nil {
			return err
		}

		slog.Info("Recording - Press Ctrl+C to stop")

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		// Wait for interrupt signal
		<-sigChan
		slog.Info("Stopping recording...")

		if err := stopRecording(svc); err != nil {
			return err
		}

		// Execute pipeline if specified
		return executePipeline(svc, callName, 'r')
	},
}

// startRecording starts a session and reports what it records.
func startRecording(svc *service.CallCaptureService, callName string) error {
	if !svc.RecordingEnabled() {
		return errors.New("recording is disabled (run 'callcapture toggle on' to enable)")
	}
	if err := svc.StartRecording(callName); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	_, sess := svc.GetRecordingStatus()
	if sess == nil {
		return nil
	}
	fmt.Printf("Recording to %s\n", sess.OutputFile)
	for _, ch := range sess.Channels {
		fmt.Printf("  %-10s %s (%s) -> %s\n", ch.Kind, ch.Device, ch.Format, ch.File)
	}
	if len(sess.Channels) == 0 {
		fmt.Println("  no device could be opened")
	}
	return nil
}

// stopRecording stops the session and prints the outcome. A mixed file with
// some failed sources is a success with warnings.
func stopRecording(svc *service.CallCaptureService) error {
	report, err := svc.StopRecording(context.Background())
	if report == nil {
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		return nil
	}

	printReport(report)
	if !report.Output {
		if err == nil {
			return errors.New("recording produced no output")
		}
		return fmt.Errorf("recording produced no output: %w", err)
	}
	if err != nil {
		slog.Warn("Recording stopped with errors", "error", err)
	}
	return nil
}

func printReport(report *session.Report) {
	fmt.Printf("Session length: %s, channels: %d\n", report.Duration.Round(time.Millisecond), report.Channels)
	for _, err := range report.OpenErrors {
		fmt.Printf("  not recorded: %v\n", err)
	}
	if report.Mix == nil {
		return
	}
	for _, skipped := range report.Mix.Skipped {
		fmt.Printf("  not mixed: %s: %v\n", skipped.Path, skipped.Err)
	}
	if report.Output {
		fmt.Printf("Mixed %d source(s) into %s (%s)\n", len(report.Mix.Mixed), report.Destination, report.Mix.Duration().Round(time.Millisecond))
	}
}
