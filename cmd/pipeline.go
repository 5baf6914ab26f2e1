package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/audiolibrelab/callcapture/internal/service"
)

func executePipeline(svc *service.CallCaptureService, callName string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	return runSteps(svc, callName, steps[startIndex+1:])
}

func runSteps(svc *service.CallCaptureService, callName string, steps []rune) error {
	for i, step := range steps {
		fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)

		switch step {
		case 'r':
			if err := startRecording(svc, callName); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}

			// Wait for user input to stop recording
			fmt.Println("Pipeline: recording - Press Enter to stop...")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Scan()

			if err := stopRecording(svc); err != nil {
				return fmt.Errorf("pipeline record stop failed: %w", err)
			}
			fmt.Println("Pipeline: recording completed")

		case 'p':
			if err := svc.Play(context.Background(), callName); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			fmt.Println("Pipeline: playback completed")

		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record, stop and mix
		'p': true, // play
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}
