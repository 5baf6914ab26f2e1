package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [call-name]",
	Short: "Execute pipeline steps on a call",
	Long: `Execute the specified pipeline steps on a call. Use -p to specify which steps to run,
e.g. 'rp' records (stopping on Enter) and then plays the mixed file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rp)")
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		return runSteps(svc, args[0], []rune(strings.ToLower(pipeline)))
	},
}
