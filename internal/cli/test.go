package cli

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	"github.com/GriffinCanCode/omnicall/internal/server"
)

func (r *root) testCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send one test notification to every registered device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var s *spinner.Spinner
			if isTerminal(r.stderr) {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(r.stderr))
				s.Suffix = " sending test notification"
				s.Start()
			}
			res, err := a.SendTest(ctx, message)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}
			printResult(r, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", server.TestMessage, "notification body")
	return cmd
}

func printResult(r *root, res dispatch.Result) {
	if res.Attempted == 0 {
		fmt.Fprintln(r.stdout, "no registered devices")
		return
	}
	fmt.Fprintf(r.stdout, "sent to %d/%d device(s)\n", res.Succeeded, res.Attempted)
	for _, o := range res.Outcomes {
		if !o.OK {
			fmt.Fprintf(r.stdout, "  %s: %s\n", o.TokenPrefix, o.Detail)
		}
	}
}
