package cli

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/omnicall/internal/server"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

func (r *root) runCommand() *cobra.Command {
	var (
		req     server.StartRequest
		noStart bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detector and its control surfaces until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.Bus().Subscribe("console", 0)
			if err != nil {
				return err
			}
			go newConsole(r.stdout, isTerminal(r.stdout)).run(sub)

			if !noStart {
				if err := a.StartEngine(ctx, req); err != nil {
					return err
				}
			}

			err = a.Serve(ctx)
			trace.Logger(ctx).Info("shutting down")
			return err
		},
	}
	cmd.Flags().StringVar(&req.TemplatePath, "template", "", "template image, overrides engine.template_path")
	cmd.Flags().Float64Var(&req.Threshold, "threshold", 0, "match threshold, overrides engine.threshold")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "serve the control surfaces without starting detection")
	return cmd
}
