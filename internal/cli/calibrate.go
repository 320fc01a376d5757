package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/omnicall/internal/calibrate"
	"github.com/GriffinCanCode/omnicall/internal/config"
	"github.com/GriffinCanCode/omnicall/internal/match"
)

func (r *root) calibrateCommand() *cobra.Command {
	var (
		templatePath string
		threshold    float64
		skip         int
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "calibrate <dir>",
		Short: "Score sample screenshots against the template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if templatePath == "" {
				templatePath = r.cfg.Engine.TemplatePath
			}
			if threshold == 0 {
				threshold = r.cfg.Engine.Threshold
			}

			tmpl, err := match.Load(config.ExpandHome(templatePath))
			if err != nil {
				return err
			}
			paths, err := calibrate.Images(args[0])
			if err != nil {
				return err
			}

			var progress io.Writer
			if isTerminal(r.stderr) {
				progress = r.stderr
			}
			rep, err := calibrate.Run(cmd.Context(), tmpl, paths, calibrate.Options{
				Threshold:    threshold,
				SkipDistance: skip,
				Scorer:       match.NewScorer(match.Options{Downsample: r.cfg.Engine.Downsample}),
				Progress:     progress,
			})
			if err != nil {
				return err
			}

			if verbose {
				for _, s := range rep.Samples {
					fmt.Fprintf(r.stdout, "%.3f  %s\n", s.Score, s.Path)
				}
				fmt.Fprintln(r.stdout)
			}
			fmt.Fprintf(r.stdout, "template   %s (%dx%d)\n", tmpl.Fingerprint(), tmpl.Width(), tmpl.Height())
			fmt.Fprintf(r.stdout, "scored     %d (skipped %d near-duplicate, %d unreadable)\n", len(rep.Samples), rep.Skipped, rep.Failed)
			fmt.Fprintf(r.stdout, "min        %.3f\n", rep.Min)
			fmt.Fprintf(r.stdout, "max        %.3f\n", rep.Max)
			fmt.Fprintf(r.stdout, "mean       %.3f\n", rep.Mean)
			fmt.Fprintf(r.stdout, "triggers   %d at threshold %.3f\n", rep.AboveThreshold, rep.Threshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&templatePath, "template", "", "template image, defaults to engine.template_path")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "threshold to count triggers at, defaults to engine.threshold")
	cmd.Flags().IntVar(&skip, "skip-distance", calibrate.DefaultSkipDistance, "pHash distance treated as a duplicate; negative disables")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every sample score")
	return cmd
}
