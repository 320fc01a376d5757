package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/omnicall/internal/buildinfo"
)

func (r *root) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets removed",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			out, err := r.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(r.stdout, out)
			return err
		},
	})
	return cmd
}

func (r *root) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(r.stdout, buildinfo.String())
			return err
		},
	}
}
