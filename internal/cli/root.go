// Package cli implements the omnicall command tree.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/GriffinCanCode/omnicall/internal/app"
	"github.com/GriffinCanCode/omnicall/internal/buildinfo"
	"github.com/GriffinCanCode/omnicall/internal/config"
	"github.com/GriffinCanCode/omnicall/internal/logging"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

type root struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	// appOptions are passed to every app.New; tests inject fakes here.
	appOptions app.Options
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newRoot(stdout, stderr, app.Options{})
}

func newRoot(stdout, stderr io.Writer, opts app.Options) *cobra.Command {
	r := &root{stdout: stdout, stderr: stderr, appOptions: opts}

	cmd := &cobra.Command{
		Use:           "omnicall",
		Short:         "Watch the screen for a template and notify your devices",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] != "" {
				return nil
			}
			return r.load()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&r.configPath, "config", "", "path to a JSON config file layered over ~/.omnicall/config.json")
	flags.StringVar(&r.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flags.StringVar(&r.logFormat, "log-format", "", "override log format (text, json)")

	cmd.AddCommand(
		r.runCommand(),
		r.testCommand(),
		r.statsCommand(),
		r.registerCommand(),
		r.tokenCommand(),
		r.feedbackCommand(),
		r.calibrateCommand(),
		r.configCommand(),
		r.versionCommand(),
	)
	return cmd
}

func (r *root) load() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.Log.Level = r.logLevel
	}
	if r.logFormat != "" {
		cfg.Log.Format = r.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := logging.FromConfig(cfg.Log)
	opts.Output = r.stderr
	if _, err := logging.Setup(opts); err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

func (r *root) newApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, r.cfg, r.appOptions)
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		red := color.New(color.FgRed, color.Bold)
		if !isTerminal(os.Stderr) {
			red.DisableColor()
		}
		red.Fprint(os.Stderr, "error: ")
		_, _ = io.WriteString(os.Stderr, err.Error()+"\n")
		return 1
	}
	return 0
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
