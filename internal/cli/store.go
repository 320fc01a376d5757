package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/omnicall/internal/server"
)

func (r *root) statsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show personal and global counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			personal, global, err := a.Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(r.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(server.StatsResponse{Personal: personal, Global: global})
			}

			fmt.Fprintf(r.stdout, "user                %s\n", personal.UserID)
			fmt.Fprintf(r.stdout, "matches found       %d\n", personal.MatchesFound)
			fmt.Fprintf(r.stdout, "notifications sent  %d\n", personal.NotificationsSent)
			fmt.Fprintf(r.stdout, "last match          %s\n", formatTime(personal.LastMatchAt))
			fmt.Fprintln(r.stdout)
			fmt.Fprintf(r.stdout, "total users         %d\n", global.TotalUsers)
			fmt.Fprintf(r.stdout, "users today         %d\n", global.UsersToday)
			fmt.Fprintf(r.stdout, "total matches       %d\n", global.TotalMatches)
			fmt.Fprintf(r.stdout, "total sends         %d\n", global.TotalSends)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (r *root) registerCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a user and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Register(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.stdout, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display label for the user")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (r *root) tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage device tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <token>",
		Short: "Register a device token for engine.user_id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.AddToken(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(r.stdout, "token added for %s\n", a.Config().Engine.UserID)
			return nil
		},
	})
	return cmd
}

func (r *root) feedbackCommand() *cobra.Command {
	var name, message string
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Send feedback to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.SubmitFeedback(ctx, name, message); err != nil {
				return err
			}
			fmt.Fprintln(r.stdout, "thanks for the feedback")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&message, "message", "", "feedback text")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
