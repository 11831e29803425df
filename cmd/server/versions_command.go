package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/thumbforge/internal/auth"
)

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "Inspect and maintain composition version history",
	}

	versionsCmd.AddCommand(newVersionsListCommand(ctx))
	versionsCmd.AddCommand(newVersionsCleanupCommand(ctx))

	return versionsCmd
}

func newVersionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <composition-id>",
		Short: "Show the version history of a composition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid composition id: %w", err)
			}
			a, err := ctx.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			history, err := a.engine.GetVersionHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (current version %d, %s)\n", history.Name, history.CurrentVersion, history.Status)
			if len(history.Versions) == 0 {
				fmt.Fprintln(out, "No versions recorded")
				return nil
			}

			const stampLayout = "2006-01-02 15:04"
			rows := make([][]string, 0, len(history.Versions))
			for _, v := range history.Versions {
				rows = append(rows, []string{
					strconv.Itoa(v.VersionNumber),
					v.CreatedAt.Local().Format(stampLayout),
					v.CreatedBy,
					string(v.Snapshot.Status),
					yesNo(v.IsPublished),
					v.ChangeSummary,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Version", "Created", "Author", "Status", "Published", "Summary"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
}

func newVersionsCleanupCommand(ctx *commandContext) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup <composition-id>",
		Short: "Delete unpublished versions older than the retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid composition id: %w", err)
			}
			a, err := ctx.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			days := a.engine.RetentionDays()
			if cmd.Flags().Changed("retention-days") {
				days = retentionDays
			}
			runCtx := auth.ContextWithActorID(cmd.Context(), auth.SystemActor)
			result, err := a.engine.CleanupOldVersions(runCtx, id, days)
			if err != nil {
				return err
			}
			printCleanup(cmd.OutOrStdout(), result.DeletedVersions, result.RetentionDays)
			return nil
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Override the configured retention window")
	return cmd
}

func printCleanup(out io.Writer, deleted, days int) {
	if deleted == 0 {
		fmt.Fprintf(out, "No unpublished versions older than %d days\n", days)
		return
	}
	fmt.Fprintf(out, "Deleted %d unpublished version(s) older than %d days\n", deleted, days)
}
