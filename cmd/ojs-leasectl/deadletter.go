package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-lease/internal/client"
	"github.com/openjobspec/ojs-lease/internal/core"
)

func deadLetterCmd(newClient func() *client.Client) *cobra.Command {
	dlCmd := &cobra.Command{
		Use:     "dead-letter",
		Aliases: []string{"dlq"},
		Short:   "Manage dead letter jobs",
	}

	var (
		topic  string
		limit  int
		offset int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := newClient().ListDeadLetter(cmd.Context(), topic, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(page.Jobs) == 0 {
				fmt.Fprintln(out, "No dead letter jobs.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTOPIC\tFAILED AT\tMESSAGE")
			for _, j := range page.Jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Topic, core.FormatTime(j.FailedAt), j.ExceptionMessage)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d\n", len(page.Jobs), page.Pagination.Total)
			return nil
		},
	}
	listCmd.Flags().StringVar(&topic, "topic", "", "filter by topic")
	listCmd.Flags().IntVar(&limit, "limit", 50, "page size")
	listCmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	getCmd := &cobra.Command{
		Use:   "get [job-id]",
		Short: "Show a dead letter job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().GetDeadLetter(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	var retries int
	reviveCmd := &cobra.Command{
		Use:   "revive [job-id]",
		Short: "Move a dead letter job back to its topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Revive(cmd.Context(), args[0], retries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s revived with %d retries\n", args[0], retries)
			return nil
		},
	}
	reviveCmd.Flags().IntVar(&retries, "retries", core.DefaultRetries, "new retry budget")

	deleteCmd := &cobra.Command{
		Use:   "delete [job-id]",
		Short: "Delete a dead letter job permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteDeadLetter(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s deleted\n", args[0])
			return nil
		},
	}

	dlCmd.AddCommand(listCmd, getCmd, reviveCmd, deleteCmd)
	return dlCmd
}
