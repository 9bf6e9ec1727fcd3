package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-lease/internal/client"
)

func enqueueCmd(newClient func() *client.Client) *cobra.Command {
	var (
		payload  string
		config   string
		retries  int
		priority int64
	)
	cmd := &cobra.Command{
		Use:   "enqueue [topic]",
		Short: "Create a job on a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVariables(payload)
			if err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
			p := client.EnqueueParams{
				Topic:                args[0],
				HandlerConfiguration: config,
				Payload:              vars,
				Priority:             priority,
			}
			if cmd.Flags().Changed("retries") {
				p.Retries = &retries
			}
			id, err := newClient().Enqueue(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "job payload as a JSON object")
	cmd.Flags().StringVar(&config, "handler-config", "", "opaque handler configuration")
	cmd.Flags().IntVar(&retries, "retries", 3, "retry budget")
	cmd.Flags().Int64Var(&priority, "priority", 0, "priority, higher first")
	return cmd
}

func fetchCmd(newClient func() *client.Client) *cobra.Command {
	var (
		workerID     string
		maxTasks     int
		lockDuration string
		usePriority  bool
	)
	cmd := &cobra.Command{
		Use:   "fetch [topic...]",
		Short: "Fetch and lock jobs from one or more topics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := client.FetchParams{
				WorkerID:    workerID,
				MaxTasks:    maxTasks,
				UsePriority: usePriority,
			}
			for _, topic := range args {
				p.Topics = append(p.Topics, client.FetchTopic{TopicName: topic, LockDuration: lockDuration})
			}
			jobs, err := newClient().FetchAndLock(cmd.Context(), p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().IntVar(&maxTasks, "max", 1, "maximum number of jobs")
	cmd.Flags().StringVar(&lockDuration, "lock", "PT5M", "lease duration (ISO 8601)")
	cmd.Flags().BoolVar(&usePriority, "priority", false, "order candidates by priority")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func completeCmd(newClient func() *client.Client) *cobra.Command {
	var (
		workerID  string
		variables string
	)
	cmd := &cobra.Command{
		Use:   "complete [job-id]",
		Short: "Complete a held job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVariables(variables)
			if err != nil {
				return fmt.Errorf("invalid --variables: %w", err)
			}
			if err := newClient().Complete(cmd.Context(), args[0], workerID, vars); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s completed\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id holding the lease")
	cmd.Flags().StringVar(&variables, "variables", "", "output variables as a JSON object")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func failCmd(newClient func() *client.Client) *cobra.Command {
	var (
		p      client.FailParams
		detail string
	)
	cmd := &cobra.Command{
		Use:   "fail [job-id]",
		Short: "Report a failure of a held job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("details") {
				p.ErrorDetails = &detail
			}
			state, err := newClient().Fail(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", args[0], state)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.WorkerID, "worker", "", "worker id holding the lease")
	cmd.Flags().IntVar(&p.Retries, "retries", 0, "remaining retries; 0 moves the job to dead letter")
	cmd.Flags().StringVar(&p.RetryTimeout, "retry-timeout", "", "backoff before the job is visible again (ISO 8601)")
	cmd.Flags().StringVar(&p.ErrorMessage, "message", "", "error message")
	cmd.Flags().StringVar(&detail, "details", "", "error details")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("retries")
	return cmd
}
