package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the pending action queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		q := queue.New(env.db)
		pending, err := q.GetPending(ctx)
		if err != nil {
			return err
		}
		failed, err := q.GetRetryable(ctx)
		if err != nil {
			return err
		}

		if len(pending) == 0 && len(failed) == 0 {
			fmt.Println(okStyle.Render("Queue is empty."))
			return nil
		}
		for _, a := range pending {
			printAction(a)
		}
		for _, a := range failed {
			printAction(a)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <action-id>",
	Short: "Reset a failed action to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("action-id must be an integer, got %q", args[0])
		}

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		if err := queue.New(env.db).Retry(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Action %d reset to pending; it will be delivered on the next sync.\n", id)
		return nil
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete synced actions from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		n, err := queue.New(env.db).CleanupSynced(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d synced actions.\n", n)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueCleanupCmd)
}

func printAction(a *model.SyncAction) {
	status := string(a.Status)
	switch a.Status {
	case model.StatusFailed:
		status = errStyle.Render(status)
	case model.StatusPending, model.StatusSyncing:
		status = warnStyle.Render(status)
	}
	line := fmt.Sprintf("%d  %s  mr %d  %s  %s", a.ID, status, a.MRID, a.ActionType,
		time.Unix(a.CreatedAt, 0).Format("2006-01-02 15:04:05"))
	if a.RetryCount > 0 {
		line += dimStyle.Render(fmt.Sprintf("  (retries: %d)", a.RetryCount))
	}
	fmt.Println(line)
	if a.LastError != nil && *a.LastError != "" {
		fmt.Println(dimStyle.Render("      " + *a.LastError))
	}
}
