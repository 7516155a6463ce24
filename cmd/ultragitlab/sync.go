package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/syncengine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync tick and exit",
	Long: `Fetches open merge requests for every configured instance, reconciles the
local cache, purges merged/closed MRs, and delivers any queued actions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		settings := env.settings.Settings()
		bus := eventbus.New()
		engine := syncengine.New(env.db, bus, env.creds, syncengine.Config{
			IntervalSecs:  settings.Sync.IntervalSecs,
			SyncAuthored:  settings.Sync.SyncAuthored,
			SyncReviewing: settings.Sync.SyncReviewing,
			MaxMRsPerSync: settings.Sync.MaxMrsPerSync,
		})

		sub, unsubscribe := bus.Subscribe()
		defer unsubscribe()
		go func() {
			for ev := range sub {
				if ev.Kind == eventbus.KindSyncProgress && ev.SyncProgress != nil {
					fmt.Printf("  %s: %s\n", ev.SyncProgress.Phase, ev.SyncProgress.Message)
				}
			}
		}()

		engine.RunOnce(ctx)

		status := engine.Status()
		if status.LastError != nil {
			return fmt.Errorf("sync finished with errors: %s", *status.LastError)
		}
		fmt.Printf("Synced %d merge requests.\n", status.LastSyncMRCount)
		return nil
	},
}
