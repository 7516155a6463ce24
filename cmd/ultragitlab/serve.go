package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/companion"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/syncengine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background sync loop and the LAN companion server",
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

		engineDone := make(chan error, 1)
		go func() { engineDone <- engine.Run(ctx) }()

		serverDone := make(chan error, 1)
		if settings.CompanionServer.Enabled {
			server := companion.New(env.db, env.settings, engine, bus)
			go func() { serverDone <- server.Run(ctx) }()
		} else {
			applog.Info("serve: companion server disabled in settings")
			serverDone <- nil
		}

		applog.Info("serve: running (interval %ds)", settings.Sync.IntervalSecs)

		// Either goroutine failing (or the signal context canceling both)
		// ends the process; wait for both so shutdown is fully drained.
		var firstErr error
		for i := 0; i < 2; i++ {
			var err error
			select {
			case err = <-engineDone:
				engineDone = nil
			case err = <-serverDone:
				serverDone = nil
			}
			if err != nil && firstErr == nil {
				firstErr = err
				stop()
			}
		}
		return firstErr
	},
}
