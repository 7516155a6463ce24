package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/config"
	"github.com/ultragitlab/ultragitlab/internal/credential"
)

var (
	flagDataDir string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ultragitlab",
	Short: "Local-first merge request review client",
	Long: `ultragitlab keeps a local cache of your open merge requests, queues your
approvals and comments while offline, and syncs them upstream in the
background. Run "ultragitlab setup" first, then "ultragitlab serve" to
start the sync loop and the LAN companion server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory (default: per-user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(companionCmd)
}

// appEnv bundles what nearly every command needs: resolved paths, loaded
// settings, the open cache database, and the credential store.
type appEnv struct {
	dataDir  string
	settings *config.Manager
	db       *cachedb.DB
	creds    credential.Store
}

func (e *appEnv) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// openEnv resolves the data directory, loads settings, and opens the cache
// database (running migrations on first open).
func openEnv(ctx context.Context) (*appEnv, error) {
	dataDir := flagDataDir
	if dataDir == "" {
		var err error
		dataDir, err = config.DefaultDataDir()
		if err != nil {
			return nil, err
		}
	}

	level := applog.LevelInfo
	if flagVerbose {
		level = applog.LevelDebug
	}
	applog.SetDefault(applog.New(applog.Config{
		FilePath:   filepath.Join(dataDir, "ultragitlab.log"),
		Level:      level,
		AlsoStderr: flagVerbose,
	}))

	settings, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}

	db, err := cachedb.Open(ctx, filepath.Join(dataDir, "ultra-gitlab.db"), cachedb.Config{})
	if err != nil {
		return nil, err
	}

	return &appEnv{
		dataDir:  dataDir,
		settings: settings,
		db:       db,
		creds:    credential.NewFileStore(filepath.Join(dataDir, "credentials.json")),
	}, nil
}
