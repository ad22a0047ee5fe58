// Package cmd implements the synckit-demo CLI commands using cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/synckit"
	"github.com/marcus/synckit/conflict"
	"github.com/marcus/synckit/internal/applog"
	"github.com/marcus/synckit/internal/syncconfig"
	"github.com/marcus/synckit/internal/testentity"
	"github.com/marcus/synckit/syncengine"
	"github.com/spf13/cobra"
)

var (
	dbPathFlag string
	serverFlag string
)

var rootCmd = &cobra.Command{
	Use:   "synckit-demo",
	Short: "Example CLI exercising the synckit offline-first sync facade",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", defaultDBPath(), "path to the local SQLite database")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "remote sync server base URL (overrides SYNCKIT_SYNC_URL)")
}

func defaultDBPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "synckit-demo.db"
	}
	return filepath.Join(dir, ".local", "share", "synckit-demo", "todos.db")
}

// openEngine wires a synckit.Engine for the demo's single "todos" table,
// the same init order every subcommand needs (open db -> register entity
// -> register resolver).
func openEngine(ctx context.Context) (*synckit.Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPathFlag), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	serverURL := serverFlag
	if serverURL == "" {
		serverURL = syncconfig.GetServerURL()
	}

	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}

	engine, err := synckit.New(ctx, synckit.Options{
		DBPath:         dbPathFlag,
		ServerURL:      serverURL,
		RequestTimeout: 30 * time.Second,
		Logger:         applog.FromEnv(),
		Sync: syncengine.Config{
			MaxRetries:       syncconfig.GetMaxRetries(),
			BatchSize:        syncconfig.GetBatchSize(),
			AutoSyncInterval: syncconfig.GetAutoSyncInterval(),
			DeviceID:         deviceID,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := engine.RegisterEntity(ctx, "todos", "/todos", testentity.Factory); err != nil {
		return nil, fmt.Errorf("register todos entity: %w", err)
	}
	engine.RegisterConflictResolver(conflict.StrategyResolver{
		ResolverName:     "use_latest",
		ResolverPriority: 10,
		Strategy:         conflict.UseLatest,
	})

	return engine, nil
}
