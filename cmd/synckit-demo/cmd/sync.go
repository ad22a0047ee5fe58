package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one push/pull sync pass against the remote server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		engine, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.Sync(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		snap := engine.Status()
		fmt.Printf("sync complete: online=%v pending=%d failed=%d\n",
			snap.IsOnline, snap.PendingCount, snap.FailedCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
