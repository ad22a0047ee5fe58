package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/synckit/internal/testentity"
	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save <title>",
	Short: "Save a new todo item locally as pending sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		engine, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		item := testentity.NewTodoItem(uuid.NewString(), args[0], time.Now().UnixMilli())
		if err := engine.Save(ctx, item); err != nil {
			return fmt.Errorf("save todo: %w", err)
		}

		fmt.Printf("saved %s (%s)\n", item.ID(), item.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saveCmd)
}
