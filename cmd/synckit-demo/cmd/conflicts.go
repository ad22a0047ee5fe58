package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var conflictWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved sync conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		engine, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		rows, err := engine.RawQuery(ctx,
			"SELECT entity_id, entity_type, conflict_type, detected_at FROM sync_conflicts WHERE is_resolved = 0 ORDER BY detected_at DESC",
			nil)
		if err != nil {
			return fmt.Errorf("query conflicts: %w", err)
		}
		if len(rows) == 0 {
			fmt.Println("No unresolved conflicts.")
			return nil
		}

		for _, row := range rows {
			fmt.Printf("%s %s/%s (%v) detected_at=%v\n",
				conflictWarnStyle.Render("!"), row["entity_type"], row["entity_id"],
				row["conflict_type"], row["detected_at"])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
}
