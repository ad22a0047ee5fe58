package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/synckit/store"
	"github.com/spf13/cobra"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pushArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("→")
	pullArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("←")
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current sync status and recent sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		engine, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		snap := engine.Status()
		connLine := okStyle.Render("online")
		if !snap.IsOnline {
			connLine = warnStyle.Render("offline")
		}
		fmt.Printf("connectivity: %s\n", connLine)
		fmt.Printf("pending: %d  failed: %d\n", snap.PendingCount, snap.FailedCount)
		if snap.LastError != nil {
			fmt.Printf("last error: %s\n", warnStyle.Render(*snap.LastError))
		}

		history, err := engine.SyncHistoryTail(ctx, 20)
		if err != nil {
			return fmt.Errorf("load sync history: %w", err)
		}
		if len(history) == 0 {
			fmt.Println("No sync activity recorded.")
			return nil
		}

		fmt.Println("\nrecent activity:")
		for _, entry := range history {
			printHistoryEntry(entry)
		}
		return nil
	},
}

func printHistoryEntry(e store.HistoryEntry) {
	arrow := pullArrow
	if e.Direction == "push" {
		arrow = pushArrow
	}
	ts := dimStyle.Render(time.UnixMilli(e.Timestamp).Format("15:04:05"))
	line := fmt.Sprintf("%s %s %s %s/%s", ts, arrow, e.Direction, e.EntityType, truncateID(e.EntityID, 16))
	if e.Direction == "pull" && e.DeviceID != "" {
		line += fmt.Sprintf(" from:%s", truncateID(e.DeviceID, 12))
	}
	fmt.Println(line)
}

func truncateID(id string, max int) string {
	if len(id) <= max {
		return id
	}
	return id[:max-3] + "..."
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
