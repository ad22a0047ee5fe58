package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local database and bootstrap the todos table",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(context.Background())
		if err != nil {
			return err
		}
		defer engine.Close()

		fmt.Printf("initialized database at %s\n", dbPathFlag)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
