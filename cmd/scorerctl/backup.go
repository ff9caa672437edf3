package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the store to the configured backup sink",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd.Context(), func(core *app.Core) error {
			location, err := core.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(location)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
