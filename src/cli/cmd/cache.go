package cmd

import "github.com/spf13/cobra"

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect persisted diff artifacts",
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}
