package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var diffSource string

var diffCmd = &cobra.Command{
	Use:   "diff OUTPUT HASH_A HASH_B",
	Short: "Resolve one diff through the cache",
	Long: `Resolve the diff of one output between two content hashes and print the
artifact path. The artifact is computed only if it is not already on disk.`,
	Args: cobra.ExactArgs(3),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().StringVar(&diffSource, "source", "", "content store holding build outputs")
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	if diffSource != "" {
		cfg.Store.Source = diffSource
	}
	if err := validateConfig(); err != nil {
		return err
	}

	cache, _, closeIndex, err := newDiffCache(nil)
	if err != nil {
		return err
	}
	defer closeIndex()

	ref, err := cache.ResolveHashes(cmd.Context(), args[0], args[1], args[2])
	if err != nil {
		return err
	}
	logger.Debug("diff resolved", "key", ref.Key.String(), "source", ref.Source, "redactions", ref.Redactions)
	fmt.Fprintln(cmd.OutOrStdout(), ref.Path)
	return nil
}
