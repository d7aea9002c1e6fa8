package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/output"
)

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded diff artifacts",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	if err := validateConfig(); err != nil {
		return err
	}
	dst := cas.Open(cfg.Report.OutDir)
	idx, err := openIndex(dst)
	if err != nil {
		return err
	}
	defer idx.Close()

	recs, err := idx.List()
	if err != nil {
		return err
	}

	color := output.UseColor()
	sec := output.NewSection(os.Stdout, "Diff cache", 0, color)
	for _, r := range recs {
		when := "-"
		if !r.ComputedAt.IsZero() {
			when = r.ComputedAt.Format(time.DateTime)
		}
		sec.Row("%-40s %-10s %s %s", r.Artifact, r.Output, output.Dimmed(when, color), redactionNote(r.Redactions))
	}
	sec.Separator()
	sec.KV("artifacts", len(recs))
	sec.Close()
	return nil
}

func redactionNote(n int) string {
	if n == 0 {
		return ""
	}
	if n == 1 {
		return "(1 secret redacted)"
	}
	return fmt.Sprintf("(%d secrets redacted)", n)
}
