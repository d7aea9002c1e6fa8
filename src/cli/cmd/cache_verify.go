package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/diffcache"
	"github.com/sofmeright/r13y/src/output"
)

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report index records whose artifact file is gone",
	Args:  cobra.NoArgs,
	RunE:  runCacheVerify,
}

func init() {
	cacheCmd.AddCommand(cacheVerifyCmd)
}

func runCacheVerify(cmd *cobra.Command, args []string) error {
	if err := validateConfig(); err != nil {
		return err
	}
	dst := cas.Open(cfg.Report.OutDir)
	idx, err := openIndex(dst)
	if err != nil {
		return err
	}
	defer idx.Close()

	missing, err := diffcache.Missing(idx, dst)
	if err != nil {
		return err
	}

	color := output.UseColor()
	sec := output.NewSection(os.Stdout, "Diff cache verify", 0, color)
	if len(missing) == 0 {
		sec.Row("%s all recorded artifacts present", output.StatusIcon("success", color))
		sec.Close()
		return nil
	}
	for _, r := range missing {
		sec.Row("%s %s", output.StatusIcon("failed", color), r.Artifact)
	}
	sec.Close()
	return fmt.Errorf("%d recorded artifacts are missing; they will be recomputed on the next run", len(missing))
}
