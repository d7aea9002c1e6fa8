package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sofmeright/r13y/src/badge"
	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/report"
)

var (
	bgLabel  string
	bgValue  string
	bgColor  string
	bgFrom   string
	bgOutput string
)

var badgeGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the reproducibility badge",
	Long: `Generate an SVG badge.

From a report (default): reads the report.json payload of the report
directory and renders the percentage badge without rerunning the report.
Ad-hoc (--label + --value): renders a single badge from flags.`,
	Args: cobra.NoArgs,
	RunE: runBadgeGenerate,
}

func init() {
	badgeGenerateCmd.Flags().StringVar(&bgLabel, "label", "", "badge label (left side)")
	badgeGenerateCmd.Flags().StringVar(&bgValue, "value", "", "ad-hoc badge value (right side)")
	badgeGenerateCmd.Flags().StringVar(&bgColor, "color", badge.ColorGreen, "ad-hoc badge color (hex)")
	badgeGenerateCmd.Flags().StringVar(&bgFrom, "from", "", "report payload to read (default: <out_dir>/report.json)")
	badgeGenerateCmd.Flags().StringVar(&bgOutput, "output", "", "output file path (default: <out_dir>/<badge.output>)")

	badgeCmd.AddCommand(badgeGenerateCmd)
}

func runBadgeGenerate(cmd *cobra.Command, args []string) error {
	eng, err := newBadgeEngine()
	if err != nil {
		return err
	}

	var b badge.Badge
	if bgLabel != "" && bgValue != "" {
		b = badge.Badge{Label: bgLabel, Value: bgValue, Color: bgColor}
	} else {
		b, err = badgeFromPayload()
		if err != nil {
			return err
		}
	}

	dest := bgOutput
	if dest == "" {
		dest = filepath.Join(cfg.Report.OutDir, cfg.Badge.Output)
	}
	if err := cas.WriteAtomic(dest, []byte(eng.Generate(b))); err != nil {
		return fmt.Errorf("writing badge: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  badge → %s (%s)\n", dest, b)
	return nil
}

func badgeFromPayload() (badge.Badge, error) {
	from := bgFrom
	if from == "" {
		from = filepath.Join(cfg.Report.OutDir, report.PayloadFile)
	}
	data, err := os.ReadFile(from)
	if err != nil {
		return badge.Badge{}, fmt.Errorf("reading report payload: %w", err)
	}
	var p report.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return badge.Badge{}, fmt.Errorf("%s: %w", from, err)
	}

	t := report.Tally{Total: p.TotalCount, Reproducible: p.ReproducedCount, Unchecked: p.UncheckedCount}
	ratio, ok := t.Ratio()
	label := bgLabel
	if label == "" {
		label = cfg.Badge.Label
	}
	return badge.Reproducibility(label, t.Percent(), ratio, ok), nil
}
