package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/r13y/src/derivation"
	"github.com/sofmeright/r13y/src/gitrev"
	"github.com/sofmeright/r13y/src/metrics"
	"github.com/sofmeright/r13y/src/outcome"
	"github.com/sofmeright/r13y/src/output"
	"github.com/sofmeright/r13y/src/report"
)

var (
	rpRequest     string
	rpToBuild     string
	rpResults     string
	rpRevision    string
	rpNixpkgs     string
	rpOut         string
	rpSource      string
	rpConcurrency int
	rpOnDiffError string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the reproducibility report",
	Long: `Generate the reproducibility report for one nixpkgs revision.

Outcomes recorded for other revisions or for definitions outside the
to-build list are ignored. If any considered definition never completed its
first build the run fails and no report is written.

Each distinct pair of differing output hashes is diffed once and kept under
<out>/<diff_dir>; later runs reuse artifacts already on disk.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&rpRequest, "request", "", "request file (default: from config, then request.json)")
	reportCmd.Flags().StringVar(&rpToBuild, "to-build", "", "definitions in scope, one per line")
	reportCmd.Flags().StringVar(&rpResults, "results", "", "recorded outcomes, one JSON object per line")
	reportCmd.Flags().StringVar(&rpRevision, "revision", "", "nixpkgs revision (overrides the request file)")
	reportCmd.Flags().StringVar(&rpNixpkgs, "nixpkgs", "", "nixpkgs checkout to resolve --revision (or HEAD) in")
	reportCmd.Flags().StringVar(&rpOut, "out", "", "report directory")
	reportCmd.Flags().StringVar(&rpSource, "source", "", "content store holding build outputs")
	reportCmd.Flags().IntVar(&rpConcurrency, "concurrency", -1, "unreproducible definitions processed in parallel (0: one per CPU)")
	reportCmd.Flags().StringVar(&rpOnDiffError, "on-diff-error", "", "abort or annotate")

	rootCmd.AddCommand(reportCmd)
}

// applyReportFlags folds flags into cfg: CLI flag > config > default.
func applyReportFlags() {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Input.Request, rpRequest)
	set(&cfg.Input.ToBuild, rpToBuild)
	set(&cfg.Input.Results, rpResults)
	set(&cfg.Input.Revision, rpRevision)
	set(&cfg.Input.Nixpkgs, rpNixpkgs)
	set(&cfg.Report.OutDir, rpOut)
	set(&cfg.Store.Source, rpSource)
	set(&cfg.Report.OnDiffError, rpOnDiffError)
	if rpConcurrency >= 0 {
		cfg.Report.Concurrency = rpConcurrency
	}
}

// loadRequest names the revision under test: a nixpkgs checkout wins, then
// an explicit revision, then the request file.
func loadRequest() (outcome.Request, error) {
	if cfg.Input.Nixpkgs != "" {
		rev, err := gitrev.Resolve(cfg.Input.Nixpkgs, cfg.Input.Revision)
		if err != nil {
			return outcome.Request{}, err
		}
		if rev.Dirty {
			logger.Warn("nixpkgs checkout has uncommitted changes", "dir", cfg.Input.Nixpkgs, "revision", rev.Short())
		}
		return outcome.NewRequest(rev.Hash), nil
	}
	if cfg.Input.Revision != "" {
		return outcome.NewRequest(cfg.Input.Revision), nil
	}
	req, err := outcome.ReadRequest(cfg.Input.Request)
	if err != nil {
		return outcome.Request{}, err
	}
	if !req.Compatible() {
		return outcome.Request{}, fmt.Errorf("%s: unsupported request version %s", cfg.Input.Request, req.Version)
	}
	return req, nil
}

func runReport(cmd *cobra.Command, args []string) error {
	applyReportFlags()
	if err := validateConfig(); err != nil {
		return err
	}

	start := time.Now()
	ctx := cmd.Context()
	color := output.UseColor()
	output.CIHeader(os.Stdout)

	req, err := loadRequest()
	if err != nil {
		return fmt.Errorf("loading request: %w", err)
	}
	eval := outcome.FileEvaluator{ToBuildPath: cfg.Input.ToBuild, ResultsPath: cfg.Input.Results}
	inst, err := eval.Evaluate(ctx, req)
	if err != nil {
		return fmt.Errorf("loading evaluation: %w", err)
	}
	logger.Info("evaluation loaded", "revision", req.NixpkgsRevision, "to_build", len(inst.ToBuild), "results", len(inst.Results))

	refs, err := cfg.CrossRefs()
	if err != nil {
		return fmt.Errorf("loading links: %w", err)
	}

	rec := metrics.New()
	cache, dst, closeIndex, err := newDiffCache(rec)
	if err != nil {
		return err
	}
	defer closeIndex()

	pub, err := newPublisher(dst, start)
	if err != nil {
		return err
	}

	agg := &report.Aggregator{
		Parser:      derivation.FileParser{Root: cfg.Report.DrvRoot},
		Diffs:       cache,
		CrossRefs:   refs,
		Concurrency: cfg.Report.Concurrency,
		Policy:      report.DiffPolicy(cfg.Report.OnDiffError),
		Logger:      logger,
	}

	output.SectionStart(os.Stdout, "r13y_report", "Reproducibility report")
	summary, written, err := report.Generate(ctx, agg, pub, req, inst)
	output.SectionEnd(os.Stdout, "r13y_report")
	if err != nil {
		var incomplete *report.IncompleteVerificationError
		if errors.As(err, &incomplete) {
			output.Incomplete(os.Stdout, incomplete, color)
		}
		return err
	}

	ratio, _ := summary.Tally.Ratio()
	rec.ObserveReport(map[string]int{
		outcome.Reproducible.String():   summary.Tally.Reproducible,
		outcome.SecondFailed.String():   summary.Tally.Unchecked,
		outcome.Unreproducible.String(): summary.Tally.Unreproducible,
	}, ratio, summary.GeneratedAt)
	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return err
		}
	}

	output.Summary(os.Stdout, summary, cache.Stats(), time.Since(start), color)
	if verbose {
		output.Entries(os.Stdout, summary.Entries, color)
	}
	logger.Info("report written", "dir", cfg.Report.OutDir, "files", len(written), "run_id", summary.RunID)
	return nil
}
