package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sofmeright/r13y/src/badge"
	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/diffcache"
	"github.com/sofmeright/r13y/src/diffoscope"
	"github.com/sofmeright/r13y/src/metrics"
	"github.com/sofmeright/r13y/src/output"
	"github.com/sofmeright/r13y/src/redact"
	"github.com/sofmeright/r13y/src/report"
)

// newDiffer builds the configured diff backend.
func newDiffer() (diffoscope.Differ, error) {
	switch cfg.Diff.Backend {
	case "diffoscope":
		return &diffoscope.Diffoscope{Binary: cfg.Diff.Binary, Args: cfg.Diff.Args, Timeout: cfg.Diff.Timeout}, nil
	case "unified":
		return &diffoscope.Unified{Binary: cfg.Diff.Binary, Timeout: cfg.Diff.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown diff backend %q", cfg.Diff.Backend)
	}
}

// openIndex opens the configured diff index over the report store.
func openIndex(dst *cas.Store) (diffcache.Index, error) {
	if cfg.Index.Backend == "badger" {
		return diffcache.OpenBadgerIndex(dst, diffcache.BadgerConfig{Path: cfg.Index.Path, Logger: logger})
	}
	return diffcache.NewDirIndex(dst, cfg.Report.DiffDir, cfg.Report.Ext), nil
}

// newDiffCache wires the diff cache from config. The returned func closes
// the index.
func newDiffCache(rec *metrics.Recorder) (*diffcache.Cache, *cas.Store, func(), error) {
	differ, err := newDiffer()
	if err != nil {
		return nil, nil, nil, err
	}

	src := cas.Open(cfg.Store.Source)
	dst := cas.Open(cfg.Report.OutDir)
	idx, err := openIndex(dst)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := diffcache.Options{
		Dir:     cfg.Report.DiffDir,
		Ext:     cfg.Report.Ext,
		Differ:  differ,
		Index:   idx,
		Metrics: rec,
		Logger:  logger,
	}
	if cfg.Secrets.Redact {
		opts.Redactor = redact.New()
	}

	closeIndex := func() {
		if err := idx.Close(); err != nil {
			logger.Warn("closing diff index", "error", err)
		}
	}
	return diffcache.New(src, dst, opts), dst, closeIndex, nil
}

// newPublisher wires page template, badge and JUnit outputs from config.
func newPublisher(dst *cas.Store, start time.Time) (*report.Publisher, error) {
	pub := &report.Publisher{Store: dst, DiffLabel: cfg.Report.DiffLabel}

	if cfg.Report.Template != "" {
		text, err := os.ReadFile(cfg.Report.Template)
		if err != nil {
			return nil, fmt.Errorf("reading page template: %w", err)
		}
		page, err := report.ParsePage(string(text))
		if err != nil {
			return nil, fmt.Errorf("parsing page template %s: %w", cfg.Report.Template, err)
		}
		pub.Page = page
	}

	if cfg.Badge.Enabled {
		eng, err := newBadgeEngine()
		if err != nil {
			return nil, err
		}
		pub.Extras = append(pub.Extras, func(s *report.Summary, p report.Payload) (report.File, error) {
			ratio, ok := s.Tally.Ratio()
			b := badge.Reproducibility(cfg.Badge.Label, p.Percent, ratio, ok)
			return report.File{Name: cfg.Badge.Output, Data: []byte(eng.Generate(b))}, nil
		})
	}

	if cfg.JUnit.Enabled {
		pub.Extras = append(pub.Extras, func(s *report.Summary, _ report.Payload) (report.File, error) {
			data, err := output.JUnit(s, time.Since(start))
			if err != nil {
				return report.File{}, err
			}
			return report.File{Name: cfg.JUnit.Output, Data: data}, nil
		})
	}
	return pub, nil
}

func newBadgeEngine() (*badge.Engine, error) {
	m, err := badge.Load(cfg.Badge.Font, cfg.Badge.FontFile, cfg.Badge.FontSize)
	if err != nil {
		return nil, fmt.Errorf("loading badge font: %w", err)
	}
	return badge.New(m, cfg.Badge.Embed), nil
}
