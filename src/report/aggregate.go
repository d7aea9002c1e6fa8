// Package report turns build outcomes into a reproducibility report: it
// tallies the considered outcomes, refuses incomplete runs, drills into each
// unreproducible definition through the diff cache and renders the result.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sofmeright/r13y/src/derivation"
	"github.com/sofmeright/r13y/src/diffcache"
	"github.com/sofmeright/r13y/src/outcome"
)

// DiffPolicy decides what a failed diff does to the run.
type DiffPolicy string

const (
	// PolicyAbort fails the whole run; an unrendered diff would break the
	// report's links.
	PolicyAbort DiffPolicy = "abort"
	// PolicyAnnotate records the failure on the entry and carries on.
	PolicyAnnotate DiffPolicy = "annotate"
)

// DiffResolver is the part of the diff cache the aggregator needs.
type DiffResolver interface {
	ResolveHashes(ctx context.Context, output, hashA, hashB string) (diffcache.Ref, error)
}

// DiffLink is one rendered diff of an entry.
type DiffLink struct {
	Output     string
	Href       string
	Redactions int
}

// DiffFailure is a diff that could not be produced under PolicyAnnotate.
type DiffFailure struct {
	Output string
	Reason string
}

// Entry describes one unreproducible definition.
type Entry struct {
	Definition string
	Links      []string
	Diffs      []DiffLink
	Missing    []string
	Failures   []DiffFailure
}

// DefinitionHref links to the definition file as published next to the report.
func (e Entry) DefinitionHref() string {
	return "./" + filepath.ToSlash(filepath.Clean("/" + e.Definition))[1:]
}

// Summary is the in-memory result of one report run.
type Summary struct {
	RunID       string
	Revision    string
	GeneratedAt time.Time
	Tally       Tally
	Entries     []Entry
	Considered  []outcome.Outcome
}

// Aggregator builds a Summary from an evaluation.
type Aggregator struct {
	Parser      derivation.Parser
	Diffs       DiffResolver
	CrossRefs   CrossRefs
	Concurrency int
	Policy      DiffPolicy
	Logger      *slog.Logger
	Now         func() time.Time
}

func (a *Aggregator) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.Logger
}

// Run classifies the outcomes of inst that match req, fails fast when any
// considered definition never completed a first build, and otherwise builds
// one entry per unreproducible outcome. Entries keep the arrival order of
// the outcomes no matter in which order their diffs complete.
func (a *Aggregator) Run(ctx context.Context, req outcome.Request, inst *outcome.Instantiation) (*Summary, error) {
	log := a.logger()
	considered := outcome.Filter(inst.Results, outcome.MatchRevision(req.NixpkgsRevision), inst.Scope())
	tally := Count(considered)
	log.Info("classified outcomes",
		"revision", req.NixpkgsRevision,
		"total", tally.Total,
		"reproducible", tally.Reproducible,
		"unchecked", tally.Unchecked,
		"unreproducible", tally.Unreproducible,
		"first_failed", len(tally.FirstFailed))

	if len(tally.FirstFailed) > 0 {
		return nil, &IncompleteVerificationError{Definitions: tally.FirstFailed}
	}

	unreproducible := outcome.Partition(considered).Unreproducible
	entries := make([]Entry, len(unreproducible))

	limit := a.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, o := range unreproducible {
		g.Go(func() error {
			e, err := a.entry(gctx, o)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return &Summary{
		RunID:       uuid.NewString(),
		Revision:    req.NixpkgsRevision,
		GeneratedAt: now().UTC(),
		Tally:       tally,
		Entries:     entries,
		Considered:  considered,
	}, nil
}

func (a *Aggregator) entry(ctx context.Context, o outcome.Outcome) (Entry, error) {
	log := a.logger().With("drv", o.Drv)

	drv, err := a.Parser.Parse(o.Drv)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Definition: o.Drv, Links: a.CrossRefs.Matches(o.Drv)}
	for _, name := range o.Status.OutputNames() {
		pair := o.Status.Hashes[name]
		location, ok := drv.Output(name)
		if !ok {
			log.Warn("no output named", "output", name)
			e.Missing = append(e.Missing, name)
			continue
		}

		log.Debug("resolving diff", "output", name, "a", pair.A, "b", pair.B)
		ref, err := a.Diffs.ResolveHashes(ctx, filepath.Base(location), pair.A, pair.B)
		if err != nil {
			var ce *diffcache.ComputationError
			if a.Policy == PolicyAnnotate && errors.As(err, &ce) {
				log.Warn("diff failed, annotating entry", "output", name, "error", err)
				e.Failures = append(e.Failures, DiffFailure{Output: name, Reason: ce.Err.Error()})
				continue
			}
			return Entry{}, fmt.Errorf("%s: %w", o.Drv, err)
		}
		e.Diffs = append(e.Diffs, DiffLink{Output: name, Href: ref.Href(), Redactions: ref.Redactions})
	}
	return e, nil
}
