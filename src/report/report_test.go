package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/derivation"
	"github.com/sofmeright/r13y/src/diffcache"
	"github.com/sofmeright/r13y/src/outcome"
)

const rev = "2436c27541b2f52deea3a4c1691216a02152e729"

type mapParser map[string]string

func (m mapParser) Parse(id string) (*derivation.Derivation, error) {
	data, ok := m[id]
	if !ok {
		return nil, &derivation.ParseError{Path: id, Err: os.ErrNotExist}
	}
	return derivation.Parse(id, []byte(data))
}

func drvWith(outputs ...string) string {
	var parts []string
	for _, o := range outputs {
		parts = append(parts, fmt.Sprintf(`("%s","/nix/store/zzzz-pkg-%s","","")`, o, o))
	}
	return "Derive([" + strings.Join(parts, ",") + "],[],[],\"x86_64-linux\",\"\",[],[])"
}

type countingDiffer struct {
	calls atomic.Int64
	delay map[string]time.Duration
	err   error
}

func (d *countingDiffer) Diff(ctx context.Context, name, a, b string) ([]byte, error) {
	d.calls.Add(1)
	if wait := d.delay[filepath.Base(a)]; wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return []byte("diff " + name), nil
}

type harness struct {
	src, dst *cas.Store
	differ   *countingDiffer
	cache    *diffcache.Cache
	parser   mapParser
}

func newHarness(t *testing.T, blobs ...string) *harness {
	t.Helper()
	srcDir, dstDir := t.TempDir(), t.TempDir()
	for _, b := range blobs {
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, b), []byte(b), 0o644))
	}
	h := &harness{src: cas.Open(srcDir), dst: cas.Open(dstDir), differ: &countingDiffer{}, parser: mapParser{}}
	h.cache = diffcache.New(h.src, h.dst, diffcache.Options{Differ: h.differ})
	return h
}

func (h *harness) aggregator(policy DiffPolicy) *Aggregator {
	return &Aggregator{
		Parser:      h.parser,
		Diffs:       h.cache,
		CrossRefs:   DefaultCrossRefs(),
		Concurrency: 4,
		Policy:      policy,
		Now:         func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) },
	}
}

func (h *harness) publisher() *Publisher {
	return &Publisher{Store: h.dst}
}

func ok(drv string, kind outcome.Kind) outcome.Outcome {
	return outcome.Outcome{Request: outcome.NewRequest(rev), Drv: drv, Status: outcome.Status{Kind: kind}}
}

func unrepro(drv string, hashes map[string]outcome.HashPair) outcome.Outcome {
	return outcome.Outcome{Request: outcome.NewRequest(rev), Drv: drv, Status: outcome.NewUnreproducible(hashes)}
}

func instantiation(results ...outcome.Outcome) *outcome.Instantiation {
	inst := &outcome.Instantiation{Results: results}
	for _, r := range results {
		inst.ToBuild = append(inst.ToBuild, r.Drv)
	}
	return inst
}

func TestScenarioSingleReproducible(t *testing.T) {
	h := newHarness(t)
	s, _, err := Generate(context.Background(), h.aggregator(PolicyAbort), h.publisher(),
		outcome.NewRequest(rev), instantiation(ok("/nix/store/a.drv", outcome.Reproducible)))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Tally.Total)
	assert.Equal(t, 1, s.Tally.Reproducible)
	assert.Equal(t, "100.00%", s.Tally.Percent())
	assert.Empty(t, s.Entries)
	assert.NotEmpty(t, s.RunID)

	p, err := NewPayload(s, "")
	require.NoError(t, err)
	assert.Empty(t, string(p.UnreproducedFragment))

	page, err := os.ReadFile(h.dst.Join(PageFile))
	require.NoError(t, err)
	assert.Contains(t, string(page), "100.00%")
	assert.Contains(t, string(page), rev)
}

func TestScenarioSingleUnreproducible(t *testing.T) {
	h := newHarness(t, "aaa", "bbb")
	h.parser["/nix/store/b.drv"] = drvWith("out")

	s, _, err := Generate(context.Background(), h.aggregator(PolicyAbort), h.publisher(),
		outcome.NewRequest(rev), instantiation(unrepro("/nix/store/b.drv", map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}})))
	require.NoError(t, err)

	require.Len(t, s.Entries, 1)
	require.Len(t, s.Entries[0].Diffs, 1)
	assert.Equal(t, "./diff/aaa-bbb.html", s.Entries[0].Diffs[0].Href)

	p, err := NewPayload(s, "")
	require.NoError(t, err)
	assert.Contains(t, string(p.UnreproducedFragment), `<a href="./diff/aaa-bbb.html">(diffoscope)</a> out`)
	assert.Equal(t, "0.00%", p.Percent)

	files, err := os.ReadDir(h.dst.Join("diff"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.EqualValues(t, 1, h.differ.calls.Load())

	data, err := os.ReadFile(h.dst.Join("diff/aaa-bbb.html"))
	require.NoError(t, err)
	assert.Equal(t, "diff zzzz-pkg-out", string(data))
}

func TestScenarioSharedKeyComputedOnce(t *testing.T) {
	h := newHarness(t, "aaa", "bbb")
	h.parser["/nix/store/c1.drv"] = drvWith("out")
	h.parser["/nix/store/c2.drv"] = drvWith("out")
	pair := map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}}

	s, _, err := Generate(context.Background(), h.aggregator(PolicyAbort), h.publisher(),
		outcome.NewRequest(rev), instantiation(unrepro("/nix/store/c1.drv", pair), unrepro("/nix/store/c2.drv", pair)))
	require.NoError(t, err)

	assert.EqualValues(t, 1, h.differ.calls.Load())
	require.Len(t, s.Entries, 2)
	assert.Equal(t, s.Entries[0].Diffs[0].Href, s.Entries[1].Diffs[0].Href)
	assert.EqualValues(t, 1, h.cache.Stats().Computed)
}

func TestScenarioFirstFailedWritesNothing(t *testing.T) {
	h := newHarness(t)
	results := []outcome.Outcome{ok("/nix/store/broken.drv", outcome.FirstFailed)}
	for i := range 9 {
		results = append(results, ok(fmt.Sprintf("/nix/store/r%d.drv", i), outcome.Reproducible))
	}

	_, _, err := Generate(context.Background(), h.aggregator(PolicyAbort), h.publisher(),
		outcome.NewRequest(rev), instantiation(results...))
	var incomplete *IncompleteVerificationError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"/nix/store/broken.drv"}, incomplete.Definitions)
	assert.Contains(t, err.Error(), "/nix/store/broken.drv")

	entries, err := os.ReadDir(h.dst.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntriesKeepArrivalOrder(t *testing.T) {
	h := newHarness(t, "a1", "b1", "a2", "b2", "a3", "b3")
	h.differ.delay = map[string]time.Duration{"a1": 60 * time.Millisecond, "a2": 30 * time.Millisecond}
	var results []outcome.Outcome
	for i := 1; i <= 3; i++ {
		drv := fmt.Sprintf("/nix/store/o%d.drv", i)
		h.parser[drv] = drvWith("out")
		results = append(results, unrepro(drv, map[string]outcome.HashPair{
			"out": {A: fmt.Sprintf("a%d", i), B: fmt.Sprintf("b%d", i)},
		}))
	}

	s, err := h.aggregator(PolicyAbort).Run(context.Background(), outcome.NewRequest(rev), instantiation(results...))
	require.NoError(t, err)
	require.Len(t, s.Entries, 3)
	for i, e := range s.Entries {
		assert.Equal(t, fmt.Sprintf("/nix/store/o%d.drv", i+1), e.Definition)
	}

	frag, err := Fragment(s.Entries, "")
	require.NoError(t, err)
	text := string(frag)
	assert.Less(t, strings.Index(text, "o1.drv"), strings.Index(text, "o2.drv"))
	assert.Less(t, strings.Index(text, "o2.drv"), strings.Index(text, "o3.drv"))
}

func TestRunFiltersRevisionAndScope(t *testing.T) {
	h := newHarness(t)
	other := ok("/nix/store/old.drv", outcome.FirstFailed)
	other.Request = outcome.NewRequest("0000000000000000000000000000000000000000")
	inst := instantiation(ok("/nix/store/a.drv", outcome.Reproducible), other)
	inst.Results = append(inst.Results, ok("/nix/store/out-of-scope.drv", outcome.FirstFailed))

	s, err := h.aggregator(PolicyAbort).Run(context.Background(), outcome.NewRequest(rev), inst)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Tally.Total)
	assert.Len(t, s.Considered, 1)
}

func TestCrossReferenceLinks(t *testing.T) {
	h := newHarness(t, "aaa", "bbb")
	drv := "/nix/store/xyz-gnupg-2.2.drv"
	h.parser[drv] = drvWith("out")

	s, err := h.aggregator(PolicyAbort).Run(context.Background(), outcome.NewRequest(rev),
		instantiation(unrepro(drv, map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}})))
	require.NoError(t, err)
	require.Len(t, s.Entries, 1)
	assert.Equal(t, []string{"https://github.com/NixOS/nixpkgs/issues/75687"}, s.Entries[0].Links)

	frag, err := Fragment(s.Entries, "")
	require.NoError(t, err)
	assert.Contains(t, string(frag), `<a href="https://github.com/NixOS/nixpkgs/issues/75687">more info...</a>`)
}

func TestCrossRefsMatchesEveryPattern(t *testing.T) {
	table := CrossRefs{{Pattern: "foo", URL: "u1"}, {Pattern: "", URL: "never"}, {Pattern: "bar", URL: "u2"}}
	assert.Equal(t, []string{"u1", "u2"}, table.Matches("/nix/store/foo-bar.drv"))
	assert.Nil(t, table.Matches("/nix/store/baz.drv"))
}

func TestZeroTotalPercent(t *testing.T) {
	h := newHarness(t)
	s, err := h.aggregator(PolicyAbort).Run(context.Background(), outcome.NewRequest(rev), &outcome.Instantiation{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Tally.Total)
	assert.Equal(t, NotApplicable, s.Tally.Percent())
	_, ok := s.Tally.Ratio()
	assert.False(t, ok)
}

func TestPercentFormatting(t *testing.T) {
	assert.Equal(t, "66.67%", Tally{Total: 3, Reproducible: 2}.Percent())
	assert.Equal(t, "97.32%", Tally{Total: 10000, Reproducible: 9732}.Percent())
}

func TestMissingOutputIsRecorded(t *testing.T) {
	h := newHarness(t, "aaa", "bbb")
	drv := "/nix/store/m.drv"
	h.parser[drv] = drvWith("out")

	s, err := h.aggregator(PolicyAbort).Run(context.Background(), outcome.NewRequest(rev),
		instantiation(unrepro(drv, map[string]outcome.HashPair{
			"out": {A: "aaa", B: "bbb"},
			"man": {A: "ccc", B: "ddd"},
		})))
	require.NoError(t, err)
	require.Len(t, s.Entries, 1)
	assert.Equal(t, []string{"man"}, s.Entries[0].Missing)
	assert.Len(t, s.Entries[0].Diffs, 1)

	frag, err := Fragment(s.Entries, "")
	require.NoError(t, err)
	assert.Contains(t, string(frag), "no output named man")
	assert.Contains(t, string(frag), `<a href="./nix/store/m.drv">(drv)</a>`)
}

func TestParseErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	_, err := h.aggregator(PolicyAnnotate).Run(context.Background(), outcome.NewRequest(rev),
		instantiation(unrepro("/nix/store/unknown.drv", map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}})))
	var pe *derivation.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestDiffFailurePolicies(t *testing.T) {
	drv := "/nix/store/f.drv"
	inst := func() *outcome.Instantiation {
		return instantiation(unrepro(drv, map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}}))
	}

	t.Run("abort", func(t *testing.T) {
		h := newHarness(t, "aaa", "bbb")
		h.parser[drv] = drvWith("out")
		h.differ.err = errors.New("tool crashed")

		_, _, err := Generate(context.Background(), h.aggregator(PolicyAbort), h.publisher(), outcome.NewRequest(rev), inst())
		var ce *diffcache.ComputationError
		require.ErrorAs(t, err, &ce)
		_, statErr := os.Stat(h.dst.Join(PageFile))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("annotate", func(t *testing.T) {
		h := newHarness(t, "aaa")
		h.parser[drv] = drvWith("out")

		s, err := h.aggregator(PolicyAnnotate).Run(context.Background(), outcome.NewRequest(rev), inst())
		require.NoError(t, err)
		require.Len(t, s.Entries[0].Failures, 1)
		assert.Equal(t, "out", s.Entries[0].Failures[0].Output)

		frag, err := Fragment(s.Entries, "")
		require.NoError(t, err)
		assert.Contains(t, string(frag), "diff of out failed")
	})

	t.Run("annotate runs a failing diff once", func(t *testing.T) {
		h := newHarness(t, "aaa", "bbb")
		h.differ.err = errors.New("tool crashed")
		other := "/nix/store/g.drv"
		h.parser[drv] = drvWith("out")
		h.parser[other] = drvWith("out")

		s, err := h.aggregator(PolicyAnnotate).Run(context.Background(), outcome.NewRequest(rev), instantiation(
			unrepro(drv, map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}}),
			unrepro(other, map[string]outcome.HashPair{"out": {A: "aaa", B: "bbb"}}),
		))
		require.NoError(t, err)
		require.Len(t, s.Entries, 2)
		for _, e := range s.Entries {
			require.Len(t, e.Failures, 1)
			assert.Equal(t, "tool crashed", e.Failures[0].Reason)
		}
		assert.EqualValues(t, 1, h.differ.calls.Load())
	})
}

func TestPublishWritesPayload(t *testing.T) {
	h := newHarness(t)
	pub := h.publisher()
	pub.Extras = []Extra{func(s *Summary, p Payload) (File, error) {
		return File{Name: "badge.txt", Data: []byte(p.Percent)}, nil
	}}
	s := &Summary{RunID: "run", Revision: rev, Tally: Tally{Total: 4, Reproducible: 3, Unchecked: 1}}

	written, err := pub.Publish(s)
	require.NoError(t, err)
	require.Len(t, written, 3)
	assert.Equal(t, PageFile, filepath.Base(written[2]))

	data, err := os.ReadFile(h.dst.Join(PayloadFile))
	require.NoError(t, err)
	for _, field := range []string{`"reproduced_count": 3`, `"unchecked_count": 1`, `"total_count": 4`, `"percent": "75.00%"`, `"run_id": "run"`} {
		assert.Contains(t, string(data), field)
	}
	badge, err := os.ReadFile(h.dst.Join("badge.txt"))
	require.NoError(t, err)
	assert.Equal(t, "75.00%", string(badge))
}

func TestPublishFailureKeepsPreviousReport(t *testing.T) {
	h := newHarness(t)
	_, err := h.dst.WriteFile(PageFile, []byte("previous"))
	require.NoError(t, err)
	// A directory in the way of the payload makes the publish fail after
	// the badge has been rendered.
	require.NoError(t, os.Mkdir(h.dst.Join(PayloadFile), 0o755))

	pub := h.publisher()
	pub.Extras = []Extra{func(s *Summary, p Payload) (File, error) {
		return File{Name: "badge.txt", Data: []byte(p.Percent)}, nil
	}}
	_, err = pub.Publish(&Summary{Tally: Tally{Total: 1, Reproducible: 1}})
	require.Error(t, err)

	page, err := os.ReadFile(h.dst.Join(PageFile))
	require.NoError(t, err)
	assert.Equal(t, "previous", string(page))
	_, err = os.Stat(h.dst.Join("badge.txt"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(h.dst.Root())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{PageFile, PayloadFile}, names)
}

func TestPublishRenderFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	pub := h.publisher()
	pub.Extras = []Extra{func(*Summary, Payload) (File, error) { return File{}, errors.New("boom") }}

	_, err := pub.Publish(&Summary{})
	require.Error(t, err)
	entries, err := os.ReadDir(h.dst.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCustomPageTemplate(t *testing.T) {
	page, err := ParsePage(`{{.ReproducedCount}}/{{.TotalCount}} {{.Percent}}`)
	require.NoError(t, err)
	h := newHarness(t)
	pub := &Publisher{Store: h.dst, Page: page}

	_, err = pub.Publish(&Summary{Tally: Tally{Total: 2, Reproducible: 1}})
	require.NoError(t, err)
	data, err := os.ReadFile(h.dst.Join(PageFile))
	require.NoError(t, err)
	assert.Equal(t, "1/2 50.00%", string(data))
}

func TestTallyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("buckets sum to total", prop.ForAll(
		func(kinds []int) bool {
			var outcomes []outcome.Outcome
			for i, k := range kinds {
				outcomes = append(outcomes, ok(fmt.Sprintf("/nix/store/%d.drv", i), outcome.Kind(k)))
			}
			tl := Count(outcomes)
			sum := tl.Reproducible + tl.Unchecked + tl.Unreproducible + len(tl.FirstFailed)
			return tl.Total == len(kinds) && sum == tl.Total
		},
		gen.SliceOf(gen.IntRange(int(outcome.Reproducible), int(outcome.Unreproducible))),
	))

	properties.Property("percent is bounded", prop.ForAll(
		func(total, reproduced int) bool {
			if reproduced > total {
				reproduced = total
			}
			r, ok := Tally{Total: total, Reproducible: reproduced}.Ratio()
			return ok && r >= 0 && r <= 1
		},
		gen.IntRange(1, 100000),
		gen.IntRange(0, 100000),
	))

	properties.TestingRun(t)
}
