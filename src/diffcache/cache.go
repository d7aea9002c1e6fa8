// Package diffcache computes each distinct diff at most once and persists it
// into the destination store.
//
// Lookups go through three layers: an in-memory memo for the process, a
// single-flight group so concurrent requests for one key share a single
// computation, and an Index that recognises artifacts written by earlier
// runs. Artifact names derive only from the key, so writes are idempotent and
// an interrupted run can be resumed.
package diffcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sofmeright/r13y/src/cas"
	"github.com/sofmeright/r13y/src/diffoscope"
	"github.com/sofmeright/r13y/src/metrics"
	"github.com/sofmeright/r13y/src/redact"
)

const (
	DefaultDir = "diff"
	DefaultExt = "html"
)

// Source says where a resolved artifact came from.
type Source string

const (
	SourceMemory   Source = "memory"
	SourceDisk     Source = "disk"
	SourceComputed Source = "computed"
)

// Ref points at a persisted diff artifact.
type Ref struct {
	Key        Key
	Output     string
	Artifact   string // path relative to the destination store root
	Path       string // absolute path
	Redactions int
	Source     Source
}

// Href is the link to the artifact relative to the destination store root.
func (r Ref) Href() string { return "./" + r.Artifact }

// Redactor scrubs secrets from rendered artifacts.
type Redactor interface {
	Redact(data []byte) ([]byte, []redact.Finding, error)
}

// Options configures a Cache. Differ is required.
type Options struct {
	Dir      string
	Ext      string
	Differ   diffoscope.Differ
	Index    Index
	Redactor Redactor
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Stats counts how lookups were served.
type Stats struct {
	MemoryHits int64
	DiskHits   int64
	Computed   int64
}

// Cache is safe for concurrent use.
type Cache struct {
	src, dst *cas.Store
	opts     Options
	flight   singleflight.Group

	mu      sync.Mutex
	memo    map[Key]Ref
	failed  map[Key]*ComputationError
	flights map[Key]*flight

	memoryHits atomic.Int64
	diskHits   atomic.Int64
	computed   atomic.Int64
}

// New returns a cache reading blobs from src and writing artifacts to dst.
func New(src, dst *cas.Store, opts Options) *Cache {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if opts.Ext == "" {
		opts.Ext = DefaultExt
	}
	if opts.Index == nil {
		opts.Index = NewDirIndex(dst, opts.Dir, opts.Ext)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		src:     src,
		dst:     dst,
		opts:    opts,
		memo:    make(map[Key]Ref),
		failed:  make(map[Key]*ComputationError),
		flights: make(map[Key]*flight),
	}
}

// Stats returns a snapshot of the hit counters.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryHits: c.memoryHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Computed:   c.computed.Load(),
	}
}

// ArtifactPath returns the store-relative path the artifact for k lives at.
func (c *Cache) ArtifactPath(k Key) string {
	return path.Join(c.opts.Dir, k.FileName(c.opts.Ext))
}

// Resolve returns the diff of output between two source-store IDs.
func (c *Cache) Resolve(ctx context.Context, output string, a, b cas.ID) (Ref, error) {
	k := Key{A: a.Hash(), B: b.Hash()}
	return c.resolve(ctx, output, k, func() (string, string, error) {
		pa, err := c.src.Path(a)
		if err != nil {
			return "", "", err
		}
		pb, err := c.src.Path(b)
		if err != nil {
			return "", "", err
		}
		return pa, pb, nil
	})
}

// ResolveHashes is Resolve for raw hashes. The hashes are resolved in the
// source store only when the diff actually has to be computed, so earlier
// artifacts stay usable after the build blobs are cleaned up.
func (c *Cache) ResolveHashes(ctx context.Context, output, hashA, hashB string) (Ref, error) {
	k, err := NewKey(hashA, hashB)
	if err != nil {
		return Ref{}, &ComputationError{Key: Key{A: hashA, B: hashB}, Output: output, Err: err}
	}
	return c.resolve(ctx, output, k, func() (string, string, error) {
		ia, err := c.src.Resolve(hashA)
		if err != nil {
			return "", "", err
		}
		ib, err := c.src.Resolve(hashB)
		if err != nil {
			return "", "", err
		}
		pa, _ := c.src.Path(ia)
		pb, _ := c.src.Path(ib)
		return pa, pb, nil
	})
}

func (c *Cache) memoized(k Key) (Ref, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.memo[k]
	return ref, ok
}

// failure returns the remembered error for k, relabelled for output.
func (c *Cache) failure(k Key, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.failed[k]
	if !ok {
		return nil
	}
	relabelled := *ce
	relabelled.Output = output
	return &relabelled
}

// flight tracks the callers waiting on one key. Its context is detached from
// every caller and cancelled once the last one has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *Cache) join(ctx context.Context, k Key) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[k]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[k] = f
	}
	f.waiters++
	return f.ctx
}

func (c *Cache) leave(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.flights[k]
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		delete(c.flights, k)
	}
}

func (c *Cache) resolve(ctx context.Context, output string, k Key, locate func() (string, string, error)) (Ref, error) {
	for {
		if ref, ok := c.memoized(k); ok {
			c.memoryHits.Add(1)
			c.opts.Metrics.Lookup(string(SourceMemory))
			ref.Source = SourceMemory
			ref.Output = output
			return ref, nil
		}
		if err := c.failure(k, output); err != nil {
			return Ref{}, err
		}

		ref, err := c.await(ctx, output, k, locate)
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
			// Joined a flight that every earlier caller had abandoned.
			continue
		}
		return ref, err
	}
}

func (c *Cache) await(ctx context.Context, output string, k Key, locate func() (string, string, error)) (Ref, error) {
	fctx := c.join(ctx, k)
	defer c.leave(k)

	// leader identifies the call whose closure actually ran the flight.
	leader := new(byte)
	ch := c.flight.DoChan(k.String(), func() (interface{}, error) {
		// A flight that finished between our memo check and DoChan has
		// already published its result.
		if ref, ok := c.memoized(k); ok {
			ref.Source = SourceMemory
			return flightResult{ref: ref, leader: leader}, nil
		}
		if err := c.failure(k, output); err != nil {
			return nil, err
		}
		ref, err := c.load(fctx, output, k, locate)
		if err != nil {
			var ce *ComputationError
			if errors.As(err, &ce) && !errors.Is(err, context.Canceled) {
				c.mu.Lock()
				c.failed[k] = ce
				c.mu.Unlock()
			}
			return nil, err
		}
		c.mu.Lock()
		c.memo[k] = ref
		c.mu.Unlock()
		return flightResult{ref: ref, leader: leader}, nil
	})

	select {
	case <-ctx.Done():
		return Ref{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Ref{}, res.Err
		}
		fr := res.Val.(flightResult)
		ref := fr.ref
		ref.Output = output
		if fr.leader != leader && ref.Source == SourceComputed {
			// Waiters reuse the leader's result.
			ref.Source = SourceMemory
		}
		switch ref.Source {
		case SourceMemory:
			c.memoryHits.Add(1)
		case SourceDisk:
			c.diskHits.Add(1)
		}
		c.opts.Metrics.Lookup(string(ref.Source))
		return ref, nil
	}
}

// adopt treats an artifact already in the destination store as a hit even
// when the index has no record of it, and backfills the record.
func (c *Cache) adopt(k Key, output string) (Record, bool) {
	rel := c.ArtifactPath(k)
	if !c.dst.Exists(rel) {
		return Record{}, false
	}
	rec := Record{Key: k, Output: output, Artifact: rel}
	if info, err := os.Stat(c.dst.Join(rel)); err == nil {
		rec.ComputedAt = info.ModTime().UTC()
	}
	if err := c.opts.Index.Put(rec); err != nil {
		c.opts.Logger.Warn("recording diff in index failed", "key", k.String(), "error", err)
	}
	return rec, true
}

type flightResult struct {
	ref    Ref
	leader *byte
}

// load serves k from the index or computes it. It runs inside the flight.
func (c *Cache) load(ctx context.Context, output string, k Key, locate func() (string, string, error)) (Ref, error) {
	rec, ok, err := c.opts.Index.Lookup(k)
	if err != nil {
		c.opts.Logger.Warn("diff index lookup failed", "key", k.String(), "error", err)
	}
	if !ok {
		rec, ok = c.adopt(k, output)
	}
	if ok {
		c.opts.Logger.Debug("diff cache hit", "key", k.String(), "artifact", rec.Artifact)
		return Ref{
			Key:        k,
			Output:     output,
			Artifact:   rec.Artifact,
			Path:       c.dst.Join(rec.Artifact),
			Redactions: rec.Redactions,
			Source:     SourceDisk,
		}, nil
	}

	a, b, err := locate()
	if err != nil {
		return Ref{}, &ComputationError{Key: k, Output: output, Err: err}
	}

	c.opts.Logger.Info("diffing", "output", output, "a", k.A, "b", k.B)
	start := time.Now()
	data, err := c.opts.Differ.Diff(ctx, output, a, b)
	c.opts.Metrics.ObserveDiff(time.Since(start), err)
	if err != nil {
		return Ref{}, &ComputationError{Key: k, Output: output, Err: err}
	}
	c.computed.Add(1)

	redactions := 0
	if c.opts.Redactor != nil {
		scrubbed, findings, err := c.opts.Redactor.Redact(data)
		if err != nil {
			return Ref{}, &ComputationError{Key: k, Output: output, Err: fmt.Errorf("redacting: %w", err)}
		}
		for _, f := range findings {
			c.opts.Logger.Warn("redacted secret from diff", "key", k.String(), "rule", f.RuleID, "line", f.Line)
		}
		data, redactions = scrubbed, len(findings)
		c.opts.Metrics.Redacted(redactions)
	}

	rel := c.ArtifactPath(k)
	abs, err := c.dst.WriteFile(rel, data)
	if err != nil {
		return Ref{}, &ComputationError{Key: k, Output: output, Err: err}
	}
	c.opts.Logger.Info("diff saved", "path", abs)

	rec = Record{Key: k, Output: output, Artifact: rel, ComputedAt: c.opts.Now().UTC(), Redactions: redactions}
	if err := c.opts.Index.Put(rec); err != nil {
		c.opts.Logger.Warn("recording diff in index failed", "key", k.String(), "error", err)
	}

	return Ref{
		Key:        k,
		Output:     output,
		Artifact:   rel,
		Path:       abs,
		Redactions: redactions,
		Source:     SourceComputed,
	}, nil
}
