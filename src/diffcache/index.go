package diffcache

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"github.com/sofmeright/r13y/src/cas"
)

// Record describes one persisted diff artifact.
type Record struct {
	Key        Key       `json:"key"`
	Output     string    `json:"output,omitempty"`
	Artifact   string    `json:"artifact"`
	ComputedAt time.Time `json:"computed_at,omitempty"`
	Redactions int       `json:"redactions,omitempty"`
}

// Index maps cache keys to persisted artifacts. Lookup only reports a hit
// when the artifact file is present in the destination store.
type Index interface {
	Lookup(key Key) (Record, bool, error)
	Put(rec Record) error
	List() ([]Record, error)
	Close() error
}

// DirIndex treats the artifact directory itself as the index: a file named
// after the key is the hit signal.
type DirIndex struct {
	store *cas.Store
	dir   string
	ext   string
}

// NewDirIndex indexes artifacts under dir in store.
func NewDirIndex(store *cas.Store, dir, ext string) *DirIndex {
	return &DirIndex{store: store, dir: dir, ext: ext}
}

func (d *DirIndex) rel(k Key) string { return path.Join(d.dir, k.FileName(d.ext)) }

// Lookup checks for the artifact file.
func (d *DirIndex) Lookup(k Key) (Record, bool, error) {
	rel := d.rel(k)
	if !d.store.Exists(rel) {
		return Record{}, false, nil
	}
	return Record{Key: k, Artifact: rel}, true, nil
}

// Put is a no-op: writing the artifact is what records it.
func (d *DirIndex) Put(Record) error { return nil }

// List returns a record per artifact file, sorted by name.
func (d *DirIndex) List() ([]Record, error) {
	entries, err := os.ReadDir(d.store.Join(d.dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", d.dir, err)
	}
	var recs []Record
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		k, ok := ParseFileName(e.Name(), d.ext)
		if !ok {
			continue
		}
		rec := Record{Key: k, Artifact: path.Join(d.dir, e.Name())}
		if info, err := e.Info(); err == nil {
			rec.ComputedAt = info.ModTime().UTC()
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Artifact < recs[j].Artifact })
	return recs, nil
}

// Close is a no-op.
func (d *DirIndex) Close() error { return nil }

// Missing returns the records of idx whose artifact is no longer in store.
func Missing(idx Index, store *cas.Store) ([]Record, error) {
	recs, err := idx.List()
	if err != nil {
		return nil, err
	}
	var missing []Record
	for _, rec := range recs {
		if !store.Exists(rec.Artifact) {
			missing = append(missing, rec)
		}
	}
	return missing, nil
}
