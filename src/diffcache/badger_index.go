package diffcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/sofmeright/r13y/src/cas"
)

const recordPrefix = "diff/"

// BadgerConfig configures the badger-backed index.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps the index in memory only; used by tests.
	InMemory bool
	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// BadgerIndex stores one JSON record per artifact in a badger database. A
// record whose artifact file has disappeared is treated as a miss.
type BadgerIndex struct {
	db    *badger.DB
	store *cas.Store
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerIndex opens (or creates) the index database.
func OpenBadgerIndex(store *cas.Store, cfg BadgerConfig) (*BadgerIndex, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger index: path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create index directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	return &BadgerIndex{db: db, store: store}, nil
}

func recordKey(k Key) []byte { return []byte(recordPrefix + k.String()) }

// Lookup returns the record for k when its artifact is still on disk.
func (b *BadgerIndex) Lookup(k Key) (Record, bool, error) {
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(k))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("index lookup %s: %w", k, err)
	}
	if !b.store.Exists(rec.Artifact) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Put stores rec, replacing any previous record for the same key.
func (b *BadgerIndex) Put(rec Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Key), val)
	})
}

// List returns every record in key order, including ones whose artifact is gone.
func (b *BadgerIndex) List() ([]Record, error) {
	var recs []Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing index: %w", err)
	}
	return recs, nil
}

// Close closes the database.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}
