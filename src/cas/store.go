// Package cas addresses immutable blobs by content hash.
//
// Two logical instances exist per report run: a read-only source store that
// holds build artifacts, and a write-capable destination store that holds
// rendered diffs. IDs are scoped to the store that minted them.
package cas

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when a hash has no blob in the store.
	ErrNotFound = errors.New("cas: not found")
	// ErrForeignID is returned when an ID is used with a store that did not mint it.
	ErrForeignID = errors.New("cas: id belongs to a different store")
	// ErrInvalidHash is returned for hashes that cannot name a blob.
	ErrInvalidHash = errors.New("cas: invalid hash")
)

// NotFoundError reports which hash was missing from which store.
type NotFoundError struct {
	Root string
	Hash string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cas: %s not found in %s", e.Hash, e.Root)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Store is a directory of blobs named by their content hash.
type Store struct {
	root string
}

// ID is an opaque address of a blob inside one Store.
type ID struct {
	store *Store
	hash  string
}

// Hash returns the content hash the ID was derived from.
func (id ID) Hash() string { return id.hash }

// IsZero reports whether the ID was never resolved.
func (id ID) IsZero() bool { return id.store == nil }

func (id ID) String() string { return id.hash }

// Open returns a store rooted at dir. The directory is not created.
func Open(dir string) *Store {
	return &Store{root: filepath.Clean(dir)}
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Resolve maps a hash string to an ID, failing when no blob exists for it.
func (s *Store) Resolve(hash string) (ID, error) {
	if err := ValidateHash(hash); err != nil {
		return ID{}, err
	}
	path := filepath.Join(s.root, hash)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ID{}, &NotFoundError{Root: s.root, Hash: hash}
		}
		return ID{}, fmt.Errorf("cas: stat %s: %w", path, err)
	}
	return ID{store: s, hash: hash}, nil
}

// Path returns the physical location of id. IDs minted by another store are rejected.
func (s *Store) Path(id ID) (string, error) {
	if id.store != s {
		return "", fmt.Errorf("%w: %s", ErrForeignID, id.hash)
	}
	return filepath.Join(s.root, id.hash), nil
}

// Exists reports whether rel names a regular file under the store root.
func (s *Store) Exists(rel string) bool {
	info, err := os.Stat(filepath.Join(s.root, rel))
	return err == nil && info.Mode().IsRegular()
}

// Join returns the absolute path of rel under the store root.
func (s *Store) Join(rel string) string {
	return filepath.Join(s.root, rel)
}

// WriteFile atomically writes data to rel under the store root.
// Readers never observe a partially written file.
func (s *Store) WriteFile(rel string, data []byte) (string, error) {
	dest := filepath.Join(s.root, rel)
	if err := WriteAtomic(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// WriteAtomic writes data to a temp file beside path and renames it into place.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// ValidateHash checks that hash is a single lowercase alphanumeric path segment.
func ValidateHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("%w: empty", ErrInvalidHash)
	}
	if strings.ContainsFunc(hash, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z')
	}) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return nil
}
