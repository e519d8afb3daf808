// Package cachedir implements the CacheStore port on the local filesystem.
//
// Layout:
//
//	{root}/
//	  {sum[0:2]}/
//	    {sum}/        sum = sha256 of the rendered key
//	      key         the original key, for inspection
//	      data/       the cached tree
//
// Entries are committed by writing into a temp directory and renaming it into
// place, so a crash mid-save yields a cache miss rather than a corrupt entry.
package cachedir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Store is a filesystem-backed keyed directory cache.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Has reports whether an entry exists for key.
func (s *Store) Has(key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.entryPath(key), "data"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat cache entry: %w", err)
	}
	return true, nil
}

// Restore copies the cached tree for key into dest. Returns false with a nil
// error on a cache miss.
func (s *Store) Restore(ctx context.Context, key, dest string) (bool, error) {
	dataDir := filepath.Join(s.entryPath(key), "data")

	if _, err := os.Stat(dataDir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat cache entry: %w", err)
	}

	if err := copyTree(ctx, dataDir, dest); err != nil {
		return false, fmt.Errorf("restore cache entry %q: %w", key, err)
	}

	return true, nil
}

// Save stores the tree rooted at src under key, replacing any existing entry
// atomically. Concurrent saves under the same key are last-writer-wins.
func (s *Store) Save(ctx context.Context, key, src string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("stat cache source: %w", err)
	}

	entryDir := s.entryPath(key)
	parentDir := filepath.Dir(entryDir)

	// Parent must exist so the temp dir lands on the same filesystem as the
	// final rename target.
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-")
	if err != nil {
		return fmt.Errorf("create temp cache entry: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := os.WriteFile(filepath.Join(tmpDir, "key"), []byte(key), 0o644); err != nil {
		return fmt.Errorf("write cache key file: %w", err)
	}

	if err := copyTree(ctx, src, filepath.Join(tmpDir, "data")); err != nil {
		return fmt.Errorf("copy cache source: %w", err)
	}

	// A crash between remove and rename yields a miss (safe), not corruption.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("commit cache entry %q: %w", key, err)
	}
	committed = true

	return nil
}

// entryPath shards entries by the first two hex chars of the key's sha256 so
// no single directory accumulates every entry, and so arbitrary key text
// never reaches the filesystem as a path component.
func (s *Store) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.root, name[:2], name)
}

func copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}

		// Non-regular files (sockets, symlinks) are not cacheable content.
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
