// Package sync keeps the passage store in step with its content sources:
// fingerprint diffing, standby ingest, atomic activation, and purge.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// Object is one syncable unit of a source.
type Object struct {
	// Key identifies the object within its source, stable across versions.
	Key string

	// Fingerprint changes whenever the object's content changes.
	Fingerprint string
}

// Source is a pull collaborator the coordinator syncs from. Implementations
// hand over plain text; format-specific extraction happens upstream.
type Source interface {
	// List returns a snapshot of all objects with their fingerprints.
	List(ctx context.Context) ([]Object, error)

	// Fetch returns the content of one object.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Stat returns the current fingerprint of one object, without content.
	Stat(ctx context.Context, key string) (string, error)
}

// DirSource serves files under a directory tree. Keys are slash-separated
// relative paths; the fingerprint is the content hash, so a touched but
// unchanged file does not trigger a resync.
type DirSource struct {
	root   string
	prefix string
	exts   map[string]struct{}
}

// DirSourceOptions configures a DirSource.
type DirSourceOptions struct {
	// Prefix restricts listing to keys under this relative path.
	Prefix string

	// Extensions restricts listing to these file extensions (with dot).
	// Empty means DefaultExtensions.
	Extensions []string
}

// DefaultExtensions are the file types synced when a manifest does not say
// otherwise.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".rst"}

// NewDirSource creates a source over an existing directory.
func NewDirSource(root string, opts DirSourceOptions) (*DirSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeSourceMissing,
			fmt.Sprintf("source directory %s", root), err)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.CodeSourceMissing,
			fmt.Sprintf("source path %s is not a directory", root), nil)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = struct{}{}
	}

	return &DirSource{
		root:   root,
		prefix: filepath.ToSlash(opts.Prefix),
		exts:   extSet,
	}, nil
}

// List walks the tree and fingerprints every matching file. Hidden files
// and directories are skipped. The listing is sorted by key for
// deterministic sync order.
func (d *DirSource) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") && path != d.root {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if d.prefix != "" && !strings.HasPrefix(key, d.prefix) {
			return nil
		}
		if _, ok := d.exts[strings.ToLower(filepath.Ext(key))]; !ok {
			return nil
		}

		fp, err := hashFile(path)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: key, Fingerprint: fp})
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CodeFetchFailed,
			fmt.Sprintf("list source directory %s", d.root), err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Fetch reads one object's content.
func (d *DirSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	path, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.CodeSourceMissing, key, err)
		}
		return nil, apperrors.New(apperrors.CodeFetchFailed, key, err)
	}
	return content, nil
}

// Stat re-fingerprints one object.
func (d *DirSource) Stat(ctx context.Context, key string) (string, error) {
	path, err := d.resolve(key)
	if err != nil {
		return "", err
	}
	fp, err := hashFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.New(apperrors.CodeSourceMissing, key, err)
		}
		return "", apperrors.New(apperrors.CodeFetchFailed, key, err)
	}
	return fp, nil
}

// resolve maps a key back to a filesystem path, rejecting escapes from the
// source root.
func (d *DirSource) resolve(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", apperrors.New(apperrors.CodeSourceMissing,
			fmt.Sprintf("key %s escapes the source root", key), nil)
	}
	return filepath.Join(d.root, rel), nil
}

func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

var _ Source = (*DirSource)(nil)
