// Package file provides a Store backed by a directory tree of DICOM files.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/cache"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.Store = (*Store)(nil)

// Extension is appended to instance ids by Put.
const Extension = ".dcm"

// Config holds configuration for a file store.
type Config struct {
	// Root is the directory scanned for instances.
	Root string

	CachePolicy domain.CachePolicy
	CacheDir    string

	// Reader extracts tags (default: DICOMReader).
	Reader TagReader
}

// Store is a directory of DICOM instances.
type Store struct {
	root   string
	reader TagReader
	cache  *cache.Cache
	matrix *transfer.Matrix
	log    *logger.Logger
}

// New creates a Store rooted at an existing directory.
func New(cfg Config, matrix *transfer.Matrix, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", domain.ErrInvalidInput, cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: root %q is not a directory", domain.ErrInvalidInput, cfg.Root)
	}

	cachePath := ""
	if cfg.CacheDir != "" {
		cachePath = filepath.Join(cfg.CacheDir, cache.FileName("", "", "file://"+root))
	}
	c, err := cache.New(cachePath, cfg.CachePolicy, log)
	if err != nil {
		return nil, err
	}

	reader := cfg.Reader
	if reader == nil {
		reader = DICOMReader{}
	}

	s := &Store{
		root:   root,
		reader: reader,
		cache:  c,
		matrix: matrix,
		log:    log,
	}
	c.Register(cache.KeyInventory, s.initializeInventory)
	return s, nil
}

// Kind returns domain.KindFile.
func (s *Store) Kind() domain.StoreKind {
	return domain.KindFile
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes an instance's bytes to <root>/<id>.dcm.
func (s *Store) Put(_ context.Context, d *domain.Dixel) (domain.Result, error) {
	if d.Level != domain.LevelInstance {
		return domain.Failed("put", d.ID, 0, "level not accepted"), domain.UnsupportedOperation(s.Kind(), "put", d.Level)
	}
	data := d.Data[domain.DataFile]
	if len(data) == 0 || d.ID == "" {
		return domain.Failed("put", d.ID, 0, "no payload"), fmt.Errorf("%w: dixel %s has no id or file data", domain.ErrInvalidInput, d)
	}

	path := filepath.Join(s.root, d.ID+Extension)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return domain.Failed("put", d.ID, 0, err.Error()), fmt.Errorf("writing %s: %w", path, err)
	}

	s.log.Debug("Wrote %s to %s", d, path)
	s.InvalidateInventory()
	return domain.Succeeded("put", d.ID, 0), nil
}

// Get returns a copy of d with the file's bytes in Data and its tags.
func (s *Store) Get(ctx context.Context, d *domain.Dixel, _ driven.GetOptions) (*domain.Dixel, error) {
	path, err := s.pathOf(ctx, d)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	out := d.Clone()
	out.Meta[domain.MetaPath] = path
	out.Data[domain.DataFile] = data
	if len(out.Tags) == 0 {
		tags, err := s.reader.ReadTags(path)
		if err != nil {
			return nil, err
		}
		out.Tags = tags
	}
	return out, nil
}

// Delete removes d's file. A missing file is a failed result.
func (s *Store) Delete(ctx context.Context, d *domain.Dixel) (domain.Result, error) {
	path, err := s.pathOf(ctx, d)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Failed("delete", d.ID, 0, "not found"), nil
	}
	if err != nil {
		return domain.Failed("delete", d.ID, 0, err.Error()), err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Failed("delete", d.ID, 0, "not found"), nil
		}
		return domain.Failed("delete", d.ID, 0, err.Error()), fmt.Errorf("removing %s: %w", path, err)
	}

	s.InvalidateInventory()
	return domain.Succeeded("delete", d.ID, 0), nil
}

// Update re-reads d's tags from its file; nil if the file is gone.
func (s *Store) Update(ctx context.Context, d *domain.Dixel) (*domain.Dixel, error) {
	path, err := s.pathOf(ctx, d)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tags, err := s.reader.ReadTags(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := d.Clone()
	for k, v := range tags {
		out.Tags[k] = v
	}
	out.Meta[domain.MetaPath] = path
	return out, nil
}

// Copy dispatches through the transfer matrix.
func (s *Store) Copy(ctx context.Context, d *domain.Dixel, dest driven.Store) (domain.Result, error) {
	return s.matrix.Copy(ctx, s, d, dest)
}

// Inventory returns one instance dixel per readable DICOM file.
func (s *Store) Inventory(ctx context.Context) (domain.Set, error) {
	return s.cache.Get(ctx, cache.KeyInventory)
}

// InvalidateInventory drops the cached inventory.
func (s *Store) InvalidateInventory() {
	s.cache.Invalidate(cache.KeyInventory)
}

// pathOf resolves d's file from its meta, falling back to the inventory.
func (s *Store) pathOf(ctx context.Context, d *domain.Dixel) (string, error) {
	if p := d.Meta[domain.MetaPath]; p != "" {
		return p, nil
	}
	inv, err := s.Inventory(ctx)
	if err != nil {
		return "", err
	}
	if found, ok := inv[d.ID]; ok && found.Meta[domain.MetaPath] != "" {
		return found.Meta[domain.MetaPath], nil
	}
	return "", fmt.Errorf("%w: %s not in %s", domain.ErrNotFound, d, s.root)
}

func (s *Store) initializeInventory(ctx context.Context) (domain.Set, error) {
	set := domain.NewSet()
	skipped := 0

	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.root, path)
		if entry.IsDir() {
			if rel != "." && isHidden(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(rel) || !entry.Type().IsRegular() {
			return nil
		}

		tags, err := s.reader.ReadTags(path)
		if err != nil || tags[domain.TagSOPInstanceUID] == "" {
			s.log.Debug("Skipping %s: not a DICOM instance", rel)
			skipped++
			return nil
		}

		d := domain.NewDixel(domain.IDFromTags(tags, domain.LevelInstance), domain.LevelInstance)
		d.Tags = tags
		d.Meta[domain.MetaPath] = path
		if !set.Add(d) {
			s.log.Warn("Duplicate instance %s at %s", d, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	s.log.Debug("Found %d instances in %s (%d skipped)", set.Len(), s.root, skipped)
	return set, nil
}

// Watch invalidates the inventory whenever files under the root change.
// Changed paths are sent on the returned channel (dropped if the reader
// falls behind); it is closed when ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	err = filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return err
		}
		if rel, _ := filepath.Rel(s.root, path); rel != "." && isHidden(rel) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.root, err)
	}

	changes := make(chan string, 64)
	go func() {
		defer close(changes)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.Add(event.Name)
					}
				}
				s.log.Debug("Change in %s (%s); invalidating inventory", event.Name, event.Op)
				s.InvalidateInventory()
				select {
				case changes <- event.Name:
				default:
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("Watching %s: %v", s.root, err)
			}
		}
	}()

	return changes, nil
}

// isHidden reports whether any element of a relative path starts with a dot.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
