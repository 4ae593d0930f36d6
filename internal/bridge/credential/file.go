package credential

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// fileDir is the sub directory of the storage path holding token files.
const fileDir = "fordpass"

// FileStore keeps one JSON token file per key below a storage directory.
type FileStore struct {
	dir string

	// migrated records the keys whose legacy file has been looked for.
	migrated sync.Map
	// known holds the digest of the content last written or seen per key.
	// Watch only reports content that differs from it.
	known sync.Map
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at <storagePath>/fordpass.
func NewFileStore(storagePath string) *FileStore {
	if storagePath == "" {
		storagePath = ".storage"
	}
	return &FileStore{dir: filepath.Join(storagePath, fileDir)}
}

// Path returns the token file of key.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_access_token@%s.txt", key.User, key.Region))
}

func (s *FileStore) legacyPath(key Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_access_token.txt", key.User))
}

// migrate moves a token file written before files were keyed by region.
// It runs at most once per key and never fails the caller.
func (s *FileStore) migrate(key Key) {
	if _, done := s.migrated.LoadOrStore(key, struct{}{}); done {
		return
	}

	legacy := s.legacyPath(key)
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	target := s.Path(key)
	if _, err := os.Stat(target); err == nil {
		log.Debug("Legacy token file ignored, region file exists", "legacy", legacy)
		return
	}
	if err := os.Rename(legacy, target); err != nil {
		log.Warn("Failed to move legacy token file", "from", legacy, "to", target, "error", err)
		return
	}
	log.Info("Moved legacy token file", "from", legacy, "to", target)
}

func (s *FileStore) Load(_ context.Context, key Key) (*Record, error) {
	s.migrate(key)

	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	return decode(data)
}

// Save writes the record to a temp file in the same directory and renames it
// over the token file.
func (s *FileStore) Save(_ context.Context, key Key, rec *Record) error {
	if rec == nil {
		return errors.New("nil credential record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp token file: %w", err)
	}
	// Recorded before the rename, whose events may arrive before Save returns.
	prev, hadPrev := s.known.Swap(key, sha256.Sum256(data))
	if err := os.Rename(tmp.Name(), s.Path(key)); err != nil {
		if hadPrev {
			s.known.Store(key, prev)
		} else {
			s.known.Delete(key)
		}
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// changed reports whether the token file of key holds something other than
// what this store last wrote or reported. A missing file counts as a change.
func (s *FileStore) changed(key Key) bool {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		s.known.Delete(key)
		return errors.Is(err, fs.ErrNotExist)
	}
	sum := sha256.Sum256(data)
	if prev, ok := s.known.Swap(key, sum); ok && prev.([sha256.Size]byte) == sum {
		return false
	}
	return true
}

func (s *FileStore) Delete(_ context.Context, key Key) error {
	s.known.Delete(key)
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// Watch calls onChange whenever the token file of key is replaced or removed
// by someone else, until ctx is done. Saves made through this store are not
// reported. The directory is watched so that atomic replacements are seen.
func (s *FileStore) Watch(ctx context.Context, key Key, onChange func()) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}

	target := filepath.Clean(s.Path(key))
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if !s.changed(key) {
					continue
				}
				log.Debug("Token file changed", "path", ev.Name, "op", ev.Op.String())
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "Token file watcher error")
			}
		}
	}()
	return nil
}
