// Package filestore keeps each storage key in its own file under a per-user config directory.
//
// Writes go to a temp file in the same directory and are renamed into place, so a reader in
// another process sees either the old or the new value. Change detection polls the directory.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/storage"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	// DefaultPollInterval is how often Watch rescans the directory.
	DefaultPollInterval = 500 * time.Millisecond

	tmpPrefix = ".tmp-"
)

// DefaultDir returns $XDG_CONFIG_HOME/daktari, falling back to ~/.config/daktari.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "daktari")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "daktari")
}

// Store is a directory-backed storage.Storage.
type Store struct {
	dir      string
	interval time.Duration
	log      *zap.Logger
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets the Watch rescan interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger used by Watch.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates dir if needed and returns a Store rooted there.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	s := &Store{dir: dir, interval: DefaultPollInterval, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("filestore: invalid key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Get reads the file for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return "", false, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// Set atomically replaces the file for key.
func (s *Store) Set(_ context.Context, key, value string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, tmpPrefix+key+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := f.Chmod(filePerm); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Delete removes the files for keys.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	var errList []error
	for _, k := range keys {
		p, err := s.path(k)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// scan reads every key file in the directory.
func (s *Store) scan() (map[string]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			// raced with a delete
			continue
		}
		out[e.Name()] = string(b)
	}
	return out, nil
}

// Watch polls the directory and reports keys whose content appeared, changed or vanished.
// The filesystem does not say who wrote a file, so Origin is empty and the caller's own
// writes are reported too.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	prev, err := s.scan()
	if err != nil {
		return nil, fmt.Errorf("filestore: initial scan: %w", err)
	}
	ch := make(chan storage.Change, len(storage.SessionKeys)*2)
	go func() {
		defer close(ch)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			cur, err := s.scan()
			if err != nil {
				s.log.Warn("filestore scan failed", zap.String("dir", s.dir), zap.Error(err))
				continue
			}
			for _, c := range diff(prev, cur) {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				}
			}
			prev = cur
		}
	}()
	return ch, nil
}

func diff(prev, cur map[string]string) []storage.Change {
	var out []storage.Change
	for k, v := range cur {
		if old, ok := prev[k]; !ok || old != v {
			out = append(out, storage.Change{Key: k})
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			out = append(out, storage.Change{Key: k, Removed: true})
		}
	}
	return out
}
