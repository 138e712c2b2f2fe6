// ABOUTME: Hot-reloadable holder for the active keyword tables
// ABOUTME: Watches the override file with fsnotify and swaps tables atomically

package harmony

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Provider hands out the tables to score with. Implementations must be safe
// for concurrent use.
type Provider interface {
	Current() *Tables
}

// Current lets a fixed *Tables act as a Provider.
func (t *Tables) Current() *Tables { return t }

// Source holds the active tables, optionally backed by a YAML file.
type Source struct {
	path   string
	logger *slog.Logger
	tables atomic.Pointer[Tables]

	mu    sync.Mutex
	timer *time.Timer
}

// NewSource creates a Source. With an empty path the defaults are used and
// Watch is a no-op; otherwise the file is loaded and must be valid.
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{path: path, logger: logger.With("component", "harmony")}
	if path == "" {
		s.tables.Store(DefaultTables())
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active tables.
func (s *Source) Current() *Tables {
	return s.tables.Load()
}

// Reload re-reads the table file. On error the previous tables stay active.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	t, err := LoadTables(s.path)
	if err != nil {
		return err
	}
	s.tables.Store(t)
	s.logger.Info("harmony tables loaded", "path", s.path, "categories", len(t.Classification))
	return nil
}

// Watch reloads the tables whenever the file is written. It blocks until ctx
// is cancelled. The parent directory is watched so editors that replace the
// file are still seen.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	name := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.reloadDebounced()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("harmony watcher error", "error", err)
		}
	}
}

func (s *Source) reloadDebounced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(reloadDebounce, func() {
		if err := s.Reload(); err != nil {
			s.logger.Error("harmony tables reload failed, keeping previous tables", "path", s.path, "error", err)
		}
	})
}
