// Package watch turns filesystem events into debounced change
// notifications for scheduler triggers.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/composer/internal/scheduler"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a watcher waits for further events before
// reporting a batch.
const DefaultDebounce = 100 * time.Millisecond

var _ scheduler.Watcher = (*Watcher)(nil)

// Watcher watches glob patterns on the local filesystem.
type Watcher struct {
	Root     string        // Base for relative patterns, default "."
	Debounce time.Duration // Quiet period before a batch is reported
	Logger   *log.Logger   // Receives watch errors, default log.Default()
}

// New creates a Watcher rooted at root.
func New(root string, debounce time.Duration, logger *log.Logger) *Watcher {
	return &Watcher{Root: root, Debounce: debounce, Logger: logger}
}

// Watch starts watching pattern. The returned channel first delivers a
// ready notification once the initial directory scan is complete, then one
// change notification per debounced batch of matching paths. It is closed
// when ctx is done.
func (w *Watcher) Watch(ctx context.Context, pattern string) (<-chan scheduler.Notification, error) {
	base, pat := doublestar.SplitPattern(filepath.ToSlash(pattern))
	if !doublestar.ValidatePattern(pat) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	base = filepath.FromSlash(base)
	if !filepath.IsAbs(base) {
		root := w.Root
		if root == "" {
			root = "."
		}
		base = filepath.Join(root, base)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if _, err := addTree(fw, base); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", base, err)
	}

	out := make(chan scheduler.Notification)
	s := &session{
		watcher:  w,
		fw:       fw,
		base:     base,
		pattern:  pat,
		display:  pattern,
		out:      out,
		pending:  make(map[string]struct{}),
		debounce: w.debounce(),
	}
	go s.loop(ctx)
	return out, nil
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce <= 0 {
		return DefaultDebounce
	}
	return w.Debounce
}

func (w *Watcher) logger() *log.Logger {
	if w.Logger == nil {
		return log.Default()
	}
	return w.Logger
}

// session is one active Watch call.
type session struct {
	watcher  *Watcher
	fw       *fsnotify.Watcher
	base     string
	pattern  string
	display  string
	out      chan<- scheduler.Notification
	pending  map[string]struct{}
	debounce time.Duration
}

func (s *session) loop(ctx context.Context) {
	defer close(s.out)
	defer s.fw.Close()

	if !s.send(ctx, scheduler.Notification{Kind: scheduler.NotifyReady}) {
		return
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-s.fw.Events:
			if !ok {
				return
			}
			if !s.handle(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case err, ok := <-s.fw.Errors:
			if !ok {
				return
			}
			s.watcher.logger().Printf("WARNING: watch %q: %v", s.display, err)

		case <-fire:
			fire = nil
			if len(s.pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(s.pending))
			for p := range s.pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(s.pending)
			if !s.send(ctx, scheduler.Notification{Kind: scheduler.NotifyChange, Paths: paths}) {
				return
			}
		}
	}
}

// handle records ev if it matches and reports whether anything was added.
// New directories are watched and their existing entries considered.
func (s *session) handle(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	added := false
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			files, err := addTree(s.fw, ev.Name)
			if err != nil {
				s.watcher.logger().Printf("WARNING: watch %q: %v", s.display, err)
			}
			for _, f := range files {
				added = s.record(f) || added
			}
		}
	}
	return s.record(ev.Name) || added
}

func (s *session) record(path string) bool {
	rel, err := filepath.Rel(s.base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, err := doublestar.Match(s.pattern, filepath.ToSlash(rel))
	if err != nil || !ok {
		return false
	}
	s.pending[path] = struct{}{}
	return true
}

func (s *session) send(ctx context.Context, n scheduler.Notification) bool {
	select {
	case s.out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

// addTree watches dir and every directory below it, skipping VCS metadata,
// and returns the files found.
func addTree(fw *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
			return nil
		}
		if path != dir && d.Name() == ".git" {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
	return files, err
}
