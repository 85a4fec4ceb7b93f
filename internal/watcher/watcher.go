// Package watcher reports new JPEG files in a directory once they have
// settled, so Motion Photos dropped there can be queued automatically.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/motionlive/motionlive-agent/internal/jobs"
	"github.com/motionlive/motionlive-agent/internal/logging"
	"github.com/motionlive/motionlive-agent/internal/motionphoto"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

const DefaultSettle = 750 * time.Millisecond

// FSWatcher watches one directory, non-recursively. Bursts of writes to the
// same file collapse into a single callback after Settle has passed quietly.
type FSWatcher struct {
	Settle time.Duration

	logger   *slog.Logger
	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*time.Timer
	fsw      *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewFSWatcher(logger *slog.Logger) *FSWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FSWatcher{
		Settle:  DefaultSettle,
		logger:  logging.WithComponent(logger, "watcher"),
		pending: make(map[string]*time.Timer),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts watching dir and returns. Events stop when ctx is done or
// Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", dir)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	w.wg.Add(1)
	go w.loop(ctx, fsw, w.done)
	w.logger.Info("watching directory", "path", logging.SanitizePath(dir))
	return nil
}

func (w *FSWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	if !Candidate(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		w.schedule(ev.Name, EventCreate)
	case ev.Has(fsnotify.Write):
		w.schedule(ev.Name, EventModify)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[ev.Name]; ok {
			t.Stop()
			delete(w.pending, ev.Name)
		}
		cb := w.callback
		w.mu.Unlock()
		if cb != nil {
			cb(ev.Name, EventDelete)
		}
	}
}

// schedule (re)arms the settle timer for path. A create followed by writes is
// still reported as a create.
func (w *FSWatcher) schedule(path string, event EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		cb := w.callback
		w.mu.Unlock()
		if cb != nil {
			cb(path, event)
		}
	})
}

func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	fsw := w.fsw
	if fsw == nil {
		w.mu.Unlock()
		return nil
	}
	w.fsw = nil
	close(w.done)
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("watcher stopped")
	return fsw.Close()
}

// Candidate reports whether name looks like a camera JPEG. Hidden files
// (including in-flight library staging files) are skipped.
func Candidate(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// MotionPhotoHandler returns a callback that submits created or modified
// files which carry Motion Photo metadata. Other JPEGs are ignored, and so is
// a file whose submit reports jobs.ErrAlreadyQueued.
func MotionPhotoHandler(logger *slog.Logger, submit func(ctx context.Context, path string) error) func(string, EventType) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(path string, event EventType) {
		if event == EventDelete {
			return
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Debug("skipping unreadable file", "path", logging.SanitizePath(path), "error", err)
			return
		}
		if _, err := motionphoto.Detect(raw); err != nil {
			logger.Debug("not a motion photo", "path", logging.SanitizePath(path), "reason", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = submit(ctx, path)
		if errors.Is(err, jobs.ErrAlreadyQueued) {
			logger.Debug("motion photo already queued", "path", logging.SanitizePath(path), "event", event.String())
			return
		}
		if err != nil {
			logger.Warn("failed to queue motion photo", "path", logging.SanitizePath(path), "error", err)
			return
		}
		logger.Info("motion photo queued", "path", logging.SanitizePath(path), "event", event.String())
	}
}
