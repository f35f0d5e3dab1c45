// Package signals lets another process control a running simulation by
// dropping files into .choicesim/signals. An "abort" file aborts the run;
// a "pause" file pauses it until the file is removed.
package signals

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names.
const (
	AbortFile = "abort"
	PauseFile = "pause"
)

// DefaultPollInterval is how often signal files are stat'ed in case the
// watcher misses an event or could not be created.
const DefaultPollInterval = 500 * time.Millisecond

// Controller is the run being controlled.
type Controller interface {
	Abort()
	Pause()
	Resume()
}

// Watcher applies signal files to a Controller.
type Watcher struct {
	dir          string
	pollInterval time.Duration

	mu      sync.Mutex
	aborted bool
	paused  bool
}

// Dir returns the signals directory for a project root.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, ".choicesim", "signals")
}

// NewWatcher creates the signals directory and clears stale signal files
// left by an earlier run.
func NewWatcher(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w := &Watcher{dir: dir, pollInterval: DefaultPollInterval}
	w.Clear()
	return w, nil
}

// SetPollInterval overrides the stat fallback interval.
func (w *Watcher) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Run watches until ctx is done. It never returns an error for a missing
// watcher; it falls back to polling.
func (w *Watcher) Run(ctx context.Context, ctrl Controller) {
	var events <-chan fsnotify.Event
	var errs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[signals] fsnotify unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(w.dir); err != nil {
			log.Printf("[signals] watch %s failed, polling only: %v", w.dir, err)
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.check(ctrl)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			base := filepath.Base(ev.Name)
			if base == AbortFile || base == PauseFile {
				w.check(ctrl)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[signals] watcher error: %v", err)
		case <-ticker.C:
			w.check(ctrl)
		}
	}
}

// check reconciles the signal files with the controller's state.
func (w *Watcher) check(ctrl Controller) {
	abort := w.exists(AbortFile)
	pause := w.exists(PauseFile)

	w.mu.Lock()
	doAbort := abort && !w.aborted
	if doAbort {
		w.aborted = true
	}
	doPause := pause && !w.paused
	doResume := !pause && w.paused
	w.paused = pause
	w.mu.Unlock()

	if doAbort {
		log.Printf("[signals] abort requested")
		ctrl.Abort()
		return
	}
	if doPause {
		log.Printf("[signals] pause requested")
		ctrl.Pause()
	}
	if doResume {
		log.Printf("[signals] resume requested")
		ctrl.Resume()
	}
}

func (w *Watcher) exists(name string) bool {
	_, err := os.Stat(filepath.Join(w.dir, name))
	return err == nil
}

// Clear removes all signal files.
func (w *Watcher) Clear() {
	os.Remove(filepath.Join(w.dir, AbortFile))
	os.Remove(filepath.Join(w.dir, PauseFile))
}

// SendAbort creates the abort signal file in dir.
func SendAbort(dir string) error {
	return send(dir, AbortFile)
}

// SendPause creates the pause signal file in dir.
func SendPause(dir string) error {
	return send(dir, PauseFile)
}

// SendResume removes the pause signal file in dir.
func SendResume(dir string) error {
	err := os.Remove(filepath.Join(dir, PauseFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func send(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}
