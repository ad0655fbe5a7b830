// Package watch implements drop-dir mode: new scenario files appearing in
// a watched directory each trigger one pipeline run.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDefault = 200 * time.Millisecond

// DropWatcher watches a directory for new scenario files using fsnotify.
// Scenarios run sequentially: the audit chain and risk store are
// single-writer.
type DropWatcher struct {
	dir      string
	handler  func(path string)
	debounce time.Duration
}

// New creates a watcher that calls handler for each new scenario file.
func New(dir string, handler func(path string)) *DropWatcher {
	return &DropWatcher{dir: dir, handler: handler, debounce: debounceDefault}
}

// Run watches the directory until ctx is cancelled. Handler panics are
// contained so one bad scenario never stops the watcher.
func (w *DropWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	// Writers may emit several events per file; a single debounce timer
	// batches them and flushes once the file has settled.
	var mu sync.Mutex
	ready := make(map[string]bool)

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()

		for _, p := range batch {
			w.run(p)
		}
	}

	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isScenarioFile(event.Name) {
				continue
			}

			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func (w *DropWatcher) run(path string) {
	defer func() {
		recover()
	}()
	w.handler(path)
}

func isScenarioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".ndjson", ".jsonl":
		return true
	}
	return false
}
