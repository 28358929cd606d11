package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow absorbs the burst of write events a single "drop in a
// rebuilt index" produces (chunks.json then vectors.bin, each possibly
// written in more than one syscall).
const debounceWindow = 500 * time.Millisecond

// Watch watches dir for writes to chunks.json/vectors.bin and calls onReload
// with the freshly loaded index each time a complete, valid pair appears.
// A write that leaves a corrupt or partial pair on disk is logged and
// skipped; the previously loaded index keeps serving queries. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, dir string, logger *slog.Logger, onReload func(*Index)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	reload := func() {
		idx, err := Load(dir)
		if err != nil {
			logger.Warn("retrieval index reload skipped, disk contents incomplete or corrupt", "dir", dir, "error", err)
			return
		}
		logger.Info("retrieval index reloaded from disk", "dir", dir, "chunks", len(idx.Chunks()))
		onReload(idx)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, reload)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("retrieval index watcher error", "dir", dir, "error", werr)
		}
	}
}
