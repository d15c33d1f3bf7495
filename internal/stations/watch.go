package stations

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linnemanlabs/go-core/log"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the directory whenever its file changes, until ctx is done.
// The parent directory is watched so that atomic replace-by-rename is seen.
// A file that fails to parse is logged and the previous contents stay live.
func (d *Directory) Watch(ctx context.Context, logger log.Logger, onReload func(err error)) error {
	if d.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(d.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	L := logger.With("path", target)
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			L.Warn(ctx, "station directory watcher error", "error", err)
		case <-timer.C:
			err := d.Reload()
			if onReload != nil {
				onReload(err)
			}
			if err != nil {
				L.Warn(ctx, "station directory reload failed, keeping previous contents", "error", err)
				continue
			}
			L.Info(ctx, "station directory reloaded", "stations", d.Len())
		}
	}
}
