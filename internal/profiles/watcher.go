package profiles

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce absorbs the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the catalog whenever a YAML file in the profile directory changes.
// It returns once the watcher is installed; the loop runs until ctx is done or
// Close is called.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return fmt.Errorf("profile directory not configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch profile directory: %w", err)
	}

	go c.watchLoop(ctx, watcher)

	c.logger.Info("Profile catalog watcher started", zap.String("dir", c.dir))
	return nil
}

// Close stops the watch loop.
func (c *Catalog) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Catalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in profile watch loop", zap.Any("panic", r))
		}
	}()
	defer watcher.Close()

	// a nil channel blocks until the first relevant event arms the timer
	var reload <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			c.logger.Debug("Profile file event",
				zap.String("file", filepath.Base(event.Name)),
				zap.String("op", event.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			if err := c.Reload(); err != nil {
				c.logger.Warn("Profile catalog reload incomplete", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("Profile watcher error", zap.Error(err))
		}
	}
}
