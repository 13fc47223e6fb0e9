package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "pubcontrol/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config after its file changes, until ctx is done. The
// parent directory is watched so replace-on-save editors are seen. Bursts of
// events collapse into one reload after reloadDebounce. A failed watcher is
// rebuilt with jittered exponential backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	go m.debounceLoop(ctx, changed)

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, changed)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			// watcher ran and then broke; start the delay afresh
			retry = watchRetryMin
		}
		m.log.Warn("config watcher restarting", logx.String("path", m.path), logx.Err(err))

		delay := retry + rand.N(retry/2+1)
		retry = min(2*retry, watchRetryMax)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher. It returns a non-nil error when the
// watcher could not be set up and nil when it broke after running.
func (m *ConfigManager) watchOnce(ctx context.Context, changed chan<- struct{}) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			switch {
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				notify()
			case err != nil:
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}

// debounceLoop reloads once changed has been quiet for reloadDebounce.
func (m *ConfigManager) debounceLoop(ctx context.Context, changed <-chan struct{}) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
			timer.Reset(reloadDebounce)
		case <-timer.C:
			m.reload(ctx)
		}
	}
}
