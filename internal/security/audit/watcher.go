// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher raises a CRITICAL AUDIT_TAMPER event when the audit log is
// truncated, extended, replaced or removed by anything other than the trail
// (NIST 800-53 AU-9). It assumes this trail is the log's only writer.
type Watcher struct {
	trail   *Trail
	watcher *fsnotify.Watcher
	target  string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// Watch starts watching the trail's log file. The watcher is stopped by
// Trail.Close or by calling Close on it directly.
func (t *Trail) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create audit watcher: %w", err)
	}

	target, err := filepath.Abs(t.path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve audit log path: %w", err)
	}
	// Watch the directory so removal and rename of the file are seen.
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		trail:   t,
		watcher: fsw,
		target:  target,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.wg.Add(1)
	go w.run()

	t.mu.Lock()
	prev := t.watcher
	t.watcher = w
	t.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if desc, tampered := w.trail.checkFile(); tampered {
				w.trail.Append(LevelCritical, "Audit log tampering detected: "+desc,
					WithAction(ActionAuditTamper),
					WithDetails(map[string]string{"op": event.Op.String()}))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.trail.logger.Warn("audit watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
