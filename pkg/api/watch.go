package api

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/metrics"
	"github.com/cfkarakulak/superdeploy/pkg/orchestrator"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// defaultDebounce is how long the watcher waits after the last file
// change before enqueueing deployments. Editors and git checkouts
// touch several files in quick succession.
const defaultDebounce = 500 * time.Millisecond

// Watcher deploys projects when their configuration changes on disk. A
// change under projects/ maps to that one project; changes to addons,
// environments, templates or defaults touch every project. Idempotent
// hashing makes over-triggering safe: unaffected units no-op.
type Watcher struct {
	server   *Server
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger

	mu      sync.Mutex
	changed map[string]bool // project names, "" marks a global change
	timer   *time.Timer
}

// NewWatcher creates a watcher over the configuration directory.
func NewWatcher(server *Server, dir string) *Watcher {
	return &Watcher{
		server:   server,
		dir:      dir,
		debounce: defaultDebounce,
		changed:  make(map[string]bool),
		logger:   log.WithComponent("watch"),
	}
}

// Start begins watching. The watcher stops when ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.watchTree(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	go w.run(ctx)
	w.logger.Info().Str("dir", w.dir).Msg("Watching configuration directory")
	return nil
}

// watchTree registers dir and every subdirectory with the watcher.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchTree(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Watching new directory failed")
					}
					continue
				}
			}
			w.record(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// record notes a changed path and arms the debounce timer.
func (w *Watcher) record(path string) {
	project, ok := w.classify(path)
	if !ok {
		return
	}

	w.mu.Lock()
	w.changed[project] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
	w.mu.Unlock()

	w.logger.Debug().Str("path", path).Msg("Configuration file changed")
}

// classify maps a changed file to the project it affects. The empty
// name with ok means a shared file changed and every project needs a
// pass.
func (w *Watcher) classify(path string) (string, bool) {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".tmpl" {
		return "", false
	}
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 2 && parts[0] == "projects" {
		return strings.TrimSuffix(parts[1], ext), true
	}
	return "", true
}

// flush enqueues one deployment per affected project.
func (w *Watcher) flush() {
	w.mu.Lock()
	changed := w.changed
	w.changed = make(map[string]bool)
	w.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	projects := make([]string, 0, len(changed))
	if changed[""] {
		all, err := w.server.orch.Projects()
		if err != nil {
			w.logger.Error().Err(err).Msg("Listing projects for watch deploy failed")
			return
		}
		projects = all
	} else {
		for name := range changed {
			projects = append(projects, name)
		}
	}

	for _, project := range projects {
		run, err := w.server.enqueueDeploy(project, orchestrator.DeployOptions{Trigger: types.TriggerWatch})
		if err != nil {
			w.logger.Error().Err(err).Str("project", project).Msg("Enqueueing watch deploy failed")
			continue
		}
		metrics.WatchReloadsTotal.Inc()
		w.logger.Info().Str("project", project).Str("run_id", run.ID).Msg("Configuration change enqueued")
	}
}
