package objects

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/doorwayhq/doorway/pkg/observability"
)

// definitionsFile is the YAML shape of the optional definitions file.
type definitionsFile struct {
	ObjectTypes []Definition `yaml:"object_types"`
}

// LoadDefinitionsFile reads path and applies its object types to the
// registry. A file that cannot be read, parsed, or validated returns an
// error and leaves the registry unchanged.
func LoadDefinitionsFile(registry *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read definitions file: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse definitions file: %w", err)
	}

	return registry.ApplyFileDefinitions(file.ObjectTypes)
}

// Watcher hot-reloads the definitions file when it changes. Invalid updates
// are logged and skipped so the last good set stays in effect.
type Watcher struct {
	registry  *Registry
	path      string
	logger    *observability.Logger
	fsw       *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching the definitions file at path.
func NewWatcher(registry *Registry, path string, logger *observability.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, not the file: editors and config tooling replace
	// files by rename, which silently drops a watch held on the file itself.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		registry: registry,
		path:     path,
		logger:   logger,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := LoadDefinitionsFile(w.registry, w.path); err != nil {
				w.logger.WithError(err).Errorf("Ignoring invalid definitions file update")
				continue
			}
			w.logger.WithField("path", w.path).Infof("Reloaded object definitions file")

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warnf("Definitions watcher error")

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
