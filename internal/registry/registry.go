// Package registry loads static agent definitions from a YAML seed file and
// keeps the agent registry in sync when the file changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

const defaultDebounce = 250 * time.Millisecond

// Registrar upserts an agent's static configuration.
type Registrar interface {
	RegisterAgent(ctx context.Context, req domain.AgentRegisterRequest) (*domain.Agent, error)
}

// File is the seed file layout:
//
//	agents:
//	  - id: 7
//	    name: Discovery EU
//	    type: tender_discovery
//	    endpoint: http://agent-7:9000
//	    credentials_ref: vault:portal/7
type File struct {
	Agents []domain.AgentRegisterRequest `yaml:"agents"`
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed file. Duplicate ids are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}
	seen := make(map[int64]bool, len(f.Agents))
	for i, a := range f.Agents {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		if seen[a.AgentID] {
			return nil, fmt.Errorf("agents[%d]: %w: duplicate id %d", i, domain.ErrInvalidAgent, a.AgentID)
		}
		seen[a.AgentID] = true
	}
	return &f, nil
}

// Apply upserts every agent of the file. It keeps going past failures and
// returns how many agents were applied along with the joined errors.
func Apply(ctx context.Context, r Registrar, f *File) (int, error) {
	var errs []error
	applied := 0
	for _, a := range f.Agents {
		if _, err := r.RegisterAgent(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("agent %d: %w", a.AgentID, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// Watcher re-applies the seed file whenever it changes on disk.
type Watcher struct {
	path      string
	registrar Registrar
	logger    *zap.Logger
	debounce  time.Duration
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, r Registrar, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:      path,
		registrar: r,
		logger:    logger.With(zap.String("agents_file", path)),
		debounce:  defaultDebounce,
	}
}

// Sync loads and applies the file once.
func (w *Watcher) Sync(ctx context.Context) error {
	f, err := Load(w.path)
	if err != nil {
		return err
	}
	n, err := Apply(ctx, w.registrar, f)
	w.logger.Info("agents file applied", zap.Int("agents", n))
	return err
}

// Run applies the file, then watches it until ctx is done. The parent directory
// is watched so editors that replace the file on save are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Sync(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch agents file: %w", err)
	}

	target := filepath.Clean(w.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("agents file watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			if err := w.Sync(ctx); err != nil {
				// Keep the last good registry state; the next save retries.
				w.logger.Error("agents file reload failed", zap.Error(err))
			}
		}
	}
}
