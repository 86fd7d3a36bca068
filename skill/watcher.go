package skill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// WatcherConfig configures the background change detector.
type WatcherConfig struct {
	// Interval between polls of the registered units' sources.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// UnmarshalYAML accepts durations in "30s" form.
func (c *WatcherConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("parse watch interval: %w", err)
		}
		c.Interval = d
	}
	return nil
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{Interval: 30 * time.Second}
}

// Watcher periodically compares each registered unit's on-disk content hash
// against the registered one and reloads on change. Reload failures are
// logged, never propagated; the watcher is disabled unless started, and
// Stop shuts it down deterministically.
type Watcher struct {
	loader *Loader
	config WatcherConfig
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher over the loader's registry.
func NewWatcher(loader *Loader, config WatcherConfig, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultWatcherConfig().Interval
	}
	return &Watcher{
		loader: loader,
		config: config,
		logger: logger.With(zap.String("component", "skill_watcher")),
	}
}

// Start launches the polling loop. It is a no-op if already running.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(ctx, w.stop, w.done)
	w.logger.Info("skill watcher started",
		zap.Duration("interval", w.config.Interval))
}

// Stop terminates the polling loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("skill watcher stopped")
}

func (w *Watcher) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep reloads every registered unit whose source changed on disk.
func (w *Watcher) sweep(ctx context.Context) {
	for _, unitID := range w.loader.Registry().List() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.loader.Reload(ctx, unitID); err != nil {
			w.logger.Warn("background reload failed",
				zap.String("unit_id", unitID),
				zap.Error(err))
		}
	}
}
