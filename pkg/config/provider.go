package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sequorlabs/sequor/pkg/policy"
)

// PolicyFileProvider watches a policy file and republishes it on change so a
// running server can swap its admission engine without a restart.
type PolicyFileProvider struct {
	path        string
	logger      *slog.Logger
	mu          sync.RWMutex
	current     policy.Config
	subscribers []chan policy.Config
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewPolicyFileProvider loads the policy file at path and starts watching it.
// The initial load must succeed; a server should not start with an unknown
// admission posture.
func NewPolicyFileProvider(path string, logger *slog.Logger) (*PolicyFileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &PolicyFileProvider{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
	}

	if err := p.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("initial policy load failed: %w", err)
	}

	// Watch the directory rather than the file so editors that replace the
	// file via rename still produce events we can see.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the most recently loaded policy configuration.
func (p *PolicyFileProvider) Current() policy.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that receives policy updates. The current
// configuration is delivered immediately.
func (p *PolicyFileProvider) Subscribe() <-chan policy.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan policy.Config, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.current
	return ch
}

// Close stops the watcher and releases resources.
func (p *PolicyFileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *PolicyFileProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			// fsnotify events may arrive with relative or unclean paths.
			cleanEventName := filepath.Clean(event.Name)
			if cleanEventName != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := p.load(); err != nil {
						p.logger.Error("policy reload failed, keeping previous configuration",
							"path", p.path, "error", err)
					} else {
						p.logger.Info("policy reloaded", "path", p.path)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("policy watcher error", "error", err)
		}
	}
}

func (p *PolicyFileProvider) load() error {
	// #nosec G304 -- path is configured at startup
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var cfg policy.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
			return fmt.Errorf("failed to parse policy file: %v", err)
		}
	}

	p.mu.Lock()
	p.current = cfg
	subscribers := make([]chan policy.Config, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cfg:
		default:
			// Skip slow consumers; they will pick up the next update.
		}
	}

	return nil
}
