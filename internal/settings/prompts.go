package settings

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PromptOverrides is the on-disk prompt override file. Any empty field falls
// back to the built-in prompt for that class.
type PromptOverrides struct {
	Single   string `yaml:"single"`
	Multi    string `yaml:"multi"`
	Doorbell string `yaml:"doorbell"`
}

// PromptFile hot-reloads prompt overrides from a YAML file. A missing file is
// not an error; overrides simply stay empty.
type PromptFile struct {
	path string

	mu        sync.RWMutex
	overrides PromptOverrides
}

func NewPromptFile(path string) *PromptFile {
	p := &PromptFile{path: path}
	if err := p.reload(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] Prompt Watcher: initial load of %s failed: %v", path, err)
	}
	return p
}

func (p *PromptFile) Overrides() PromptOverrides {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.overrides
}

func (p *PromptFile) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var o PromptOverrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return err
	}
	p.mu.Lock()
	p.overrides = o
	p.mu.Unlock()
	return nil
}

// Watch reloads on file change until ctx is cancelled. Falls back to 60s
// polling when fsnotify cannot be set up.
func (p *PromptFile) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(p.path)
	}
	if err != nil {
		log.Printf("[WARN] Prompt Watcher: fsnotify unavailable for %s (%v), polling instead", p.path, err)
		if watcher != nil {
			watcher.Close()
		}
		go p.poll(ctx)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond)
					if err := p.reload(); err != nil {
						log.Printf("[WARN] Prompt Watcher: reload failed: %v", err)
					} else {
						log.Printf("[INFO] Prompt Watcher: reloaded %s", p.path)
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] Prompt Watcher: %v", werr)
			}
		}
	}()
}

func (p *PromptFile) poll(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.reload(); err != nil && !os.IsNotExist(err) {
				log.Printf("[WARN] Prompt Watcher: poll reload failed: %v", err)
			}
		}
	}
}
