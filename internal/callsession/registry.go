package callsession

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrWidgetNotFound = errors.New("callsession: widget not found")

// Registry owns the mounted widgets of this process, one per visitor.
// Widgets never share a voice client.
type Registry struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	widgets map[string]*Widget
}

// NewRegistry fails with ErrConfiguration when the voice key, assistant or
// client factory is missing.
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.NewClient == nil {
		return nil, fmt.Errorf("%w: voice client factory required", ErrConfiguration)
	}
	return &Registry{
		cfg:     cfg,
		deps:    deps.withDefaults(),
		widgets: make(map[string]*Widget),
	}, nil
}

func (r *Registry) Mount() (*Widget, error) {
	w, err := New(uuid.NewString(), r.cfg, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.widgets[w.ID()] = w
	r.mu.Unlock()
	return w, nil
}

func (r *Registry) Get(id string) (*Widget, error) {
	r.mu.Lock()
	w, ok := r.widgets[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrWidgetNotFound
	}
	w.touch()
	return w, nil
}

func (r *Registry) Unmount(id string) error {
	r.mu.Lock()
	w, ok := r.widgets[id]
	delete(r.widgets, id)
	r.mu.Unlock()
	if !ok {
		return ErrWidgetNotFound
	}
	w.Close()
	return nil
}

// Reap unmounts widgets that have seen no visitor activity for maxIdle and
// are not in a live call. It returns the number of widgets removed.
func (r *Registry) Reap(maxIdle time.Duration) int {
	now := r.deps.Clock()

	r.mu.Lock()
	var stale []*Widget
	for id, w := range r.widgets {
		if now.Sub(w.LastActivity()) < maxIdle {
			continue
		}
		if w.Snapshot().Status == StatusActive {
			continue
		}
		delete(r.widgets, id)
		stale = append(stale, w)
	}
	r.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	return len(stale)
}

// CloseAll tears down every widget. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Widget, 0, len(r.widgets))
	for id, w := range r.widgets {
		all = append(all, w)
		delete(r.widgets, id)
	}
	r.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.widgets)
}
