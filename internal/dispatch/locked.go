package dispatch

import (
	"context"
	"sync"

	"dyncmd/internal/command"
	"dyncmd/internal/manifest"
)

// Locked serializes access to a Registry. Dispatch, reloads from the file
// watcher and management calls from transports all go through one mutex.
//
// Scripts still receive the bare Registry, so a script that reloads or adds
// commands while it runs does not deadlock.
type Locked struct {
	mu sync.Mutex
	r  *Registry
}

// NewLocked wraps r.
func NewLocked(r *Registry) *Locked {
	return &Locked{r: r}
}

// Registry returns the wrapped registry. Callers must not use it
// concurrently with the Locked methods.
func (l *Locked) Registry() *Registry { return l.r }

func (l *Locked) Parse(ctx context.Context, cc *command.Context, extras map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Parse(ctx, cc, extras)
}

func (l *Locked) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Reload()
}

func (l *Locked) AddCommand(ctx context.Context, text string, opts AddOptions) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.AddCommand(ctx, text, opts)
}

func (l *Locked) RemoveCommand(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.RemoveCommand(name)
}

func (l *Locked) SetDisabled(name string, disabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.SetDisabled(name, disabled)
}

func (l *Locked) SetPrefix(prefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.SetPrefix(prefix)
}

func (l *Locked) Prefix() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Prefix()
}

func (l *Locked) Command(name string) *command.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Command(name)
}

func (l *Locked) Commands() []*command.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Commands()
}

func (l *Locked) CommandData() []manifest.CommandData {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.CommandData()
}

func (l *Locked) Available(level int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Available(level)
}
