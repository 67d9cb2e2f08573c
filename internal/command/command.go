// Package command implements the chat command registry. Commands are
// registered as (name, handler, description) triples, so administrative
// and domain commands extend the surface without touching the dispatcher.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// HandlerFunc handles one command invocation for a destination and returns
// the reply text. Handlers receive the full message text so they can parse
// their own arguments.
type HandlerFunc func(ctx context.Context, chatID, text string) string

type entry struct {
	handler HandlerFunc
	desc    string
}

// Registry maps command names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	commands map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]entry)}
}

// Register adds or replaces a command. Names include the sentinel prefix,
// e.g. "/mute".
func (r *Registry) Register(name string, h HandlerFunc, desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = entry{handler: h, desc: desc}
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.commands[name]
	return e.handler, ok
}

// Has reports whether name is a registered command.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[name]
	return ok
}

// Help renders the command list in registration order.
func (r *Registry) Help() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range r.order {
		fmt.Fprintf(&b, "\n%s - %s", name, r.commands[name].desc)
	}
	return b.String()
}
