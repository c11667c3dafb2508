// Package command provides the command-dispatch surface consumed by CLI,
// menu and command-palette integrations.
//
// A small set of commands is handled locally; everything else is forwarded
// opaquely to the host's dispatch collaborator.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCommand indicates no local handler or forwarder accepted the
// command.
var ErrUnknownCommand = errors.New("unknown command")

// Handler executes one command.
type Handler func(ctx context.Context, args []string) error

// Command is a locally registered command.
type Command struct {
	Name        string
	Description string
	Handler     Handler
}

// Forwarder is the host collaborator receiving commands not handled
// locally.
type Forwarder interface {
	Execute(ctx context.Context, name string, args []string) error
}

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	forward  Forwarder
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// SetForwarder wires the host dispatch collaborator.
func (r *Registry) SetForwarder(f Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = f
}

// Register adds a local command. An existing command with the same name is
// replaced.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
}

// Available returns all locally registered commands, sorted by name.
func (r *Registry) Available() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Execute runs a command: locally if registered, otherwise through the
// forwarder.
func (r *Registry) Execute(ctx context.Context, name string, args []string) error {
	r.mu.RLock()
	cmd, ok := r.commands[name]
	forward := r.forward
	r.mu.RUnlock()

	if ok {
		if err := cmd.Handler(ctx, args); err != nil {
			return fmt.Errorf("command %s: %w", name, err)
		}
		return nil
	}

	if forward != nil {
		return forward.Execute(ctx, name, args)
	}

	return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}
