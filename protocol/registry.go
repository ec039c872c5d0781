package protocol

import (
	"fmt"
	"strings"
	"sync"
)

// Handler decodes its own arguments from the front of *args.
type Handler func(args *[]byte) error

// Command is one entry of the link's dictionary. Responses are commands
// that travel bridge to host and carry no handler on the bridge.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "pin=%c value=%c"
	Handler Handler
}

// Registry numbers commands in registration order, so both ends of the
// link agree on ids by registering the same list.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint16]*Command
	byName map[string]uint16
	next   uint16
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint16]*Command),
		byName: make(map[string]uint16),
	}
}

// Register adds a command and returns its id. Registering a name twice
// returns the first id.
func (r *Registry) Register(name, format string) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.next
	r.next++
	r.byID[id] = &Command{ID: id, Name: name, Format: format}
	r.byName[name] = id
	return id
}

// Handle attaches a handler to a registered command.
func (r *Registry) Handle(id uint16, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownCommand, id)
	}
	cmd.Handler = h
	return nil
}

func (r *Registry) Lookup(id uint16) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byID[id]
	if !ok {
		return Command{}, false
	}
	return *cmd, true
}

// LookupName finds a command by name.
func (r *Registry) LookupName(name string) (Command, bool) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Command{}, false
	}
	return r.Lookup(id)
}

// Name returns a printable name for id.
func (r *Registry) Name(id uint16) string {
	if cmd, ok := r.Lookup(id); ok {
		return cmd.Name
	}
	return fmt.Sprintf("cmd(%d)", id)
}

// Dispatch runs the handler for id.
func (r *Registry) Dispatch(id uint16, args *[]byte) error {
	cmd, ok := r.Lookup(id)
	if !ok || cmd.Handler == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownCommand, id)
	}
	return cmd.Handler(args)
}

// Dictionary lists every command as "id name format", one per line.
func (r *Registry) Dictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for id := range r.next {
		cmd := r.byID[id]
		fmt.Fprintf(&sb, "%d %s", id, cmd.Name)
		if cmd.Format != "" {
			sb.WriteString(" " + cmd.Format)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Describe renders one payload as "name arg=value ...". Arguments are
// decoded by walking the command's format; byte strings print as hex.
func (r *Registry) Describe(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "ack", nil
	}
	id, err := DecodeVLQUint(&payload)
	if err != nil {
		return "", err
	}
	cmd, ok := r.Lookup(uint16(id))
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrUnknownCommand, id)
	}
	var sb strings.Builder
	sb.WriteString(cmd.Name)
	for _, field := range strings.Fields(cmd.Format) {
		name, verb, _ := strings.Cut(field, "=")
		sb.WriteString(" " + name + "=")
		if verb == "%*s" {
			b, err := DecodeVLQBytes(&payload)
			if err != nil {
				return "", fmt.Errorf("%s: %s: %w", cmd.Name, name, err)
			}
			fmt.Fprintf(&sb, "%x", b)
			continue
		}
		v, err := DecodeVLQUint(&payload)
		if err != nil {
			return "", fmt.Errorf("%s: %s: %w", cmd.Name, name, err)
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	return sb.String(), nil
}
