// Package output provides notification outputs for signportal.
// Outputs are destinations where signup notifications and digests are sent.
package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/signportal/signportal/internal/config"
)

// Output represents a notification destination.
// Implementations include Slack, Email, and generic webhooks.
type Output interface {
	// Name returns the output identifier (e.g., "slack", "email").
	Name() string

	// Send delivers a message to the output destination.
	// The context can be used for cancellation and timeouts.
	Send(ctx context.Context, message string) error

	// Close releases any resources held by the output.
	Close() error
}

// Registry manages a collection of outputs. Page discovery can register
// frontmatter outputs while notify goroutines send, so the map is guarded.
type Registry struct {
	mu      sync.RWMutex
	outputs map[string]Output
}

// NewRegistry creates a new output registry.
func NewRegistry() *Registry {
	return &Registry{
		outputs: make(map[string]Output),
	}
}

// NewRegistryFromConfig builds a registry with every configured output.
func NewRegistryFromConfig(outputs map[string]*config.OutputConfig) (*Registry, error) {
	r := NewRegistry()
	for name, cfg := range outputs {
		out, err := NewFromConfig(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		r.Register(name, out)
	}
	return r, nil
}

// Register adds an output to the registry.
func (r *Registry) Register(name string, output Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = output
}

// Get retrieves an output by name.
func (r *Registry) Get(name string) (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	output, ok := r.outputs[name]
	return output, ok
}

// Len returns the number of registered outputs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

// snapshot copies the current outputs so sends run without holding the
// lock; a send can block on the network for seconds.
func (r *Registry) snapshot() map[string]Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Output, len(r.outputs))
	for name, o := range r.outputs {
		out[name] = o
	}
	return out
}

// SendAll sends a message to all registered outputs.
func (r *Registry) SendAll(ctx context.Context, message string) error {
	var errs []error
	for name, output := range r.snapshot() {
		if err := output.Send(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to send to %d outputs: %v", len(errs), errs)
	}
	return nil
}

// SendTo sends a message to the named outputs.
// An empty name list sends to all registered outputs.
func (r *Registry) SendTo(ctx context.Context, names []string, message string) error {
	if len(names) == 0 {
		return r.SendAll(ctx, message)
	}

	outputs := r.snapshot()
	var errs []error
	for _, name := range names {
		output, ok := outputs[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: not registered", name))
			continue
		}
		if err := output.Send(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to send to %d outputs: %v", len(errs), errs)
	}
	return nil
}

// Close closes all registered outputs.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, output := range r.outputs {
		if err := output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d outputs: %v", len(errs), errs)
	}
	return nil
}

// NewFromConfig creates an output from configuration.
// Returns an error if the output type is unsupported or configuration is invalid.
func NewFromConfig(name string, cfg *config.OutputConfig) (Output, error) {
	if cfg == nil {
		return nil, fmt.Errorf("output configuration is nil")
	}

	switch cfg.Type {
	case "slack":
		if url := cfg.GetURL(); url != "" {
			return NewSlackOutputWithURL(cfg.GetChannel(), url)
		}
		return NewSlackOutput(cfg.GetChannel())
	case "email":
		return NewEmailOutput(cfg.GetTo(), cfg.Subject)
	case "webhook":
		return NewWebhookOutput(name, cfg.GetURL())
	default:
		return nil, fmt.Errorf("unsupported output type: %s", cfg.Type)
	}
}
