package harness

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/testinvoke/internal/invoker"
)

// NotRegisteredError is returned when a plan names something the registry
// doesn't know.
type NotRegisteredError struct {
	What string // "class", "method" or "hook"
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("%s %q is not registered", e.What, e.Name)
}

// HookFactory creates a fresh hook for one case.
type HookFactory func() invoker.Hook

type classEntry struct {
	class   *invoker.TestClass
	methods map[string]*invoker.TestMethod
}

// Registry maps plan names to test classes, methods and hooks.
//
// Thread-safety: safe for concurrent use. Registration normally happens once
// before any Run.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*classEntry
	hooks   map[string]HookFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[string]*classEntry),
		hooks:   make(map[string]HookFactory),
	}
}

// RegisterClass adds a class and its test methods.
// Registering the same class name twice is an error.
func (r *Registry) RegisterClass(class *invoker.TestClass, methods ...*invoker.TestMethod) error {
	if class == nil || class.Name == "" {
		return fmt.Errorf("register class: class name is required")
	}

	entry := &classEntry{class: class, methods: make(map[string]*invoker.TestMethod, len(methods))}
	for _, m := range methods {
		if m == nil || m.Name == "" {
			return fmt.Errorf("register class %s: method name is required", class.Name)
		}
		if _, dup := entry.methods[m.Name]; dup {
			return fmt.Errorf("register class %s: duplicate method %s", class.Name, m.Name)
		}
		entry.methods[m.Name] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.classes[class.Name]; dup {
		return fmt.Errorf("register class: %s already registered", class.Name)
	}
	r.classes[class.Name] = entry
	return nil
}

// RegisterHook adds a named hook factory.
func (r *Registry) RegisterHook(name string, factory HookFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register hook: name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.hooks[name]; dup {
		return fmt.Errorf("register hook: %s already registered", name)
	}
	r.hooks[name] = factory
	return nil
}

// Lookup resolves a class and method by name.
func (r *Registry) Lookup(class, method string) (*invoker.TestClass, *invoker.TestMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.classes[class]
	if !ok {
		return nil, nil, &NotRegisteredError{What: "class", Name: class}
	}
	m, ok := entry.methods[method]
	if !ok {
		return nil, nil, &NotRegisteredError{What: "method", Name: class + "." + method}
	}
	return entry.class, m, nil
}

// Hook creates a new instance of the named hook.
func (r *Registry) Hook(name string) (invoker.Hook, error) {
	r.mu.RLock()
	factory, ok := r.hooks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotRegisteredError{What: "hook", Name: name}
	}
	return factory(), nil
}

// Classes returns every registered class name with its method names, sorted.
func (r *Registry) Classes() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.classes))
	for name, entry := range r.classes {
		methods := make([]string, 0, len(entry.methods))
		for m := range entry.methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		out[name] = methods
	}
	return out
}

// Hooks returns the registered hook names, sorted.
func (r *Registry) Hooks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
