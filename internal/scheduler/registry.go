package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aristath/composer/internal/flow"
	"github.com/gammazero/toposort"
)

// Registry holds named tasks. Registration is expected to happen before runs
// start; registering while a run is resolving is allowed but the run may see
// either version of a replaced task.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task // All tasks indexed by name
	order []string         // Names in first-registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Add registers t, replacing any task with the same name.
func (r *Registry) Add(t Task) error {
	if t.Name == "" {
		return &InvalidArgumentError{Arg: "name", Reason: "task name must not be empty"}
	}
	if err := validateDefinition(t, t.Name, ""); err != nil {
		return err
	}

	cp := t.clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tasks[t.Name] = &cp
	return nil
}

// validateDefinition checks the flow and dependency references of t and of
// every nested definition below it. path prefixes argument names, e.g.
// "deps[0].flow".
func validateDefinition(t Task, owner, path string) error {
	if t.Flow != "" && !t.Flow.Valid() {
		return &InvalidArgumentError{Arg: path + "flow", Reason: fmt.Sprintf("unknown policy %q for task %q", t.Flow, owner)}
	}
	for i, dep := range t.Deps {
		arg := fmt.Sprintf("%sdeps[%d]", path, i)
		switch dep.kind {
		case RefInvalid:
			return &InvalidArgumentError{Arg: arg, Reason: fmt.Sprintf("zero reference in task %q", owner)}
		case RefNested:
			if err := validateDefinition(*dep.task, owner, arg+"."); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns a copy of the task registered under name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[name]
	if !exists {
		return Task{}, false
	}
	return task.clone(), true
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tasks)
}

// Validate checks the whole registry: every name dependency must be
// registered and the graph must be acyclic. It returns task names in
// dependency order.
func (r *Registry) Validate() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// First, verify all name dependencies exist
	deps := make(map[string][]string, len(r.tasks))
	for _, name := range r.order {
		names := nameDeps(r.tasks[name].Deps)
		for _, dep := range names {
			if _, exists := r.tasks[dep]; !exists {
				return nil, &UnknownTaskError{Name: dep, Parent: name}
			}
		}
		deps[name] = names
	}

	// Edge (dep, name) means dep must come before name
	var edges []toposort.Edge
	for _, name := range r.order {
		if len(deps[name]) == 0 {
			edges = append(edges, toposort.Edge{nil, name})
			continue
		}
		for _, dep := range deps[name] {
			edges = append(edges, toposort.Edge{dep, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		if path := findCycle(r.order, deps); path != nil {
			return nil, &CyclicDependencyError{Path: path}
		}
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}

	order := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		name, ok := id.(string)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		order = append(order, name)
	}

	if len(order) != len(r.tasks) {
		var missing []string
		for _, name := range r.order {
			if !seen[name] {
				missing = append(missing, name)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// nameDeps collects the registered names a dependency list refers to,
// looking through nested definitions.
func nameDeps(refs []Ref) []string {
	var names []string
	for _, ref := range refs {
		switch ref.kind {
		case RefName:
			names = append(names, ref.name)
		case RefNested:
			names = append(names, nameDeps(ref.task.Deps)...)
		}
	}
	return names
}

// findCycle returns the first cycle found by a depth-first walk in
// registration order, or nil.
func findCycle(order []string, deps map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(order))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		switch state[name] {
		case visiting:
			for i, n := range stack {
				if n == name {
					return append(append([]string(nil), stack[i:]...), name)
				}
			}
		case done:
			return nil
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range deps[name] {
			if path := visit(dep); path != nil {
				return path
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range order {
		if state[name] == unvisited {
			if path := visit(name); path != nil {
				return path
			}
		}
	}
	return nil
}

// policyOr returns p, or fallback when p is empty.
func policyOr(p, fallback flow.Policy) flow.Policy {
	if p == "" {
		return fallback
	}
	return p
}
