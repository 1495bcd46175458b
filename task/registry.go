package task

import (
	"errors"
	"fmt"
	"strings"
)

// Registry errors. Both are startup-time configuration failures.
var (
	// ErrDuplicateTask is returned when two tasks share a name.
	ErrDuplicateTask = errors.New("duplicate task name")

	// ErrInvalidTask is returned when a task is malformed.
	ErrInvalidTask = errors.New("invalid task")
)

// Task is a single registered route.
type Task struct {
	// Name is the unique key, always Pillar + "." + Action.
	Name string `json:"name"`

	// Pillar owns the task and selects the specialist that runs it.
	Pillar Pillar `json:"pillar"`

	// Action is unique within the pillar.
	Action string `json:"action"`

	// Description is shown to the router alongside the name.
	Description string `json:"description"`

	// RequiresImage is true when the specialist's output depends on a photo.
	RequiresImage bool `json:"requires_image"`
}

// New builds a task with its name derived from pillar and action.
func New(pillar Pillar, action, description string, requiresImage bool) Task {
	return Task{
		Name:          RouteName(pillar, action),
		Pillar:        pillar,
		Action:        action,
		Description:   description,
		RequiresImage: requiresImage,
	}
}

// RouteName joins a pillar and action into a route name.
func RouteName(pillar Pillar, action string) string {
	return string(pillar) + "." + action
}

// SplitRoute splits a route name on the first dot. ok is false unless both
// halves are non-empty.
func SplitRoute(name string) (pillar, action string, ok bool) {
	pillar, action, found := strings.Cut(name, ".")
	if !found || pillar == "" || action == "" {
		return "", "", false
	}
	return pillar, action, true
}

// Registry is an immutable table of tasks. It is built once at startup and
// only read afterwards, so it is safe for unlimited concurrent readers
// without locking.
type Registry struct {
	tasks  map[string]Task
	order  []string
	pillar map[Pillar][]Task
}

// NewRegistry builds a registry from tasks in the given order. A duplicate
// name or a malformed task is an error; nothing is ever silently replaced.
func NewRegistry(tasks ...Task) (*Registry, error) {
	r := &Registry{
		tasks:  make(map[string]Task, len(tasks)),
		order:  make([]string, 0, len(tasks)),
		pillar: make(map[Pillar][]Task),
	}

	for _, t := range tasks {
		if err := validate(t); err != nil {
			return nil, err
		}
		if _, exists := r.tasks[t.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
		}
		r.tasks[t.Name] = t
		r.order = append(r.order, t.Name)
		r.pillar[t.Pillar] = append(r.pillar[t.Pillar], t)
	}

	return r, nil
}

func validate(t Task) error {
	if !t.Pillar.IsValid() {
		return fmt.Errorf("%w: %q has unknown pillar %q", ErrInvalidTask, t.Name, t.Pillar)
	}
	if t.Action == "" {
		return fmt.Errorf("%w: %q has no action", ErrInvalidTask, t.Name)
	}
	if t.Name != RouteName(t.Pillar, t.Action) {
		return fmt.Errorf("%w: name %q does not match %s.%s", ErrInvalidTask, t.Name, t.Pillar, t.Action)
	}
	return nil
}

// Lookup returns the task registered for pillar and action.
func (r *Registry) Lookup(pillar, action string) (Task, bool) {
	t, ok := r.tasks[pillar+"."+action]
	return t, ok
}

// Get returns the task registered under a full route name.
func (r *Registry) Get(name string) (Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Names returns every route name in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// All returns every task in registration order.
func (r *Registry) All() []Task {
	all := make([]Task, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.tasks[name])
	}
	return all
}

// TasksFor returns the tasks of one pillar in registration order.
func (r *Registry) TasksFor(pillar Pillar) []Task {
	tasks := r.pillar[pillar]
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	return len(r.order)
}
