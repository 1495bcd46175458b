package pipeline

import "github.com/c360studio/bloom/task"

// Validation is the outcome of checking a routed pair against the registry.
type Validation struct {
	// Route is the route that will be dispatched.
	Route Route

	// Task is the registered task for Route. It is zero only when the
	// registry does not hold the pillar's default action either.
	Task task.Task

	// Found is true when the routed pair was registered as given.
	Found bool

	// Repaired is true when an unknown pillar or action was replaced by
	// a default.
	Repaired bool

	// Downgraded is true when an image-only task was swapped for the
	// pillar's non-image fallback.
	Downgraded bool
}

// Changed reports whether the dispatched route differs from the input.
func (v Validation) Changed() bool {
	return v.Repaired || v.Downgraded
}

// ValidateRoute resolves a routed pair against the registry. An unknown
// pillar becomes mind, an unknown action becomes the pillar's default
// action, and a task that needs an image is downgraded when hasImage is
// false. It never calls a model and is idempotent: validating its own
// output returns the same route unchanged.
func ValidateRoute(reg *task.Registry, pillar, action string, hasImage bool) Validation {
	var v Validation

	p := task.ParsePillar(pillar)
	if p == "" {
		p = task.PillarMind
		action = p.DefaultAction()
		v.Repaired = true
	}

	t, ok := reg.Lookup(string(p), action)
	if ok && !v.Repaired {
		v.Found = true
	}
	if !ok {
		action = p.DefaultAction()
		t, ok = reg.Lookup(string(p), action)
		v.Repaired = true
	}

	if ok && t.RequiresImage && !hasImage {
		action = p.NonImageFallback()
		t, ok = reg.Lookup(string(p), action)
		v.Downgraded = true
	}

	if !ok {
		t = task.Task{}
	}
	v.Route = Route{Pillar: p, Action: action}
	v.Task = t
	return v
}
