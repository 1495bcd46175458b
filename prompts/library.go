package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/c360studio/bloom/profile"
	"github.com/c360studio/bloom/task"
)

const (
	// TemplateExt is the file extension of override templates.
	TemplateExt = ".tmpl"

	// RouterTemplate is the override file name for the routing prompt.
	RouterTemplate = "router" + TemplateExt
)

// RouteData is the data passed to a route override template.
type RouteData struct {
	Message string
	Profile profile.Profile
}

// RouterData is the data passed to the router override template.
type RouterData struct {
	Message     string
	Hint        string
	ProfileJSON string
	Tasks       []task.Task
	TaskList    string
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithDir sets the override directory.
func WithDir(dir string) LibraryOption {
	return func(l *Library) {
		l.dir = dir
	}
}

// WithLibraryLogger sets the logger.
func WithLibraryLogger(logger *slog.Logger) LibraryOption {
	return func(l *Library) {
		l.logger = logger
	}
}

// Library resolves routes to prompt builders. Templates found in the
// override directory replace the built-in builder for their route.
type Library struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	overrides map[string]*template.Template
	router    *template.Template
}

// NewLibrary creates a library. With no directory it serves built-ins only.
func NewLibrary(opts ...LibraryOption) *Library {
	l := &Library{
		logger:    slog.Default(),
		overrides: make(map[string]*template.Template),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the override directory, or "" when none is configured.
func (l *Library) Dir() string {
	return l.dir
}

// Reload re-reads the override directory. A missing directory clears all
// overrides. On a parse error the previous set stays in place.
func (l *Library) Reload() error {
	if l.dir == "" {
		return nil
	}

	overrides, router, err := loadTemplates(l.dir)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.overrides = overrides
	l.router = router
	l.mu.Unlock()

	l.logger.Info("Prompt overrides loaded",
		"dir", l.dir,
		"routes", len(overrides),
		"router", router != nil)
	return nil
}

func loadTemplates(dir string) (map[string]*template.Template, *template.Template, error) {
	overrides := make(map[string]*template.Template)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return overrides, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read prompt dir: %w", err)
	}

	var router *template.Template
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, TemplateExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("read template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Option("missingkey=zero").Parse(string(data))
		if err != nil {
			return nil, nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		if name == RouterTemplate {
			router = tmpl
			continue
		}

		route := strings.TrimSuffix(name, TemplateExt)
		if _, _, ok := task.SplitRoute(route); !ok {
			return nil, nil, fmt.Errorf("template %s: name must be <pillar>.<action>%s", name, TemplateExt)
		}
		overrides[route] = tmpl
	}
	return overrides, router, nil
}

// Overrides lists the routes currently served from templates, sorted.
func (l *Library) Overrides() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.overrides))
	for name := range l.overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder returns the builder for a route. Lookup order is the override
// template, the built-in for the route, the built-in for the pillar's
// default action, then mind general support.
func (l *Library) Builder(pillar task.Pillar, action string) Builder {
	route := task.RouteName(pillar, action)

	l.mu.RLock()
	tmpl := l.overrides[route]
	l.mu.RUnlock()

	fallback := l.builtinFor(pillar, action)
	if tmpl == nil {
		return fallback
	}

	return func(message string, p profile.Profile) string {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, RouteData{Message: message, Profile: p}); err != nil {
			l.logger.Warn("Prompt template failed, using built-in",
				"route", route,
				"error", err)
			return fallback(message, p)
		}
		return buf.String()
	}
}

func (l *Library) builtinFor(pillar task.Pillar, action string) Builder {
	if b, ok := builtins[task.RouteName(pillar, action)]; ok {
		return b
	}
	if b, ok := builtins[task.RouteName(pillar, pillar.DefaultAction())]; ok {
		return b
	}
	return GeneralSupport
}

// Router renders the routing prompt, preferring the router template.
func (l *Library) Router(message, hint, profileJSON string, tasks []task.Task) string {
	l.mu.RLock()
	tmpl := l.router
	l.mu.RUnlock()

	if tmpl == nil {
		return Router(message, hint, profileJSON, tasks)
	}

	if hint == "" {
		hint = NoHint
	}
	data := RouterData{
		Message:     message,
		Hint:        hint,
		ProfileJSON: profileJSON,
		Tasks:       tasks,
		TaskList:    TaskList(tasks),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		l.logger.Warn("Router template failed, using built-in", "error", err)
		return Router(message, hint, profileJSON, tasks)
	}
	return buf.String()
}
