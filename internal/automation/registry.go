package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gosuda/taskrelay/internal/domain"
)

// ErrUnknownTask is returned when a requested task type is not registered.
var ErrUnknownTask = errors.New("automation: unknown task type") //nolint:gochecknoglobals // sentinel error

// ErrMissingCredential is returned when a task needs a secret the server was not given.
var ErrMissingCredential = fmt.Errorf("automation: credential not configured: %w", domain.ErrUnavailable) //nolint:gochecknoglobals // sentinel error

// ValidationError reports a bad trigger parameter. It matches domain.ErrInvalidInput.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidInput }

// Params is the trigger request body shared by every task type.
type Params struct {
	CDPURL       string          `json:"cdpUrl"`
	FormData     json.RawMessage `json:"formData,omitempty"`
	SelectedFirm string          `json:"selectedFirm,omitempty"`
}

// Credentials holds server-side secrets passed to workers that need them.
type Credentials struct {
	LawmaticsPassword string
}

// TaskDefinition describes one launchable automation.
type TaskDefinition struct {
	Name        string
	Label       string // prefix of the terminal message, e.g. "Bulk matters automation"
	Description string
	Script      string // file name inside the script directory

	// Args validates p and returns the worker arguments that follow the script path.
	Args func(p Params, creds Credentials) ([]string, error)
	// Intro returns messages logged before the worker starts. May be nil.
	Intro func(p Params) []string
}

// Registry maps task type names to definitions.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskDefinition
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]TaskDefinition),
	}
}

// Register adds or replaces a task definition.
func (r *Registry) Register(def TaskDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[def.Name] = def
}

// Lookup returns the definition for taskType.
func (r *Registry) Lookup(taskType string) (TaskDefinition, error) {
	r.mu.RLock()
	def, ok := r.tasks[taskType]
	r.mu.RUnlock()

	if !ok {
		return TaskDefinition{}, fmt.Errorf("automation.Registry.Lookup(%q): %w", taskType, ErrUnknownTask)
	}
	return def, nil
}

// Available returns registered definitions sorted by name.
func (r *Registry) Available() []TaskDefinition {
	r.mu.RLock()
	defs := make([]TaskDefinition, 0, len(r.tasks))
	for _, def := range r.tasks {
		defs = append(defs, def)
	}
	r.mu.RUnlock()

	slices.SortFunc(defs, func(a, b TaskDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}
