// Package pipeline implements a CI pipeline definition resource. Definitions
// are immutable snapshots: the id is content-addressed over the fields that
// define the pipeline, so changing them means a replace and two logically
// identical pipelines collapse to one id.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/identity"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// TypeName is the registry key for the pipeline resource.
const TypeName = "pipeline.Definition"

var schema = diff.Schema{
	Fields: map[string]diff.FieldSpec{
		"repository": {Replace: true},
		"stages":     {Replace: true},
		"env":        {},
		"enabled":    {},
	},
}

// ErrNotFound is returned by stores for ids that hold no definition.
var ErrNotFound = errors.New("pipeline definition not found")

// Store persists pipeline definitions keyed by id.
type Store interface {
	Put(ctx context.Context, id string, doc map[string]any) error
	Get(ctx context.Context, id string) (map[string]any, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the in-process Store used by tests and local runs. Sessions
// on distinct ids may run concurrently, so access is guarded.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

func (s *MemoryStore) Put(ctx context.Context, id string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = resource.CopyInputs(doc)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return resource.CopyInputs(doc), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// Controller drives pipeline definition resources.
type Controller struct {
	store Store
}

func New(store Store) *Controller {
	return &Controller{store: store}
}

// DiffSchema exposes the static field sensitivity table.
func (c *Controller) DiffSchema() diff.Schema {
	return schema
}

func (c *Controller) Check(inputs map[string]any) (map[string]any, error) {
	repo, _ := inputs["repository"].(string)
	if repo == "" {
		return nil, fmt.Errorf("pipeline requires a repository")
	}
	stages, ok := inputs["stages"].([]any)
	if !ok || len(stages) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one stage")
	}
	for i, stage := range stages {
		if name, _ := stage.(string); name == "" {
			return nil, fmt.Errorf("stage %d must be a non-empty string", i)
		}
	}
	if _, ok := inputs["enabled"]; !ok {
		inputs["enabled"] = true
	}
	return inputs, nil
}

func (c *Controller) Diff(old, new map[string]any) (diff.Result, error) {
	return diff.Compute(schema, old, new), nil
}

// identityOf hashes only the replace-sensitive fields. In-place changes to
// env or enabled must not move the id.
func identityOf(inputs map[string]any) string {
	return identity.ContentAddressed("pipe", map[string]any{
		"repository": inputs["repository"],
		"stages":     inputs["stages"],
	})
}

// Create persists the definition. The content-addressed id is deterministic,
// so the preview id is the real id and a retried create lands on the same
// key and adopts whatever the earlier attempt wrote.
func (c *Controller) Create(ctx context.Context, spec resource.Spec, preview bool) (lifecycle.CreateOutcome, resource.State, error) {
	id := identityOf(spec.Inputs)

	outputs := resource.CopyInputs(spec.Inputs)
	outputs["definitionId"] = id
	state := resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}

	if preview {
		return lifecycle.Created, state, nil
	}

	logging.Debug("writing pipeline definition", "candidate_id", id)

	if existing, err := c.store.Get(ctx, id); err == nil {
		state.Outputs = existing
		return lifecycle.AlreadyExists, state, nil
	} else if !errors.Is(err, ErrNotFound) {
		return lifecycle.Created, resource.State{}, fmt.Errorf("failed to check for existing definition: %w", err)
	}

	if err := c.store.Put(ctx, id, outputs); err != nil {
		return lifecycle.Created, resource.State{}, fmt.Errorf("failed to write definition: %w", err)
	}
	return lifecycle.Created, state, nil
}

func (c *Controller) Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error) {
	outputs := resource.CopyInputs(old.Outputs)
	if outputs == nil {
		outputs = make(map[string]any)
	}
	for k, v := range spec.Inputs {
		outputs[k] = v
	}
	outputs["definitionId"] = id

	state := resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}
	if preview {
		return state, nil
	}

	if _, err := c.store.Get(ctx, id); err != nil {
		return resource.State{}, fmt.Errorf("definition %s: %w", id, err)
	}
	if err := c.store.Put(ctx, id, outputs); err != nil {
		return resource.State{}, fmt.Errorf("failed to update definition: %w", err)
	}
	return state, nil
}

func (c *Controller) Delete(ctx context.Context, id string, state resource.State) (lifecycle.DeleteOutcome, error) {
	err := c.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return lifecycle.AlreadyAbsent, nil
		}
		return lifecycle.Deleted, fmt.Errorf("failed to delete definition: %w", err)
	}
	return lifecycle.Deleted, nil
}
