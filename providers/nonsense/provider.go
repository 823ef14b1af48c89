// Package nonsense implements a mock resource backed by an in-memory
// service. It exists to exercise the full lifecycle contract without any
// real external system, and doubles as the conformance vehicle for the
// provider test suite.
package nonsense

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/identity"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// TypeName is the registry key for the note resource.
const TypeName = "nonsense.Note"

// Note names are a unique slot in the service, so a replacement must vacate
// the old name before the new note can be created.
var schema = diff.Schema{
	Fields: map[string]diff.FieldSpec{
		"name":     {Replace: true},
		"triggers": {Replace: true},
		"note":     {},
		"tags":     {},
	},
	DeleteBeforeReplace: true,
}

// service is the fake external system: notes keyed by id, with a name
// uniqueness constraint like most real APIs have.
type service struct {
	mu     sync.Mutex
	notes  map[string]map[string]any // id -> outputs
	byName map[string]string         // name -> id
	writes int
}

func newService() *service {
	return &service{
		notes:  make(map[string]map[string]any),
		byName: make(map[string]string),
	}
}

// Controller drives note resources against the in-memory service.
type Controller struct {
	svc   *service
	now   func() time.Time
	token func() string
}

func New() *Controller {
	return &Controller{
		svc:   newService(),
		now:   time.Now,
		token: identity.NewToken,
	}
}

// DiffSchema exposes the static field sensitivity table.
func (c *Controller) DiffSchema() diff.Schema {
	return schema
}

func (c *Controller) Check(inputs map[string]any) (map[string]any, error) {
	name, _ := inputs["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("note requires a non-empty name")
	}
	if _, ok := inputs["note"]; !ok {
		inputs["note"] = ""
	}
	return inputs, nil
}

func (c *Controller) Diff(old, new map[string]any) (diff.Result, error) {
	return diff.Compute(schema, old, new), nil
}

func (c *Controller) Create(ctx context.Context, spec resource.Spec, preview bool) (lifecycle.CreateOutcome, resource.State, error) {
	name := spec.Inputs["name"].(string)

	outputs := resource.CopyInputs(spec.Inputs)
	if preview {
		// Placeholder id, display only.
		outputs["revision"] = 1
		return lifecycle.Created, resource.State{
			ID:      "preview-" + identity.Slug(name),
			Inputs:  spec.Inputs,
			Outputs: outputs,
		}, nil
	}

	id := identity.New("note", name, c.token())
	logging.Debug("allocating note", "candidate_id", id, "name", name)

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	if existing, ok := c.svc.byName[name]; ok {
		// Retried create against a note that already landed: adopt it.
		return lifecycle.AlreadyExists, resource.State{
			ID:      existing,
			Inputs:  spec.Inputs,
			Outputs: resource.CopyInputs(c.svc.notes[existing]),
		}, nil
	}

	outputs["revision"] = 1
	outputs["createdAt"] = c.now().UTC().Format(time.RFC3339)
	outputs["history"] = []any{"created"}

	c.svc.writes++
	c.svc.notes[id] = resource.CopyInputs(outputs)
	c.svc.byName[name] = id

	return lifecycle.Created, resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}, nil
}

func (c *Controller) Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error) {
	// Seed from the prior outputs; only recomputed fields are overwritten,
	// so fields this update doesn't touch are preserved.
	outputs := resource.CopyInputs(old.Outputs)
	if outputs == nil {
		outputs = make(map[string]any)
	}
	for k, v := range spec.Inputs {
		outputs[k] = v
	}

	var rev int
	switch v := outputs["revision"].(type) {
	case int:
		rev = v
	case float64: // JSON round-tripped state
		rev = int(v)
	}
	outputs["revision"] = rev + 1

	// History derives from the prior state, not the stored one, so a retried
	// update converges instead of double-appending.
	var history []any
	if h, ok := old.Outputs["history"].([]any); ok {
		history = append(history, h...)
	}
	outputs["history"] = append(history, fmt.Sprintf("updated to revision %d", rev+1))

	state := resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}
	if preview {
		return state, nil
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	if _, ok := c.svc.notes[id]; !ok {
		return resource.State{}, fmt.Errorf("note %s does not exist", id)
	}
	c.svc.writes++
	c.svc.notes[id] = resource.CopyInputs(outputs)

	return state, nil
}

func (c *Controller) Delete(ctx context.Context, id string, state resource.State) (lifecycle.DeleteOutcome, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	outputs, ok := c.svc.notes[id]
	if !ok {
		return lifecycle.AlreadyAbsent, nil
	}

	c.svc.writes++
	delete(c.svc.notes, id)
	if name, ok := outputs["name"].(string); ok {
		delete(c.svc.byName, name)
	}
	return lifecycle.Deleted, nil
}
