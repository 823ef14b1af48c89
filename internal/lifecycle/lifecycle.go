// Package lifecycle defines the contract every resource provider implements:
// a fixed capability set of Check, Diff, Create, Update and Delete over a
// single resource instance, with explicit preview semantics and idempotency
// requirements. Polymorphism is over this interface, not inheritance.
package lifecycle

import (
	"context"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// CreateOutcome distinguishes a fresh creation from adopting an external
// object that already existed. Idempotency is a result variant here, not a
// caught exception.
type CreateOutcome int

const (
	Created CreateOutcome = iota
	AlreadyExists
)

func (o CreateOutcome) String() string {
	if o == AlreadyExists {
		return "already-exists"
	}
	return "created"
}

// DeleteOutcome distinguishes an actual delete from the target already being
// gone; both are success.
type DeleteOutcome int

const (
	Deleted DeleteOutcome = iota
	AlreadyAbsent
)

func (o DeleteOutcome) String() string {
	if o == AlreadyAbsent {
		return "already-absent"
	}
	return "deleted"
}

// Controller drives one resource type against its external system.
//
// Implementations must honor:
//
//   - Preview purity: with preview true, Create and Update return a projected
//     state without touching the external system; Delete is never invoked in
//     preview at all.
//   - Create idempotency: a retried create that observes "already exists"
//     adopts the object and reports AlreadyExists with the same final state
//     a single call would have produced.
//   - Update idempotency: the same (id, old, spec) applied twice converges to
//     the same state without accumulating side effects. Update must not
//     mutate old in place; old stays authoritative until success.
//   - Delete tolerance: deleting an id the external system no longer knows is
//     AlreadyAbsent, not an error.
//   - Outputs on Update are seeded from the prior outputs and only the fields
//     the provider recomputes are overwritten.
type Controller interface {
	// Check validates inputs and fills defaults. Side-effect free; it runs
	// before Create and Update are attempted.
	Check(inputs map[string]any) (map[string]any, error)

	// Diff classifies the change between the last applied inputs and the
	// desired inputs. Pure; safe in preview.
	Diff(old, new map[string]any) (diff.Result, error)

	// Create allocates outputs for a brand-new resource. In preview the
	// returned state may carry a provisional placeholder id for display; it
	// must never be persisted.
	Create(ctx context.Context, spec resource.Spec, preview bool) (CreateOutcome, resource.State, error)

	// Update applies an in-place change. Only called when Diff classified
	// the change as non-replacing.
	Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error)

	// Delete removes the external resource.
	Delete(ctx context.Context, id string, state resource.State) (DeleteOutcome, error)
}

// Schema is implemented by controllers that expose their static diff schema,
// letting the session run the diff engine uniformly.
type Schema interface {
	DiffSchema() diff.Schema
}

// Phase names a resource's position in its lifecycle state machine:
//
//	Absent -> Creating -> Present
//	Present -> Updating -> Present
//	Present -> Replacing -> Creating(new id) + Deleting(old id) -> Present
//	Present -> Deleting -> Absent
//
// A resource left mid-Creating or mid-Deleting by a crash is tainted; the
// caller resumes by re-invoking the same operation against the same id.
type Phase string

const (
	Absent    Phase = "absent"
	Creating  Phase = "creating"
	Present   Phase = "present"
	Updating  Phase = "updating"
	Replacing Phase = "replacing"
	Deleting  Phase = "deleting"
)

var transitions = map[Phase][]Phase{
	Absent:    {Creating},
	Creating:  {Present, Creating, Absent},
	Present:   {Updating, Replacing, Deleting},
	Updating:  {Present},
	Replacing: {Creating, Deleting},
	Deleting:  {Absent, Deleting},
}

// ValidTransition reports whether moving from one phase to another respects
// the state machine. Creating->Creating and Deleting->Deleting model a
// resumed retry against a tainted resource.
func ValidTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
