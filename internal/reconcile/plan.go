// Package reconcile drives a set of desired resources to convergence. It
// compares the desired file against the persisted snapshot, produces a flat
// ordered plan, and applies it one change at a time through sessions.
package reconcile

import (
	"context"
	"fmt"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/registry"
	"github.com/reconcilr-io/reconcilr/internal/resource"
	"github.com/reconcilr-io/reconcilr/internal/session"
	"github.com/reconcilr-io/reconcilr/internal/statefile"
)

// Desired is one resource from the deployment file.
type Desired struct {
	Type   string         `yaml:"type"`
	Name   string         `yaml:"name"`
	Inputs map[string]any `yaml:"inputs"`
}

// Address returns the "type.name" key the resource is tracked under.
func (d Desired) Address() string {
	return d.Type + "." + d.Name
}

// Action is what the plan decided for one resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoop    Action = "noop"
)

// Change pairs a resource with the action that converges it.
type Change struct {
	Address string
	Action  Action
	Desired *Desired
	Record  *statefile.Record
	Diff    *diff.Result
	// Resume marks a change that retries an operation a previous run left
	// mid-flight.
	Resume bool
}

// Summary counts planned actions by kind.
type Summary struct {
	Create  int
	Update  int
	Replace int
	Delete  int
	Noop    int
}

// Plan is an ordered list of changes. Creates and updates run in file order,
// deletions of removed resources run after them in reverse snapshot order.
type Plan struct {
	Changes []Change
	Summary Summary
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}

// Reconciler plans and applies deployments.
type Reconciler struct {
	registry *registry.Registry
	tracker  *session.Tracker
	store    statefile.Store
	opts     session.Options
}

func New(reg *registry.Registry, store statefile.Store, opts session.Options) *Reconciler {
	return &Reconciler{
		registry: reg,
		tracker:  session.NewTracker(),
		store:    store,
		opts:     opts,
	}
}

// Plan computes the changes that converge the snapshot onto the desired
// resources. Planning uses diff sessions only, so it never touches the
// external systems.
func (r *Reconciler) Plan(ctx context.Context, desired []Desired) (*Plan, *statefile.Snapshot, error) {
	snap, err := r.store.Read(ctx)
	if err != nil {
		return nil, nil, err
	}

	sess := session.New(r.registry, r.tracker, session.Options{
		Preview: true,
		Timeout: r.opts.Timeout,
		Retry:   r.opts.Retry,
	})

	plan := &Plan{}
	desiredSet := make(map[string]bool, len(desired))

	for i := range desired {
		d := &desired[i]
		addr := d.Address()
		if desiredSet[addr] {
			return nil, nil, fmt.Errorf("duplicate resource %s in deployment", addr)
		}
		desiredSet[addr] = true

		rec := snap.Find(addr)
		switch {
		case rec == nil || rec.Phase == lifecycle.Absent:
			plan.add(Change{Address: addr, Action: ActionCreate, Desired: d})

		case rec.Tainted():
			// A previous run stopped mid-operation. Retrying the create is
			// safe because controllers adopt what an earlier attempt made.
			logging.Warn("resuming tainted resource", "address", addr, "phase", string(rec.Phase))
			plan.add(Change{Address: addr, Action: ActionCreate, Desired: d, Record: rec, Resume: true})

		default:
			resp, err := sess.Execute(ctx, session.Request{
				Operation: session.OpDiff,
				Type:      d.Type,
				Name:      d.Name,
				OldInputs: rec.Inputs,
				NewInputs: resource.CopyInputs(d.Inputs),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("diff failed for %s: %w", addr, err)
			}

			switch {
			case resp.Diff.Empty():
				plan.add(Change{Address: addr, Action: ActionNoop, Desired: d, Record: rec})
			case resp.Diff.RequiresReplace:
				plan.add(Change{Address: addr, Action: ActionReplace, Desired: d, Record: rec, Diff: resp.Diff})
			default:
				plan.add(Change{Address: addr, Action: ActionUpdate, Desired: d, Record: rec, Diff: resp.Diff})
			}
		}
	}

	// Resources in the snapshot but not in the file are deleted, newest first.
	for i := len(snap.Resources) - 1; i >= 0; i-- {
		rec := &snap.Resources[i]
		if !desiredSet[rec.Address()] {
			plan.add(Change{Address: rec.Address(), Action: ActionDelete, Record: rec})
		}
	}

	return plan, snap, nil
}

func (p *Plan) add(c Change) {
	switch c.Action {
	case ActionCreate:
		p.Summary.Create++
	case ActionUpdate:
		p.Summary.Update++
	case ActionReplace:
		p.Summary.Replace++
	case ActionDelete:
		p.Summary.Delete++
	case ActionNoop:
		p.Summary.Noop++
		return
	}
	p.Changes = append(p.Changes, c)
}
