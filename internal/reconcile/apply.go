package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
	"github.com/reconcilr-io/reconcilr/internal/session"
	"github.com/reconcilr-io/reconcilr/internal/statefile"
)

// Event reports progress on one change during apply.
type Event struct {
	Address  string
	Action   Action
	Outcome  string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Err      error
}

// Callback receives apply events if set.
type Callback func(Event)

// Apply executes the plan against the snapshot. Changes run one at a time;
// before each external operation the resource's record is written in its
// in-flight phase, so a crash leaves a tainted record the next run resumes
// from. In preview mode nothing is persisted and deletes never dispatch.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan, snap *statefile.Snapshot, cb Callback) (*statefile.Snapshot, error) {
	sess := session.New(r.registry, r.tracker, r.opts)

	for _, change := range plan.Changes {
		if err := ctx.Err(); err != nil {
			return snap, fmt.Errorf("apply cancelled: %w", err)
		}

		start := time.Now()
		emit(cb, Event{Address: change.Address, Action: change.Action, Status: "started"})

		outcome, err := r.applyChange(ctx, sess, change, snap)
		if err != nil {
			emit(cb, Event{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Err: err})
			return snap, fmt.Errorf("%s failed for %s: %w", change.Action, change.Address, err)
		}
		emit(cb, Event{Address: change.Address, Action: change.Action, Outcome: outcome, Status: "completed", Duration: time.Since(start)})
	}

	return snap, nil
}

func (r *Reconciler) applyChange(ctx context.Context, sess *session.Session, change Change, snap *statefile.Snapshot) (string, error) {
	logging.Debug("applying change", "address", change.Address, "action", string(change.Action))

	switch change.Action {
	case ActionCreate:
		return r.applyCreate(ctx, sess, change, snap)
	case ActionUpdate:
		return r.applyUpdate(ctx, sess, change, snap)
	case ActionReplace:
		return r.applyReplace(ctx, sess, change, snap)
	case ActionDelete:
		return r.applyDelete(ctx, sess, change, snap)
	}
	return "", fmt.Errorf("unknown action %q", change.Action)
}

func (r *Reconciler) applyCreate(ctx context.Context, sess *session.Session, change Change, snap *statefile.Snapshot) (string, error) {
	d := change.Desired

	rec := statefile.Record{
		Type:   d.Type,
		Name:   d.Name,
		Phase:  lifecycle.Creating,
		Inputs: resource.CopyInputs(d.Inputs),
	}
	if change.Resume && change.Record != nil {
		rec.ID = change.Record.ID
	}
	if err := r.mark(ctx, snap, rec); err != nil {
		return "", err
	}

	resp, err := sess.Execute(ctx, session.Request{
		Operation: session.OpCreate,
		Type:      d.Type,
		Name:      d.Name,
		ID:        rec.ID,
		NewInputs: resource.CopyInputs(d.Inputs),
	})
	if err != nil {
		return "", err
	}

	return resp.Outcome, r.settle(ctx, snap, statefile.RecordOf(d.Type, d.Name, resource.State{
		ID:      resp.ID,
		Inputs:  d.Inputs,
		Outputs: resp.Outputs,
	}))
}

func (r *Reconciler) applyUpdate(ctx context.Context, sess *session.Session, change Change, snap *statefile.Snapshot) (string, error) {
	d, old := change.Desired, change.Record

	rec := *old
	rec.Phase = lifecycle.Updating
	if err := r.mark(ctx, snap, rec); err != nil {
		return "", err
	}

	resp, err := sess.Execute(ctx, session.Request{
		Operation:  session.OpUpdate,
		Type:       d.Type,
		Name:       d.Name,
		ID:         old.ID,
		OldInputs:  old.Inputs,
		OldOutputs: old.Outputs,
		NewInputs:  resource.CopyInputs(d.Inputs),
	})
	if err != nil {
		return "", err
	}

	return resp.Outcome, r.settle(ctx, snap, statefile.RecordOf(d.Type, d.Name, resource.State{
		ID:      resp.ID,
		Inputs:  d.Inputs,
		Outputs: resp.Outputs,
	}))
}

// applyReplace tears down and recreates the resource. Default order is
// create-then-delete so the old resource keeps serving until the new one is
// up; schemas that pin a unique external slot flip to delete-before-replace.
func (r *Reconciler) applyReplace(ctx context.Context, sess *session.Session, change Change, snap *statefile.Snapshot) (string, error) {
	d, old := change.Desired, change.Record
	deleteFirst := change.Diff != nil && change.Diff.DeleteBeforeReplace

	rec := *old
	rec.Phase = lifecycle.Replacing
	if err := r.mark(ctx, snap, rec); err != nil {
		return "", err
	}

	deleteOld := func() error {
		_, err := sess.Execute(ctx, session.Request{
			Operation: session.OpDelete,
			Type:      old.Type,
			Name:      old.Name,
			ID:        old.ID,
			OldInputs: old.Inputs,
		})
		return err
	}

	if deleteFirst {
		if err := deleteOld(); err != nil {
			return "", err
		}
	}

	resp, err := sess.Execute(ctx, session.Request{
		Operation: session.OpCreate,
		Type:      d.Type,
		Name:      d.Name,
		NewInputs: resource.CopyInputs(d.Inputs),
	})
	if err != nil {
		return "", err
	}

	// The create leg must produce a distinct instance. If it adopted the
	// resource slated for deletion instead, deleting the old id would destroy
	// the only copy; the provider's schema needs DeleteBeforeReplace set.
	if resp.ID == old.ID {
		return "", fmt.Errorf("replacement of %s adopted the existing resource %s instead of creating a new one; refusing to delete it", change.Address, old.ID)
	}

	if !deleteFirst {
		if err := deleteOld(); err != nil {
			return "", err
		}
	}

	return "replaced", r.settle(ctx, snap, statefile.RecordOf(d.Type, d.Name, resource.State{
		ID:      resp.ID,
		Inputs:  d.Inputs,
		Outputs: resp.Outputs,
	}))
}

func (r *Reconciler) applyDelete(ctx context.Context, sess *session.Session, change Change, snap *statefile.Snapshot) (string, error) {
	old := change.Record

	rec := *old
	rec.Phase = lifecycle.Deleting
	if err := r.mark(ctx, snap, rec); err != nil {
		return "", err
	}

	resp, err := sess.Execute(ctx, session.Request{
		Operation: session.OpDelete,
		Type:      old.Type,
		Name:      old.Name,
		ID:        old.ID,
		OldInputs: old.Inputs,
	})
	if err != nil {
		return "", err
	}

	if !r.opts.Preview {
		snap.Remove(old.Address())
		if err := r.store.Write(ctx, snap); err != nil {
			return "", err
		}
	}
	return resp.Outcome, nil
}

// mark persists the record in its in-flight phase before the external call.
func (r *Reconciler) mark(ctx context.Context, snap *statefile.Snapshot, rec statefile.Record) error {
	if r.opts.Preview {
		return nil
	}
	snap.Upsert(rec)
	return r.store.Write(ctx, snap)
}

// settle persists the record after the external call landed.
func (r *Reconciler) settle(ctx context.Context, snap *statefile.Snapshot, rec statefile.Record) error {
	if r.opts.Preview {
		return nil
	}
	snap.Upsert(rec)
	return r.store.Write(ctx, snap)
}

func emit(cb Callback, event Event) {
	if cb != nil {
		cb(event)
	}
}
