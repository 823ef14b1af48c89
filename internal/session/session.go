// Package session hosts the per-invocation reconciliation context. A Session
// dispatches a single request (create, update, delete or diff) through the
// provider registry to the matching lifecycle controller, enforcing preview
// purity, per-resource mutual exclusion, per-operation timeouts and retry of
// transient external failures, and reports a structured result back to the
// caller.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/registry"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// Op names a lifecycle operation on the request/response surface.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpDiff   Op = "diff"
)

// Request is a single reconciliation request from the orchestrator. The
// orchestrator owns durable state, so updates and deletes carry the prior
// inputs and outputs it recorded.
type Request struct {
	Operation  Op             `json:"operation"`
	Type       string         `json:"resourceType"`
	Name       string         `json:"name,omitempty"`
	ID         string         `json:"resourceId,omitempty"`
	OldInputs  map[string]any `json:"oldInputs,omitempty"`
	OldOutputs map[string]any `json:"oldOutputs,omitempty"`
	NewInputs  map[string]any `json:"newInputs,omitempty"`
}

// ErrorDetail is the wire form of a failed operation.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the result of a single request. Exactly one of the payload
// shapes is populated depending on the operation; Error is set when the
// operation failed.
type Response struct {
	ID      string         `json:"id,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Diff    *diff.Result   `json:"diff,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Preview bool           `json:"preview,omitempty"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

// Options configures a session.
type Options struct {
	// Preview makes every operation side-effect free: create and update
	// project their result, and delete is never dispatched at all.
	Preview bool

	// Timeout bounds each create/update/delete/diff call. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Retry governs retries of transient external failures. Nil means
	// DefaultRetryPolicy.
	Retry *RetryPolicy
}

// Session is created per top-level operation invocation and discarded when
// it returns. Sessions share the registry and tracker; everything else is
// per-session. The side-effecting clients themselves live inside the
// registered controllers and may be shared freely, as they hold no
// resource-specific mutable state.
type Session struct {
	registry *registry.Registry
	tracker  *Tracker
	preview  bool
	timeout  time.Duration
	retry    *RetryPolicy
	log      *slog.Logger
}

func New(reg *registry.Registry, tracker *Tracker, opts Options) *Session {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := opts.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Session{
		registry: reg,
		tracker:  tracker,
		preview:  opts.Preview,
		timeout:  timeout,
		retry:    retry,
		log:      logging.With("preview", opts.Preview),
	}
}

// Preview reports whether this is a dry-run session.
func (s *Session) Preview() bool {
	return s.preview
}

// Execute runs one request to completion. On failure the returned response
// carries the structured error detail alongside the returned error, so the
// caller can relay it on the wire or inspect the kind programmatically.
func (s *Session) Execute(ctx context.Context, req Request) (*Response, error) {
	resp, err := s.execute(ctx, req)
	if resp == nil {
		resp = &Response{}
	}
	resp.Preview = s.preview
	if err != nil {
		resp.Error = detailOf(err)
		s.log.Warn("operation failed",
			"op", string(req.Operation), "type", req.Type, "name", req.Name,
			"kind", resp.Error.Kind, "error", err)
	}
	return resp, err
}

func (s *Session) execute(ctx context.Context, req Request) (*Response, error) {
	if req.Type == "" {
		return nil, lifecycle.Validationf("request is missing a resource type")
	}

	ctrl, err := s.registry.Get(req.Type)
	if err != nil {
		return nil, err
	}

	switch req.Operation {
	case OpDiff:
		return s.doDiff(ctrl, req)
	case OpCreate:
		return s.doCreate(ctx, ctrl, req)
	case OpUpdate:
		return s.doUpdate(ctx, ctrl, req)
	case OpDelete:
		return s.doDelete(ctx, ctrl, req)
	default:
		return nil, lifecycle.Validationf("unknown operation %q", string(req.Operation))
	}
}

func (s *Session) doDiff(ctrl lifecycle.Controller, req Request) (*Response, error) {
	d, err := ctrl.Diff(resource.CopyInputs(req.OldInputs), resource.CopyInputs(req.NewInputs))
	if err != nil {
		if lifecycle.KindOf(err) != "" {
			return nil, err
		}
		return nil, lifecycle.Validationf("diff failed for %s.%s: %v", req.Type, req.Name, err)
	}
	return &Response{ID: req.ID, Diff: &d, Outcome: "diff"}, nil
}

func (s *Session) doCreate(ctx context.Context, ctrl lifecycle.Controller, req Request) (*Response, error) {
	if req.NewInputs == nil {
		return nil, lifecycle.Validationf("create for %s.%s has no inputs", req.Type, req.Name)
	}

	spec := resource.Spec{Type: req.Type, Name: req.Name}
	inputs, err := s.check(ctrl, spec.Address(), req.NewInputs)
	if err != nil {
		return nil, err
	}
	spec.Inputs = inputs

	// Before an id exists the address is the mutual-exclusion key; a retried
	// create against a tainted resource contends on the same key.
	key := req.ID
	if key == "" {
		key = spec.Address()
	}
	if err := s.tracker.acquire(key); err != nil {
		return nil, err
	}
	defer s.tracker.release(key)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Debug("dispatching create", "address", spec.Address())

	var outcome lifecycle.CreateOutcome
	var state resource.State
	if s.preview {
		outcome, state, err = ctrl.Create(ctx, spec, true)
	} else {
		err = retryWithBackoff(ctx, s.retry, func() error {
			var createErr error
			outcome, state, createErr = ctrl.Create(ctx, spec, false)
			return createErr
		}, IsTransient)
	}
	if err != nil {
		if lifecycle.KindOf(err) != "" {
			return nil, err
		}
		// The resource must be treated as absent or unknown, never present.
		return nil, lifecycle.CreateFailed(spec.Address(), err)
	}

	state = state.Copy()
	return &Response{ID: state.ID, Outputs: state.Outputs, Outcome: outcome.String()}, nil
}

func (s *Session) doUpdate(ctx context.Context, ctrl lifecycle.Controller, req Request) (*Response, error) {
	if req.ID == "" {
		return nil, lifecycle.Validationf("update for %s.%s has no resource id", req.Type, req.Name)
	}
	if req.NewInputs == nil {
		return nil, lifecycle.Validationf("update for %s has no inputs", req.ID)
	}

	spec := resource.Spec{Type: req.Type, Name: req.Name}
	inputs, err := s.check(ctrl, spec.Address(), req.NewInputs)
	if err != nil {
		return nil, err
	}
	spec.Inputs = inputs

	old := resource.State{
		ID:      req.ID,
		Inputs:  resource.CopyInputs(req.OldInputs),
		Outputs: resource.CopyInputs(req.OldOutputs),
	}

	// Update is only legal for non-replacing changes; the diff engine is the
	// authority on that.
	d, err := ctrl.Diff(old.Inputs, spec.Inputs)
	if err != nil {
		if lifecycle.KindOf(err) != "" {
			return nil, err
		}
		return nil, lifecycle.Validationf("diff failed for %s: %v", req.ID, err)
	}
	if d.RequiresReplace {
		return nil, lifecycle.Validationf(
			"change to %s requires replacement (changed: %v); delete and recreate instead",
			req.ID, d.Changes)
	}
	if d.Empty() {
		return &Response{ID: req.ID, Outputs: old.Outputs, Outcome: "unchanged"}, nil
	}

	if err := s.tracker.acquire(req.ID); err != nil {
		return nil, err
	}
	defer s.tracker.release(req.ID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Debug("dispatching update", "id", req.ID, "changes", d.Changes)

	var state resource.State
	if s.preview {
		state, err = ctrl.Update(ctx, req.ID, old, spec, true)
	} else {
		err = retryWithBackoff(ctx, s.retry, func() error {
			var updateErr error
			state, updateErr = ctrl.Update(ctx, req.ID, old.Copy(), spec, false)
			return updateErr
		}, IsTransient)
	}
	if err != nil {
		if lifecycle.KindOf(err) != "" {
			return nil, err
		}
		// The old state remains authoritative.
		return nil, lifecycle.UpdateFailed(req.ID, err)
	}

	state = state.Copy()
	return &Response{ID: state.ID, Outputs: state.Outputs, Outcome: "updated"}, nil
}

func (s *Session) doDelete(ctx context.Context, ctrl lifecycle.Controller, req Request) (*Response, error) {
	if req.ID == "" {
		return nil, lifecycle.Validationf("delete for %s.%s has no resource id", req.Type, req.Name)
	}

	// Delete is never dispatched to a controller in preview; the projected
	// outcome is reported without touching anything.
	if s.preview {
		s.log.Debug("preview delete, skipping dispatch", "id", req.ID)
		return &Response{ID: req.ID, Outcome: lifecycle.Deleted.String()}, nil
	}

	if err := s.tracker.acquire(req.ID); err != nil {
		return nil, err
	}
	defer s.tracker.release(req.ID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	state := resource.State{
		ID:      req.ID,
		Inputs:  resource.CopyInputs(req.OldInputs),
		Outputs: resource.CopyInputs(req.OldOutputs),
	}

	s.log.Debug("dispatching delete", "id", req.ID)

	var outcome lifecycle.DeleteOutcome
	err := retryWithBackoff(ctx, s.retry, func() error {
		var deleteErr error
		outcome, deleteErr = ctrl.Delete(ctx, req.ID, state.Copy())
		return deleteErr
	}, IsTransient)
	if err != nil {
		if lifecycle.KindOf(err) != "" {
			return nil, err
		}
		return nil, lifecycle.DeleteFailed(req.ID, err)
	}

	return &Response{ID: req.ID, Outcome: outcome.String()}, nil
}

// check runs provider validation and defaulting over a private copy of the
// inputs, before any side effect is attempted.
func (s *Session) check(ctrl lifecycle.Controller, address string, inputs map[string]any) (map[string]any, error) {
	normalized, err := ctrl.Check(resource.CopyInputs(inputs))
	if err != nil {
		if lifecycle.KindOf(err) != "" {
			return nil, err
		}
		return nil, lifecycle.Validationf("invalid inputs for %s: %v", address, err)
	}
	return normalized, nil
}

func detailOf(err error) *ErrorDetail {
	kind := lifecycle.KindOf(err)
	if kind == "" {
		kind = "InternalError"
	}
	return &ErrorDetail{Kind: kind, Message: err.Error()}
}
