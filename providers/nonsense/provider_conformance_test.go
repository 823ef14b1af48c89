package nonsense

import (
	"context"
	"testing"
	"time"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/registry"
	"github.com/reconcilr-io/reconcilr/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Provider conformance suite, driven through a real session.
// It verifies the full lifecycle:
// Check -> Diff (create) -> Create -> Diff (noop) -> Diff (update) -> Update
// -> Diff (replace) -> replace -> Delete.

func conformanceSession(t *testing.T, preview bool) *session.Session {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(TypeName, New()))
	return session.New(reg, session.NewTracker(), session.Options{
		Preview: preview,
		Timeout: 5 * time.Second,
	})
}

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	s := conformanceSession(t, false)

	inputs := map[string]any{"name": "bucket-1"}

	// 1. Create
	created, err := s.Execute(ctx, session.Request{
		Operation: session.OpCreate,
		Type:      TypeName,
		Name:      "demo",
		NewInputs: inputs,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "bucket-1", created.Outputs["name"])

	// 2. Diff with identical inputs is a no-op
	same, err := s.Execute(ctx, session.Request{
		Operation: session.OpDiff,
		Type:      TypeName,
		OldInputs: inputs,
		NewInputs: inputs,
	})
	require.NoError(t, err)
	assert.True(t, same.Diff.Empty())
	assert.False(t, same.Diff.RequiresReplace)

	// 3. In-place update: same id, new output
	newInputs := map[string]any{"name": "bucket-1", "note": "new"}
	updated, err := s.Execute(ctx, session.Request{
		Operation:  session.OpUpdate,
		Type:       TypeName,
		Name:       "demo",
		ID:         created.ID,
		OldInputs:  inputs,
		OldOutputs: created.Outputs,
		NewInputs:  newInputs,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "new", updated.Outputs["note"])

	// 4. Renaming classifies as replace
	renamed := map[string]any{"name": "bucket-2", "note": "new"}
	d, err := s.Execute(ctx, session.Request{
		Operation: session.OpDiff,
		Type:      TypeName,
		OldInputs: newInputs,
		NewInputs: renamed,
	})
	require.NoError(t, err)
	require.True(t, d.Diff.RequiresReplace)

	// 5. Caller performs the replace: create new, delete old
	replacement, err := s.Execute(ctx, session.Request{
		Operation: session.OpCreate,
		Type:      TypeName,
		Name:      "demo",
		NewInputs: renamed,
	})
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, replacement.ID)

	deleted, err := s.Execute(ctx, session.Request{
		Operation:  session.OpDelete,
		Type:       TypeName,
		ID:         created.ID,
		OldInputs:  newInputs,
		OldOutputs: updated.Outputs,
	})
	require.NoError(t, err)
	assert.Equal(t, "deleted", deleted.Outcome)

	// 6. Deleting the old id again reports already-absent
	again, err := s.Execute(ctx, session.Request{
		Operation:  session.OpDelete,
		Type:       TypeName,
		ID:         created.ID,
		OldInputs:  newInputs,
		OldOutputs: updated.Outputs,
	})
	require.NoError(t, err)
	assert.Equal(t, "already-absent", again.Outcome)
}

func TestConformance_PreviewSession(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	ctrl := New()
	require.NoError(t, reg.Register(TypeName, ctrl))
	s := session.New(reg, session.NewTracker(), session.Options{Preview: true})

	created, err := s.Execute(ctx, session.Request{
		Operation: session.OpCreate,
		Type:      TypeName,
		Name:      "demo",
		NewInputs: map[string]any{"name": "bucket-1"},
	})
	require.NoError(t, err)
	assert.True(t, created.Preview)
	assert.NotEmpty(t, created.ID)

	_, err = s.Execute(ctx, session.Request{
		Operation: session.OpDelete,
		Type:      TypeName,
		ID:        created.ID,
	})
	require.NoError(t, err)

	// The external system saw nothing.
	assert.Equal(t, 0, ctrl.svc.writes)
	assert.Empty(t, ctrl.svc.notes)
}

func TestConformance_ValidationSurfacesKind(t *testing.T) {
	ctx := context.Background()
	s := conformanceSession(t, false)

	resp, err := s.Execute(ctx, session.Request{
		Operation: session.OpCreate,
		Type:      TypeName,
		Name:      "demo",
		NewInputs: map[string]any{"note": "missing name"},
	})
	require.Error(t, err)
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, lifecycle.KindValidation, resp.Error.Kind)
}
