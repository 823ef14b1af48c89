package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeSpec(inputs map[string]any) resource.Spec {
	return resource.Spec{Type: TypeName, Name: "build", Inputs: inputs}
}

func validInputs() map[string]any {
	return map[string]any{
		"repository": "acme/app",
		"stages":     []any{"lint", "test", "build"},
		"env":        map[string]any{"GO_VERSION": "1.25"},
	}
}

func TestCheck_Validation(t *testing.T) {
	c := New(NewMemoryStore())

	_, err := c.Check(map[string]any{"stages": []any{"test"}})
	assert.Error(t, err, "missing repository")

	_, err = c.Check(map[string]any{"repository": "acme/app"})
	assert.Error(t, err, "missing stages")

	_, err = c.Check(map[string]any{"repository": "acme/app", "stages": []any{""}})
	assert.Error(t, err, "empty stage name")

	inputs, err := c.Check(validInputs())
	require.NoError(t, err)
	assert.Equal(t, true, inputs["enabled"], "enabled defaults to true")
}

func TestCreate_ContentAddressedIdentity(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()

	// The preview id must equal the real id: the identity is a pure function
	// of the defining fields.
	_, previewed, err := c.Create(ctx, pipeSpec(validInputs()), true)
	require.NoError(t, err)
	assert.Empty(t, store.docs, "preview must not write")

	outcome, created, err := c.Create(ctx, pipeSpec(validInputs()), false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)
	assert.Equal(t, previewed.ID, created.ID)

	// An env-only change keeps the id; a stage change moves it.
	withEnv := validInputs()
	withEnv["env"] = map[string]any{"GO_VERSION": "1.24"}
	_, sameID, err := c.Create(ctx, pipeSpec(withEnv), true)
	require.NoError(t, err)
	assert.Equal(t, created.ID, sameID.ID)

	withStage := validInputs()
	withStage["stages"] = []any{"test"}
	_, otherID, err := c.Create(ctx, pipeSpec(withStage), true)
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, otherID.ID)
}

func TestCreate_RetryAdoptsSameID(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()

	outcome, first, err := c.Create(ctx, pipeSpec(validInputs()), false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)

	outcome, second, err := c.Create(ctx, pipeSpec(validInputs()), false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AlreadyExists, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.docs, 1)
}

func TestCreate_ConcurrentDistinctIDs(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()

	// Sessions on distinct ids run in parallel; every definition must land.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inputs := validInputs()
			inputs["repository"] = fmt.Sprintf("acme/app-%d", i)
			_, _, errs[i] = c.Create(ctx, pipeSpec(inputs), false)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, store.docs, 4)
}

func TestUpdate_InPlaceKeepsID(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()

	_, created, err := c.Create(ctx, pipeSpec(validInputs()), false)
	require.NoError(t, err)

	changed := validInputs()
	changed["enabled"] = false
	updated, err := c.Update(ctx, created.ID, created, pipeSpec(changed), false)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, false, updated.Outputs["enabled"])

	stored, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, false, stored["enabled"])
}

func TestUpdate_MissingDefinitionFails(t *testing.T) {
	c := New(NewMemoryStore())

	_, err := c.Update(context.Background(), "pipe-gone", resource.State{}, pipeSpec(validInputs()), false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_ToleratesAbsent(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()

	_, created, err := c.Create(ctx, pipeSpec(validInputs()), false)
	require.NoError(t, err)

	outcome, err := c.Delete(ctx, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Deleted, outcome)

	outcome, err = c.Delete(ctx, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AlreadyAbsent, outcome)
}

func TestDiff_StageChangeReplaces(t *testing.T) {
	c := New(NewMemoryStore())

	old := validInputs()
	changed := validInputs()
	changed["stages"] = []any{"test"}

	res, err := c.Diff(old, changed)
	require.NoError(t, err)
	assert.True(t, res.RequiresReplace)
	assert.False(t, res.DeleteBeforeReplace, "definitions do not contend for a name slot")

	envOnly := validInputs()
	envOnly["env"] = map[string]any{"GO_VERSION": "1.24"}
	res, err = c.Diff(old, envOnly)
	require.NoError(t, err)
	assert.False(t, res.RequiresReplace)
}
