package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkSpec(inputs map[string]any) resource.Spec {
	return resource.Spec{Type: TypeName, Name: "api", Inputs: inputs}
}

// countingServer returns the configured status and counts probes.
func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var probes atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &probes
}

func TestCheck_Validation(t *testing.T) {
	c := New(nil)

	_, err := c.Check(map[string]any{"url": "https://example.com/healthz"})
	assert.Error(t, err, "missing name")

	_, err = c.Check(map[string]any{"name": "api", "url": "/healthz"})
	assert.Error(t, err, "relative url")

	_, err = c.Check(map[string]any{"name": "api", "url": "ftp://example.com"})
	assert.Error(t, err, "unsupported scheme")

	inputs, err := c.Check(map[string]any{"name": "api", "url": "https://example.com/healthz"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, inputs["method"])
	assert.Equal(t, http.StatusOK, inputs["expectStatus"])
}

func TestCreate_Preview_NeverProbes(t *testing.T) {
	server, probes := countingServer(t, http.StatusOK)
	c := New(server.Client())

	inputs, err := c.Check(map[string]any{"name": "api", "url": server.URL})
	require.NoError(t, err)

	outcome, state, err := c.Create(context.Background(), checkSpec(inputs), true)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)
	assert.Contains(t, state.ID, "preview-")
	assert.Zero(t, probes.Load())
}

func TestCreate_ProbesAndRecords(t *testing.T) {
	server, probes := countingServer(t, http.StatusOK)
	c := New(server.Client())
	ctx := context.Background()

	inputs, err := c.Check(map[string]any{"name": "api", "url": server.URL})
	require.NoError(t, err)

	outcome, state, err := c.Create(ctx, checkSpec(inputs), false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)
	assert.Equal(t, int64(1), probes.Load())
	assert.Equal(t, true, state.Outputs["healthy"])
	assert.Equal(t, http.StatusOK, state.Outputs["lastStatus"])
	assert.NotEmpty(t, state.Outputs["lastProbedAt"])
}

func TestCreate_UnexpectedStatusIsUnhealthyNotError(t *testing.T) {
	server, _ := countingServer(t, http.StatusServiceUnavailable)
	c := New(server.Client())

	inputs, err := c.Check(map[string]any{"name": "api", "url": server.URL})
	require.NoError(t, err)

	_, state, err := c.Create(context.Background(), checkSpec(inputs), false)
	require.NoError(t, err, "a reachable but unhealthy endpoint is an observation")
	assert.Equal(t, false, state.Outputs["healthy"])
	assert.Equal(t, http.StatusServiceUnavailable, state.Outputs["lastStatus"])
}

func TestCreate_TransportFailureErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(nil)
	inputs, err := c.Check(map[string]any{"name": "api", "url": url})
	require.NoError(t, err)

	_, _, err = c.Create(context.Background(), checkSpec(inputs), false)
	assert.Error(t, err)
}

func TestUpdate_Reprobes(t *testing.T) {
	server, probes := countingServer(t, http.StatusOK)
	c := New(server.Client())
	ctx := context.Background()

	inputs, err := c.Check(map[string]any{"name": "api", "url": server.URL})
	require.NoError(t, err)

	_, created, err := c.Create(ctx, checkSpec(inputs), false)
	require.NoError(t, err)

	changed, err := c.Check(map[string]any{"name": "api", "url": server.URL, "method": http.MethodHead})
	require.NoError(t, err)

	updated, err := c.Update(ctx, created.ID, created, checkSpec(changed), false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, int64(2), probes.Load())
}

func TestUpdate_Preview_NeverProbes(t *testing.T) {
	server, probes := countingServer(t, http.StatusOK)
	c := New(server.Client())

	inputs, err := c.Check(map[string]any{"name": "api", "url": server.URL})
	require.NoError(t, err)

	state, err := c.Update(context.Background(), "check-api-abc", resource.State{ID: "check-api-abc"}, checkSpec(inputs), true)
	require.NoError(t, err)
	assert.Equal(t, "check-api-abc", state.ID)
	assert.Zero(t, probes.Load())
}

func TestDelete_ToleratesAbsent(t *testing.T) {
	server, _ := countingServer(t, http.StatusOK)
	c := New(server.Client())
	ctx := context.Background()

	inputs, err := c.Check(map[string]any{"name": "api", "url": server.URL})
	require.NoError(t, err)

	_, created, err := c.Create(ctx, checkSpec(inputs), false)
	require.NoError(t, err)

	outcome, err := c.Delete(ctx, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Deleted, outcome)

	outcome, err = c.Delete(ctx, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AlreadyAbsent, outcome)
}

func TestDiff_URLChangeReplaces(t *testing.T) {
	c := New(nil)

	res, err := c.Diff(
		map[string]any{"name": "api", "url": "https://a.example.com"},
		map[string]any{"name": "api", "url": "https://b.example.com"},
	)
	require.NoError(t, err)
	assert.True(t, res.RequiresReplace)

	res, err = c.Diff(
		map[string]any{"name": "api", "url": "https://a.example.com", "method": "GET"},
		map[string]any{"name": "api", "url": "https://a.example.com", "method": "HEAD"},
	)
	require.NoError(t, err)
	assert.False(t, res.RequiresReplace)
}
