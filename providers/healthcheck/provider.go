// Package healthcheck implements an HTTP health check resource. Creating or
// updating a check probes the endpoint once and records the observation; a
// preview never probes.
package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/identity"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// TypeName is the registry key for the check resource.
const TypeName = "healthcheck.HTTP"

// Moving a check to a different endpoint is a new check.
var schema = diff.Schema{
	Fields: map[string]diff.FieldSpec{
		"name":         {Replace: true},
		"url":          {Replace: true},
		"method":       {},
		"expectStatus": {},
	},
}

// Doer is the probe transport. http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Controller drives health check resources. Checks are registered in an
// in-process table; the external side effect is the probe itself.
type Controller struct {
	doer  Doer
	token func() string

	mu     sync.Mutex
	checks map[string]map[string]any
}

func New(doer Doer) *Controller {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &Controller{
		doer:   doer,
		token:  identity.NewToken,
		checks: make(map[string]map[string]any),
	}
}

// DiffSchema exposes the static field sensitivity table.
func (c *Controller) DiffSchema() diff.Schema {
	return schema
}

func (c *Controller) Check(inputs map[string]any) (map[string]any, error) {
	name, _ := inputs["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("check requires a name")
	}

	rawURL, _ := inputs["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("check requires an absolute url, got %q", rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("check url scheme %q must be http or https", parsed.Scheme)
	}

	if _, ok := inputs["method"]; !ok {
		inputs["method"] = http.MethodGet
	}
	if _, ok := inputs["expectStatus"]; !ok {
		inputs["expectStatus"] = http.StatusOK
	}
	return inputs, nil
}

func (c *Controller) Diff(old, new map[string]any) (diff.Result, error) {
	return diff.Compute(schema, old, new), nil
}

func (c *Controller) Create(ctx context.Context, spec resource.Spec, preview bool) (lifecycle.CreateOutcome, resource.State, error) {
	name := spec.Inputs["name"].(string)

	if preview {
		outputs := resource.CopyInputs(spec.Inputs)
		outputs["healthy"] = false
		return lifecycle.Created, resource.State{
			ID:      "preview-" + identity.Slug(name),
			Inputs:  spec.Inputs,
			Outputs: outputs,
		}, nil
	}

	id := identity.New("check", name, c.token())
	logging.Debug("registering health check", "candidate_id", id, "url", spec.Inputs["url"])

	outputs, err := c.probe(ctx, spec.Inputs)
	if err != nil {
		return lifecycle.Created, resource.State{}, err
	}

	c.mu.Lock()
	c.checks[id] = resource.CopyInputs(outputs)
	c.mu.Unlock()

	return lifecycle.Created, resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}, nil
}

func (c *Controller) Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error) {
	if preview {
		outputs := resource.CopyInputs(old.Outputs)
		if outputs == nil {
			outputs = make(map[string]any)
		}
		for k, v := range spec.Inputs {
			outputs[k] = v
		}
		return resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}, nil
	}

	outputs, err := c.probe(ctx, spec.Inputs)
	if err != nil {
		return resource.State{}, err
	}

	c.mu.Lock()
	c.checks[id] = resource.CopyInputs(outputs)
	c.mu.Unlock()

	return resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}, nil
}

func (c *Controller) Delete(ctx context.Context, id string, state resource.State) (lifecycle.DeleteOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.checks[id]; !ok {
		return lifecycle.AlreadyAbsent, nil
	}
	delete(c.checks, id)
	return lifecycle.Deleted, nil
}

// probe issues one request and records what it saw. A reachable endpoint with
// the wrong status is a recorded observation, not an error; only transport
// failures fail the operation.
func (c *Controller) probe(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	method := inputs["method"].(string)
	target := inputs["url"].(string)

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe of %s failed: %w", target, err)
	}
	resp.Body.Close()

	expect := statusOf(inputs["expectStatus"])

	outputs := resource.CopyInputs(inputs)
	outputs["lastStatus"] = resp.StatusCode
	outputs["healthy"] = resp.StatusCode == expect
	outputs["lastProbedAt"] = time.Now().UTC().Format(time.RFC3339)
	return outputs, nil
}

func statusOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return http.StatusOK
}
