// Package git implements the hosted repository resource against a
// GitHub-style REST API.
package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// TypeName is the registry key for the repository resource.
const TypeName = "git.Repository"

// Renaming a repository is modeled as a replace, and the owner/name slot is
// unique, so the old repository must be deleted first.
var schema = diff.Schema{
	Fields: map[string]diff.FieldSpec{
		"owner":       {Replace: true},
		"name":        {Replace: true},
		"description": {},
		"visibility":  {},
		"topics":      {},
	},
	DeleteBeforeReplace: true,
}

// Repo is the external representation of a hosted repository.
type Repo struct {
	Owner         string   `json:"owner"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Visibility    string   `json:"visibility"`
	DefaultBranch string   `json:"default_branch"`
	HTMLURL       string   `json:"html_url"`
	Topics        []string `json:"topics"`
}

// Sentinel errors the API implementations translate HTTP statuses into, so
// the controller's idempotency handling stays transport-agnostic.
var (
	ErrNotFound      = errors.New("repository not found")
	ErrAlreadyExists = errors.New("repository already exists")
)

// RepositoryAPI is the side-effecting client surface.
type RepositoryAPI interface {
	Get(ctx context.Context, owner, name string) (*Repo, error)
	Create(ctx context.Context, repo Repo) (*Repo, error)
	Edit(ctx context.Context, owner, name string, repo Repo) (*Repo, error)
	Delete(ctx context.Context, owner, name string) error
}

// Controller drives repository resources.
type Controller struct {
	api RepositoryAPI
}

func New(api RepositoryAPI) *Controller {
	return &Controller{api: api}
}

// DiffSchema exposes the static field sensitivity table.
func (c *Controller) DiffSchema() diff.Schema {
	return schema
}

func (c *Controller) Check(inputs map[string]any) (map[string]any, error) {
	owner, _ := inputs["owner"].(string)
	name, _ := inputs["name"].(string)
	if owner == "" || name == "" {
		return nil, fmt.Errorf("repository requires owner and name")
	}

	visibility, _ := inputs["visibility"].(string)
	switch visibility {
	case "":
		inputs["visibility"] = "private"
	case "public", "private", "internal":
	default:
		return nil, fmt.Errorf("visibility %q must be public, private or internal", visibility)
	}
	return inputs, nil
}

func (c *Controller) Diff(old, new map[string]any) (diff.Result, error) {
	return diff.Compute(schema, old, new), nil
}

// Create makes the repository. The owner/name pair is the unique external
// identity; a retried create that observes "already exists" adopts the
// repository instead of failing.
func (c *Controller) Create(ctx context.Context, spec resource.Spec, preview bool) (lifecycle.CreateOutcome, resource.State, error) {
	desired := repoFromInputs(spec.Inputs)
	id := desired.Owner + "/" + desired.Name

	if preview {
		return lifecycle.Created, resource.State{
			ID:      id,
			Inputs:  spec.Inputs,
			Outputs: outputsOf(&desired),
		}, nil
	}

	logging.Debug("creating repository", "candidate_id", id)

	outcome := lifecycle.Created
	created, err := c.api.Create(ctx, desired)
	if err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return outcome, resource.State{}, fmt.Errorf("failed to create repository: %w", err)
		}
		outcome = lifecycle.AlreadyExists
		created, err = c.api.Get(ctx, desired.Owner, desired.Name)
		if err != nil {
			return outcome, resource.State{}, fmt.Errorf("failed to adopt existing repository: %w", err)
		}
	}

	return outcome, resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputsOf(created)}, nil
}

func (c *Controller) Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error) {
	desired := repoFromInputs(spec.Inputs)

	if preview {
		outputs := resource.CopyInputs(old.Outputs)
		if outputs == nil {
			outputs = make(map[string]any)
		}
		for k, v := range outputsOf(&desired) {
			if v != "" && v != nil {
				outputs[k] = v
			}
		}
		return resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}, nil
	}

	edited, err := c.api.Edit(ctx, desired.Owner, desired.Name, desired)
	if err != nil {
		return resource.State{}, fmt.Errorf("failed to update repository: %w", err)
	}

	// Seed from prior outputs, overwrite with what the edit reported back.
	outputs := resource.CopyInputs(old.Outputs)
	if outputs == nil {
		outputs = make(map[string]any)
	}
	for k, v := range outputsOf(edited) {
		outputs[k] = v
	}
	return resource.State{ID: id, Inputs: spec.Inputs, Outputs: outputs}, nil
}

func (c *Controller) Delete(ctx context.Context, id string, state resource.State) (lifecycle.DeleteOutcome, error) {
	repo := repoFromInputs(state.Inputs)
	if repo.Owner == "" || repo.Name == "" {
		// Fall back to the id, which is owner/name by construction.
		for i := 0; i < len(id); i++ {
			if id[i] == '/' {
				repo.Owner, repo.Name = id[:i], id[i+1:]
				break
			}
		}
	}

	err := c.api.Delete(ctx, repo.Owner, repo.Name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return lifecycle.AlreadyAbsent, nil
		}
		return lifecycle.Deleted, fmt.Errorf("failed to delete repository: %w", err)
	}
	return lifecycle.Deleted, nil
}

func repoFromInputs(inputs map[string]any) Repo {
	repo := Repo{}
	repo.Owner, _ = inputs["owner"].(string)
	repo.Name, _ = inputs["name"].(string)
	repo.Description, _ = inputs["description"].(string)
	repo.Visibility, _ = inputs["visibility"].(string)
	if topics, ok := inputs["topics"].([]any); ok {
		for _, topic := range topics {
			repo.Topics = append(repo.Topics, fmt.Sprintf("%v", topic))
		}
	}
	return repo
}

func outputsOf(repo *Repo) map[string]any {
	topics := make([]any, len(repo.Topics))
	for i, topic := range repo.Topics {
		topics[i] = topic
	}
	return map[string]any{
		"owner":         repo.Owner,
		"name":          repo.Name,
		"fullName":      repo.Owner + "/" + repo.Name,
		"description":   repo.Description,
		"visibility":    repo.Visibility,
		"defaultBranch": repo.DefaultBranch,
		"htmlUrl":       repo.HTMLURL,
		"topics":        topics,
	}
}
