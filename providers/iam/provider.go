// Package iam implements the role resource against the IAM control plane.
package iam

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsiam "github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// TypeName is the registry key for the role resource.
const TypeName = "iam.Role"

// Role names are unique per account; a rename must vacate the slot first.
var schema = diff.Schema{
	Fields: map[string]diff.FieldSpec{
		"name":             {Replace: true},
		"assumeRolePolicy": {},
		"description":      {},
		"tags":             {},
	},
	DeleteBeforeReplace: true,
}

// API is the slice of the IAM surface the controller needs.
type API interface {
	CreateRole(ctx context.Context, params *awsiam.CreateRoleInput, optFns ...func(*awsiam.Options)) (*awsiam.CreateRoleOutput, error)
	GetRole(ctx context.Context, params *awsiam.GetRoleInput, optFns ...func(*awsiam.Options)) (*awsiam.GetRoleOutput, error)
	UpdateRole(ctx context.Context, params *awsiam.UpdateRoleInput, optFns ...func(*awsiam.Options)) (*awsiam.UpdateRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, params *awsiam.UpdateAssumeRolePolicyInput, optFns ...func(*awsiam.Options)) (*awsiam.UpdateAssumeRolePolicyOutput, error)
	TagRole(ctx context.Context, params *awsiam.TagRoleInput, optFns ...func(*awsiam.Options)) (*awsiam.TagRoleOutput, error)
	UntagRole(ctx context.Context, params *awsiam.UntagRoleInput, optFns ...func(*awsiam.Options)) (*awsiam.UntagRoleOutput, error)
	DeleteRole(ctx context.Context, params *awsiam.DeleteRoleInput, optFns ...func(*awsiam.Options)) (*awsiam.DeleteRoleOutput, error)
}

// NewClient builds an IAM client from the default credential chain.
func NewClient(ctx context.Context, region string) (*awsiam.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return awsiam.NewFromConfig(cfg), nil
}

// Controller drives role resources.
type Controller struct {
	api API
}

func New(api API) *Controller {
	return &Controller{api: api}
}

// DiffSchema exposes the static field sensitivity table.
func (c *Controller) DiffSchema() diff.Schema {
	return schema
}

func (c *Controller) Check(inputs map[string]any) (map[string]any, error) {
	name, _ := inputs["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}
	if len(name) > 64 {
		return nil, fmt.Errorf("role name %q exceeds 64 characters", name)
	}
	policy, _ := inputs["assumeRolePolicy"].(string)
	if policy == "" {
		return nil, fmt.Errorf("assumeRolePolicy is required")
	}
	return inputs, nil
}

func (c *Controller) Diff(old, new map[string]any) (diff.Result, error) {
	return diff.Compute(schema, old, new), nil
}

// Create makes the role. Identity is the role name: IAM enforces the
// uniqueness the id contract needs, and EntityAlreadyExists on a retried
// create means adopting the role created before the crash.
func (c *Controller) Create(ctx context.Context, spec resource.Spec, preview bool) (lifecycle.CreateOutcome, resource.State, error) {
	name := spec.Inputs["name"].(string)

	if preview {
		return lifecycle.Created, resource.State{
			ID:     name,
			Inputs: spec.Inputs,
			Outputs: map[string]any{
				"name": name,
			},
		}, nil
	}

	logging.Debug("creating role", "candidate_id", name)

	input := &awsiam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(spec.Inputs["assumeRolePolicy"].(string)),
	}
	if desc, ok := spec.Inputs["description"].(string); ok && desc != "" {
		input.Description = aws.String(desc)
	}
	for k, v := range tagMap(spec.Inputs["tags"]) {
		input.Tags = append(input.Tags, iamtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	outcome := lifecycle.Created
	var arn, roleID string

	resp, err := c.api.CreateRole(ctx, input)
	switch {
	case err == nil:
		arn = aws.ToString(resp.Role.Arn)
		roleID = aws.ToString(resp.Role.RoleId)
	case isCode(err, "EntityAlreadyExists"):
		got, getErr := c.api.GetRole(ctx, &awsiam.GetRoleInput{RoleName: aws.String(name)})
		if getErr != nil {
			return outcome, resource.State{}, fmt.Errorf("failed to adopt existing role: %w", getErr)
		}
		outcome = lifecycle.AlreadyExists
		arn = aws.ToString(got.Role.Arn)
		roleID = aws.ToString(got.Role.RoleId)
	default:
		return outcome, resource.State{}, fmt.Errorf("failed to create role: %w", err)
	}

	return outcome, resource.State{
		ID:     name,
		Inputs: spec.Inputs,
		Outputs: map[string]any{
			"name":   name,
			"arn":    arn,
			"roleId": roleID,
		},
	}, nil
}

func (c *Controller) Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error) {
	state := resource.State{
		ID:      id,
		Inputs:  spec.Inputs,
		Outputs: resource.CopyInputs(old.Outputs),
	}
	if state.Outputs == nil {
		state.Outputs = map[string]any{"name": id}
	}
	if preview {
		return state, nil
	}

	// The description is always sent so removing it from the inputs clears
	// the stored one instead of leaving it behind.
	desc, _ := spec.Inputs["description"].(string)
	_, err := c.api.UpdateRole(ctx, &awsiam.UpdateRoleInput{
		RoleName:    aws.String(id),
		Description: aws.String(desc),
	})
	if err != nil {
		return resource.State{}, fmt.Errorf("failed to update role description: %w", err)
	}

	if policy, ok := spec.Inputs["assumeRolePolicy"].(string); ok && policy != "" {
		_, err := c.api.UpdateAssumeRolePolicy(ctx, &awsiam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(id),
			PolicyDocument: aws.String(policy),
		})
		if err != nil {
			return resource.State{}, fmt.Errorf("failed to update assume role policy: %w", err)
		}
	}

	tags := tagMap(spec.Inputs["tags"])
	if len(tags) > 0 {
		input := &awsiam.TagRoleInput{RoleName: aws.String(id)}
		for k, v := range tags {
			input.Tags = append(input.Tags, iamtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		if _, err := c.api.TagRole(ctx, input); err != nil {
			return resource.State{}, fmt.Errorf("failed to tag role: %w", err)
		}
	}

	// Keys that were applied before but dropped from the inputs are untagged.
	var removed []string
	for k := range tagMap(old.Inputs["tags"]) {
		if _, ok := tags[k]; !ok {
			removed = append(removed, k)
		}
	}
	if len(removed) > 0 {
		_, err := c.api.UntagRole(ctx, &awsiam.UntagRoleInput{
			RoleName: aws.String(id),
			TagKeys:  removed,
		})
		if err != nil {
			return resource.State{}, fmt.Errorf("failed to untag role: %w", err)
		}
	}

	return state, nil
}

func (c *Controller) Delete(ctx context.Context, id string, state resource.State) (lifecycle.DeleteOutcome, error) {
	_, err := c.api.DeleteRole(ctx, &awsiam.DeleteRoleInput{RoleName: aws.String(id)})
	if err != nil {
		if isCode(err, "NoSuchEntity") {
			return lifecycle.AlreadyAbsent, nil
		}
		return lifecycle.Deleted, fmt.Errorf("failed to delete role: %w", err)
	}
	return lifecycle.Deleted, nil
}

func tagMap(v any) map[string]string {
	m, _ := v.(map[string]any)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}

func isCode(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, code := range codes {
		if ae.ErrorCode() == code {
			return true
		}
	}
	return false
}
