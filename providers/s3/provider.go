// Package s3 implements the bucket resource against any S3-compatible
// endpoint. Pointing Options.Endpoint at a MinIO server with path-style
// addressing works the same as real S3.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/reconcilr-io/reconcilr/internal/diff"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/logging"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// TypeName is the registry key for the bucket resource.
const TypeName = "s3.Bucket"

// Buckets occupy a globally unique name slot, so a replacement must vacate
// the old name before the new bucket can reuse related tooling.
var schema = diff.Schema{
	Fields: map[string]diff.FieldSpec{
		"bucket": {Replace: true},
		"tags":   {},
	},
	DeleteBeforeReplace: true,
}

// API is the slice of the S3 surface the controller needs. The real client
// satisfies it; tests inject a fake.
type API interface {
	CreateBucket(ctx context.Context, params *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	DeleteBucket(ctx context.Context, params *awss3.DeleteBucketInput, optFns ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error)
	PutBucketTagging(ctx context.Context, params *awss3.PutBucketTaggingInput, optFns ...func(*awss3.Options)) (*awss3.PutBucketTaggingOutput, error)
	DeleteBucketTagging(ctx context.Context, params *awss3.DeleteBucketTaggingInput, optFns ...func(*awss3.Options)) (*awss3.DeleteBucketTaggingOutput, error)
}

// Options configures the S3 client.
type Options struct {
	Region       string
	Endpoint     string // e.g. http://localhost:9000 for MinIO
	UsePathStyle bool
}

// NewClient builds an S3 client from the default credential chain. The
// client holds no resource-specific state and may be shared across sessions.
func NewClient(ctx context.Context, opts Options) (*awss3.Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// Controller drives bucket resources.
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
	bucket, _ := inputs["bucket"].(string)
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if len(bucket) < 3 || len(bucket) > 63 {
		return nil, fmt.Errorf("bucket name %q must be 3-63 characters", bucket)
	}
	if strings.ToLower(bucket) != bucket {
		return nil, fmt.Errorf("bucket name %q must be lowercase", bucket)
	}
	return inputs, nil
}

func (c *Controller) Diff(old, new map[string]any) (diff.Result, error) {
	return diff.Compute(schema, old, new), nil
}

// Create makes the bucket. Bucket names are globally unique, so identity is
// the external name itself rather than a freshness token: a retried create
// that hits BucketAlreadyOwnedByYou adopts the bucket it made last time.
func (c *Controller) Create(ctx context.Context, spec resource.Spec, preview bool) (lifecycle.CreateOutcome, resource.State, error) {
	bucket := spec.Inputs["bucket"].(string)

	state := resource.State{
		ID:     bucket,
		Inputs: spec.Inputs,
		Outputs: map[string]any{
			"bucket": bucket,
			"arn":    fmt.Sprintf("arn:aws:s3:::%s", bucket),
		},
	}
	if preview {
		return lifecycle.Created, state, nil
	}

	logging.Debug("creating bucket", "candidate_id", bucket)

	outcome := lifecycle.Created
	_, err := c.api.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if !isCode(err, "BucketAlreadyOwnedByYou") {
			return outcome, resource.State{}, fmt.Errorf("failed to create bucket: %w", err)
		}
		outcome = lifecycle.AlreadyExists
	}

	if err := c.putTags(ctx, bucket, spec.Inputs["tags"]); err != nil {
		return outcome, resource.State{}, err
	}

	return outcome, state, nil
}

func (c *Controller) Update(ctx context.Context, id string, old resource.State, spec resource.Spec, preview bool) (resource.State, error) {
	state := resource.State{
		ID:      id,
		Inputs:  spec.Inputs,
		Outputs: resource.CopyInputs(old.Outputs),
	}
	if state.Outputs == nil {
		state.Outputs = map[string]any{
			"bucket": id,
			"arn":    fmt.Sprintf("arn:aws:s3:::%s", id),
		}
	}
	if preview {
		return state, nil
	}

	// Overwriting the full tag set is idempotent; re-running the same update
	// converges instead of accumulating. Removing the tags input clears the
	// external tagging instead of leaving it stale.
	if err := c.syncTags(ctx, id, spec.Inputs["tags"]); err != nil {
		return resource.State{}, err
	}
	return state, nil
}

func (c *Controller) Delete(ctx context.Context, id string, state resource.State) (lifecycle.DeleteOutcome, error) {
	_, err := c.api.DeleteBucket(ctx, &awss3.DeleteBucketInput{
		Bucket: aws.String(id),
	})
	if err != nil {
		if isCode(err, "NoSuchBucket", "NotFound") {
			return lifecycle.AlreadyAbsent, nil
		}
		return lifecycle.Deleted, fmt.Errorf("failed to delete bucket: %w", err)
	}
	return lifecycle.Deleted, nil
}

// syncTags drives the external tag set to match the inputs, deleting the
// tagging configuration when no tags remain.
func (c *Controller) syncTags(ctx context.Context, bucket string, tags any) error {
	tagMap, _ := tags.(map[string]any)
	if len(tagMap) == 0 {
		_, err := c.api.DeleteBucketTagging(ctx, &awss3.DeleteBucketTaggingInput{
			Bucket: aws.String(bucket),
		})
		if err != nil && !isCode(err, "NoSuchTagSet") {
			return fmt.Errorf("failed to clear bucket tags: %w", err)
		}
		return nil
	}
	return c.putTags(ctx, bucket, tagMap)
}

func (c *Controller) putTags(ctx context.Context, bucket string, tags any) error {
	tagMap, _ := tags.(map[string]any)
	if len(tagMap) == 0 {
		return nil
	}

	var tagSet []s3types.Tag
	for k, v := range tagMap {
		tagSet = append(tagSet, s3types.Tag{
			Key:   aws.String(k),
			Value: aws.String(fmt.Sprintf("%v", v)),
		})
	}
	_, err := c.api.PutBucketTagging(ctx, &awss3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("failed to tag bucket: %w", err)
	}
	return nil
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
