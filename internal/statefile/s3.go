package statefile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the slice of S3 the remote store needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// LockAPI is the slice of DynamoDB used for the lock item.
type LockAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// S3Config configures the remote store.
type S3Config struct {
	Bucket    string
	Key       string
	Region    string
	LockTable string // optional DynamoDB table for locking
	Profile   string
}

// S3Store keeps the snapshot as an S3 object with an optional DynamoDB lock.
type S3Store struct {
	cfg     S3Config
	objects ObjectAPI
	locks   LockAPI
}

// NewS3Store builds a remote store from the default credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 state store requires a bucket")
	}
	if cfg.Key == "" {
		cfg.Key = "reconcilr/state.json"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	store := &S3Store{
		cfg:     cfg,
		objects: awss3.NewFromConfig(awsCfg),
	}
	if cfg.LockTable != "" {
		store.locks = dynamodb.NewFromConfig(awsCfg)
	}
	return store, nil
}

// newS3StoreWithClients exists for tests.
func newS3StoreWithClients(cfg S3Config, objects ObjectAPI, locks LockAPI) *S3Store {
	return &S3Store{cfg: cfg, objects: objects, locks: locks}
}

// Read loads the snapshot; a missing object is an empty deployment.
func (s *S3Store) Read(ctx context.Context) (*Snapshot, error) {
	result, err := s.objects.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey") {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state object body: %w", err)
	}
	raw, err = decrypt(raw)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse remote state: %w", err)
	}
	return &snap, nil
}

func (s *S3Store) Write(ctx context.Context, snap *Snapshot) error {
	snap.Serial++
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	raw, err = encrypt(raw)
	if err != nil {
		return err
	}

	_, err = s.objects.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.cfg.Key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	return nil
}

// Lock writes a conditional item keyed by the state path. Without a lock
// table configured, locking is a no-op.
func (s *S3Store) Lock(ctx context.Context) error {
	if s.locks == nil {
		return nil
	}

	info := fmt.Sprintf("reconcilr-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := s.locks.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.LockTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.cfg.Key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: info},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) || strings.Contains(err.Error(), "ConditionalCheckFailed") {
			return fmt.Errorf("state is locked by another process; delete the item with "+
				"LockID=%q from table %q if no other run is active", s.cfg.Key, s.cfg.LockTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (s *S3Store) Unlock(ctx context.Context) error {
	if s.locks == nil {
		return nil
	}

	_, err := s.locks.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.LockTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.cfg.Key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
