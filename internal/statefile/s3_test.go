package statefile

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/reconcilr-io/reconcilr/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	raw, ok := f.data[*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(raw))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	raw, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.data[*params.Key] = raw
	return &awss3.PutObjectOutput{}, nil
}

type fakeLocks struct {
	items map[string]bool
}

func (f *fakeLocks) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := params.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if f.items[id] {
		return nil, &dbtypes.ConditionalCheckFailedException{}
	}
	f.items[id] = true
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLocks) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	id := params.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestS3Store(locks *fakeLocks) *S3Store {
	cfg := S3Config{Bucket: "state-bucket", Key: "deploy/state.json", LockTable: ""}
	if locks != nil {
		cfg.LockTable = "locks"
	}
	var lockAPI LockAPI
	if locks != nil {
		lockAPI = locks
	}
	return newS3StoreWithClients(cfg, &fakeObjects{data: make(map[string][]byte)}, lockAPI)
}

func TestS3Store_MissingObjectIsEmptyDeployment(t *testing.T) {
	store := newTestS3Store(nil)

	snap, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Resources)
	assert.NotEmpty(t, snap.Lineage)
}

func TestS3Store_RoundTrip(t *testing.T) {
	store := newTestS3Store(nil)
	ctx := context.Background()

	snap := NewSnapshot()
	snap.Upsert(RecordOf("s3.Bucket", "assets", resource.State{
		ID:      "assets-bucket",
		Outputs: map[string]any{"arn": "arn:aws:s3:::assets-bucket"},
	}))
	require.NoError(t, store.Write(ctx, snap))

	loaded, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Serial)
	rec := loaded.Find("s3.Bucket.assets")
	require.NotNil(t, rec)
	assert.Equal(t, "assets-bucket", rec.ID)
}

func TestS3Store_LockContention(t *testing.T) {
	locks := &fakeLocks{items: make(map[string]bool)}
	ctx := context.Background()

	first := newTestS3Store(locks)
	require.NoError(t, first.Lock(ctx))

	second := newTestS3Store(locks)
	err := second.Lock(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx))
}

func TestS3Store_NoLockTableIsNoop(t *testing.T) {
	store := newTestS3Store(nil)
	ctx := context.Background()

	assert.NoError(t, store.Lock(ctx))
	assert.NoError(t, store.Unlock(ctx))
}
